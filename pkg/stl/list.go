package stl

import (
	"fmt"

	"github.com/go-ndbg/ndbg/pkg/logflags"
)

// walkList visits the circular list whose sentinel node is head. The walk
// is bounded by size, never by reaching head again, so a corrupt next
// pointer cannot make it loop forever.
func (c *Cursor) walkList(head, size uint64) error {
	if c.cfg.Verbose {
		fmt.Fprintf(c.out, "v:Head=%s\n", c.mem.FormatAddr(head))
	}

	cur := c.mem.Pointer(head + c.layout.Next)
	for {
		if cur == 0 {
			// The failed read was already reported, there is nothing
			// left to follow.
			if logflags.Walker() {
				c.log.Debugf("list at %#x broken after %d of %d elements", c.cfg.Addr, c.count, size)
			}
			return nil
		}

		value := cur + c.layout.Value
		if c.admit() {
			if c.cfg.Verbose {
				fmt.Fprintf(c.out, "v:CurrentNode(Address=%s, Value=%s)\n", c.mem.FormatAddr(cur), c.mem.FormatAddr(value))
			}
			c.emit(value)
		} else {
			c.skipped(cur)
		}
		if c.done(size) {
			return nil
		}

		cur = c.mem.Pointer(cur + c.layout.Next)
	}
}
