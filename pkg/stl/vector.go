package stl

import (
	"fmt"
)

// vectorBounds reads the first and last pointers of a vector and returns
// the address of its first element and its size.
func (c *Cursor) vectorBounds() (first, size uint64, err error) {
	first, err = c.mem.ReadPointer(c.cfg.Addr + c.layout.First)
	var last uint64
	if err == nil {
		last, err = c.mem.ReadPointer(c.cfg.Addr + c.layout.Last)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("could not read bounds of vector at %#x: %v", c.cfg.Addr, err)
	}
	if last < first {
		return 0, 0, fmt.Errorf("vector at %#x ends at %#x, before its first element at %#x", c.cfg.Addr, last, first)
	}
	return first, (last - first) / c.cfg.ElemSize, nil
}

// walkVector visits the elements of a vector. Elements are not linked to
// each other, the ones before the window are never read.
func (c *Cursor) walkVector(first, size uint64) error {
	if c.cfg.Verbose {
		fmt.Fprintf(c.out, "v:First=%s, ElementSize=%d\n", c.mem.FormatAddr(first), c.cfg.ElemSize)
	}
	c.count = c.cfg.Skip
	for !c.done(size) {
		value := first + c.count*c.cfg.ElemSize
		if c.admit() {
			if c.cfg.Verbose {
				fmt.Fprintf(c.out, "v:CurrentNode(Address=%s)\n", c.mem.FormatAddr(value))
			}
			c.emit(value)
		}
	}
	return nil
}
