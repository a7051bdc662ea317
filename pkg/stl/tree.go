package stl

import (
	"fmt"
)

type treeFrame struct {
	node, left uint64
}

// walkTree visits in order the tree whose sentinel node is root. The
// sentinel's parent is the topmost element node, and every child pointer
// equal to root marks a missing child. Child pointers that decode to zero,
// which is what a failed read returns, are also treated as missing.
func (c *Cursor) walkTree(root, size uint64) error {
	head := c.mem.Pointer(root + c.layout.Parent)
	if c.cfg.Verbose {
		fmt.Fprintf(c.out, "v:Head=%s\n", c.mem.FormatAddr(head))
	}

	noChild := func(n uint64) bool {
		return n == root || n == 0
	}

	stack := make([]treeFrame, 0, 64)
	n := head
	for {
		for !noChild(n) {
			if len(stack) >= c.cfg.MaxDepth {
				return &DepthError{Addr: n, Depth: c.cfg.MaxDepth}
			}
			left := c.mem.Pointer(n + c.layout.Left)
			stack = append(stack, treeFrame{node: n, left: left})
			n = left
		}
		if len(stack) == 0 {
			return nil
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		right := c.mem.Pointer(f.node + c.layout.Right)
		value := f.node + c.layout.Value

		if c.admit() {
			if c.cfg.Verbose {
				fmt.Fprintf(c.out, "v:CurrentNode(Address=%s, Left=%s, Value=%s, Right=%s)\n",
					c.mem.FormatAddr(f.node), c.mem.FormatAddr(f.left), c.mem.FormatAddr(value), c.mem.FormatAddr(right))
			}
			c.emit(value)
		} else {
			c.skipped(f.node)
		}
		if c.done(size) {
			return nil
		}

		n = right
	}
}
