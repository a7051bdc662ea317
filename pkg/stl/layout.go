// Package stl reconstructs the standard library containers of a native
// process (ordered maps and sets, backed by red-black trees, doubly
// linked lists and vectors) from a raw memory image, using only the fixed
// field offsets of the MSVC layouts.
package stl

import (
	"fmt"

	"github.com/go-ndbg/ndbg/pkg/proc"
)

// Kind is the type of a container.
type Kind uint8

const (
	Map Kind = iota
	Set
	List
	Vector
)

func (k Kind) String() string {
	switch k {
	case Map:
		return "map"
	case Set:
		return "set"
	case List:
		return "list"
	case Vector:
		return "vector"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsTree returns true for containers backed by a tree.
func (k Kind) IsTree() bool {
	return k == Map || k == Set
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "map":
		return Map, nil
	case "set":
		return Set, nil
	case "list":
		return List, nil
	case "vector":
		return Vector, nil
	}
	return 0, fmt.Errorf("unknown container kind %q", s)
}

// Layout holds the byte offsets of the fields of a container and of its
// nodes. Offsets of the container fields are relative to the container's
// address, offsets of node fields are relative to the node's address.
//
// Tree nodes use Left, Parent, Right and Value. List nodes use Next, Prev
// and Value. Vectors have no nodes, their elements are stored contiguously
// between First and Last.
type Layout struct {
	PtrSize int

	Root uint64 // root sentinel node for trees, head sentinel node for lists
	Size uint64

	First uint64
	Last  uint64
	End   uint64

	Left   uint64
	Parent uint64
	Right  uint64

	Next uint64
	Prev uint64

	Value uint64
}

// LayoutFor returns the layout of containers of kind k in a process with
// pointers ptrSize bytes wide.
func LayoutFor(k Kind, ptrSize int) (Layout, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return Layout{}, fmt.Errorf("%w: %d", proc.ErrUnsupportedPtrSize, ptrSize)
	}
	w := uint64(ptrSize)
	l := Layout{PtrSize: ptrSize}
	switch {
	case k.IsTree():
		l.Root = w
		l.Size = 2 * w
		l.Left = 0
		l.Parent = w
		l.Right = 2 * w
		// The color and isnil bytes that follow the pointers are padded
		// differently on the two architectures.
		if ptrSize == 4 {
			l.Value = 0xc
		} else {
			l.Value = 0x1c
		}
	case k == List:
		l.Root = w
		l.Size = 2 * w
		l.Next = 0
		l.Prev = w
		l.Value = 2 * w
	case k == Vector:
		l.First = w
		l.Last = 2 * w
		l.End = 3 * w
	default:
		return Layout{}, fmt.Errorf("unknown container kind %v", k)
	}
	return l, nil
}
