// Package test contains helpers to build synthetic memory images of
// native containers, laid out the way the MSVC standard library lays them
// out, for use in tests.
package test

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// FakeMemory is a sparse, byte addressable memory image.
type FakeMemory struct {
	bytes  map[uint64]byte
	faults map[uint64]bool
}

// NewFakeMemory returns an empty memory image.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{bytes: map[uint64]byte{}, faults: map[uint64]bool{}}
}

// Write stores data at addr.
func (m *FakeMemory) Write(addr uint64, data []byte) {
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
}

// Fault makes every read that touches addr fail.
func (m *FakeMemory) Fault(addr uint64) {
	m.faults[addr] = true
}

// ReadMemory implements proc.MemoryReader. A read stops at the first byte
// that was never written.
func (m *FakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	for i := range buf {
		if m.faults[addr+uint64(i)] {
			return 0, fmt.Errorf("fault at %#x", addr+uint64(i))
		}
	}
	for i := range buf {
		b, ok := m.bytes[addr+uint64(i)]
		if !ok {
			return i, fmt.Errorf("address %#x not mapped", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

// Image allocates container structures inside a FakeMemory.
type Image struct {
	*FakeMemory
	PtrSize int
	next    uint64
}

// NewImage returns an empty image for a process with the given pointer
// size.
func NewImage(ptrSize int) *Image {
	return &Image{FakeMemory: NewFakeMemory(), PtrSize: ptrSize, next: 0x10000}
}

// Alloc reserves n bytes, zero filled and 16 byte aligned.
func (im *Image) Alloc(n int) uint64 {
	addr := im.next
	im.Write(addr, make([]byte, n))
	im.next += (uint64(n) + 15) &^ 15
	im.next += 0x10 // keep allocations apart
	return addr
}

// PutPointer writes a pointer sized value.
func (im *Image) PutPointer(addr, v uint64) {
	buf := make([]byte, im.PtrSize)
	if im.PtrSize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(v))
	} else {
		binary.LittleEndian.PutUint64(buf, v)
	}
	im.Write(addr, buf)
}

// PutUint32 writes a 32 bit value.
func (im *Image) PutUint32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	im.Write(addr, buf[:])
}

func (im *Image) ptr(n int) uint64 {
	return uint64(n * im.PtrSize)
}

// TreeValueOffset returns the offset of the value inside a tree node.
func (im *Image) TreeValueOffset() uint64 {
	if im.PtrSize == 4 {
		return 0xc
	}
	return 0x1c
}

// Tree describes a tree container written by BuildTree.
type Tree struct {
	Addr uint64
	// Head is the sentinel node, the container's root pointer.
	Head uint64
	// Nodes are the element nodes in ascending key order.
	Nodes []uint64
	// Values are the value addresses in ascending key order.
	Values []uint64
}

// BuildTree writes an ordered map or set holding keys as a balanced
// binary search tree. Keys are sorted before insertion, each key is
// stored as a 32 bit integer at the value offset of its node.
func (im *Image) BuildTree(keys []uint32) *Tree {
	keys = append([]uint32(nil), keys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	nodeSize := int(im.TreeValueOffset()) + 8
	t := &Tree{}
	t.Addr = im.Alloc(3 * im.PtrSize)
	t.Head = im.Alloc(nodeSize)
	t.Nodes = make([]uint64, len(keys))
	t.Values = make([]uint64, len(keys))
	for i := range keys {
		t.Nodes[i] = im.Alloc(nodeSize)
		t.Values[i] = t.Nodes[i] + im.TreeValueOffset()
		im.PutUint32(t.Values[i], keys[i])
	}

	var build func(lo, hi int, parent uint64) uint64
	build = func(lo, hi int, parent uint64) uint64 {
		if lo >= hi {
			return t.Head
		}
		mid := (lo + hi) / 2
		n := t.Nodes[mid]
		im.PutPointer(n+im.ptr(0), build(lo, mid, n))
		im.PutPointer(n+im.ptr(1), parent)
		im.PutPointer(n+im.ptr(2), build(mid+1, hi, n))
		return n
	}
	root := build(0, len(keys), t.Head)

	if len(keys) == 0 {
		im.PutPointer(t.Head+im.ptr(0), t.Head)
		im.PutPointer(t.Head+im.ptr(1), t.Head)
		im.PutPointer(t.Head+im.ptr(2), t.Head)
	} else {
		im.PutPointer(t.Head+im.ptr(0), t.Nodes[0])
		im.PutPointer(t.Head+im.ptr(1), root)
		im.PutPointer(t.Head+im.ptr(2), t.Nodes[len(t.Nodes)-1])
	}

	im.PutPointer(t.Addr+im.ptr(1), t.Head)
	im.PutPointer(t.Addr+im.ptr(2), uint64(len(keys)))
	return t
}

// List describes a list container written by BuildList.
type List struct {
	Addr   uint64
	Head   uint64
	Nodes  []uint64
	Values []uint64
}

// BuildList writes a circular doubly linked list holding vals in order.
func (im *Image) BuildList(vals []uint32) *List {
	nodeSize := 2*im.PtrSize + 8
	l := &List{}
	l.Addr = im.Alloc(3 * im.PtrSize)
	l.Head = im.Alloc(nodeSize)
	l.Nodes = make([]uint64, len(vals))
	l.Values = make([]uint64, len(vals))
	for i := range vals {
		l.Nodes[i] = im.Alloc(nodeSize)
		l.Values[i] = l.Nodes[i] + im.ptr(2)
		im.PutUint32(l.Values[i], vals[i])
	}
	ring := append([]uint64{l.Head}, l.Nodes...)
	for i, n := range ring {
		im.PutPointer(n+im.ptr(0), ring[(i+1)%len(ring)])
		im.PutPointer(n+im.ptr(1), ring[(i+len(ring)-1)%len(ring)])
	}
	im.PutPointer(l.Addr+im.ptr(1), l.Head)
	im.PutPointer(l.Addr+im.ptr(2), uint64(len(vals)))
	return l
}

// Vector describes a vector container written by BuildVector.
type Vector struct {
	Addr uint64
	// First is the address of the element storage.
	First  uint64
	Values []uint64
}

// BuildVector writes a vector of elemSize byte elements, the first four
// bytes of element i hold vals[i]. The capacity is twice the size.
func (im *Image) BuildVector(vals []uint32, elemSize int) *Vector {
	v := &Vector{}
	v.Addr = im.Alloc(4 * im.PtrSize)
	v.Values = make([]uint64, len(vals))
	if len(vals) > 0 {
		v.First = im.Alloc(2 * len(vals) * elemSize)
	}
	for i := range vals {
		v.Values[i] = v.First + uint64(i*elemSize)
		im.PutUint32(v.Values[i], vals[i])
	}
	im.PutPointer(v.Addr+im.ptr(1), v.First)
	im.PutPointer(v.Addr+im.ptr(2), v.First+uint64(len(vals)*elemSize))
	im.PutPointer(v.Addr+im.ptr(3), v.First+uint64(2*len(vals)*elemSize))
	return v
}
