package proc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Region describes a range of memory available in a memory source.
type Region struct {
	Addr uint64
	Size uint64
	// Desc is a short, source specific, description of the region
	// (protection flags, segment type, module name...).
	Desc string
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Addr + r.Size
}

// Target is an opened memory source: a crash dump, a core file or a live
// process. It is created by the loaders in pkg/proc/core and
// pkg/proc/native.
type Target struct {
	// Path is the file the target was loaded from, empty for live
	// processes.
	Path string
	// Kind describes the type of memory source.
	Kind string
	// Pid is the process id of the inspected process, if known.
	Pid int
	// PtrSize is the pointer size of the inspected process.
	PtrSize int
	// ByteOrder is the byte order of the inspected process.
	ByteOrder binary.ByteOrder

	Mem     MemoryReader
	Regions []Region

	closer io.Closer
}

// NewTarget returns a Target reading from mem. The closer, if not nil, is
// called by Close.
func NewTarget(kind string, mem MemoryReader, ptrSize int, closer io.Closer) *Target {
	return &Target{
		Kind:      kind,
		PtrSize:   ptrSize,
		ByteOrder: binary.LittleEndian,
		Mem:       mem,
		closer:    closer,
	}
}

// Memory returns a view of the target's memory. If ptrSize is not zero it
// overrides the pointer size detected by the loader.
func (t *Target) Memory(ptrSize int, diag io.Writer) (*Memory, error) {
	if ptrSize == 0 {
		ptrSize = t.PtrSize
	}
	m, err := NewMemory(t.Mem, ptrSize, diag)
	if err != nil {
		return nil, err
	}
	if t.ByteOrder != nil {
		m.SetByteOrder(t.ByteOrder)
	}
	return m, nil
}

// FlushCache discards the memory cached for the target, if any. Targets
// that can change while they are inspected must be flushed before every
// command.
func (t *Target) FlushCache() {
	if f, ok := t.Mem.(interface{ Flush() }); ok {
		f.Flush()
	}
}

// SortRegions sorts the regions of the target by address.
func (t *Target) SortRegions() {
	sort.Slice(t.Regions, func(i, j int) bool { return t.Regions[i].Addr < t.Regions[j].Addr })
}

// String returns a one line description of the target.
func (t *Target) String() string {
	s := t.Kind
	if t.Path != "" {
		s += " " + t.Path
	}
	if t.Pid != 0 {
		s += fmt.Sprintf(" (pid %d)", t.Pid)
	}
	return fmt.Sprintf("%s, %d-bit", s, t.PtrSize*8)
}

// Close releases the resources held by the target.
func (t *Target) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
