package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-ndbg/ndbg/pkg/logflags"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory of the inspected process, independently
// of the pointer size of the host.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrShortRead is returned when a memory source returns fewer bytes than
// requested without reporting an error.
var ErrShortRead = errors.New("short read")

// ErrUnsupportedPtrSize is returned for pointer sizes other than 4 and 8.
var ErrUnsupportedPtrSize = errors.New("unsupported pointer size")

// ReadFailure is returned when a memory access could not be satisfied,
// either because the address is not mapped in the memory source or
// because fewer than Len bytes could be read.
type ReadFailure struct {
	Addr uint64
	Len  int
	Err  error
}

func (rf *ReadFailure) Error() string {
	return fmt.Sprintf("failed to read %d bytes at %#x: %v", rf.Len, rf.Addr, rf.Err)
}

func (rf *ReadFailure) Unwrap() error {
	return rf.Err
}

// Memory is a view over a MemoryReader that knows the pointer size and the
// byte order of the inspected process.
//
// Two families of accessors are provided. ReadUint and ReadPointer return
// a *ReadFailure to the caller. Byte, Word, DWord, QWord and Pointer are
// best effort: when the read fails they return zero and report the failed
// address through the diagnostic writer, so that a traversal can keep
// producing partial output.
type Memory struct {
	mem       MemoryReader
	ptrSize   int
	byteOrder binary.ByteOrder
	diag      io.Writer
	log       logflags.Logger
}

// NewMemory returns a view over mem for a process with pointers ptrSize
// bytes wide. Diagnostics for best effort reads are written to diag, which
// may be nil.
func NewMemory(mem MemoryReader, ptrSize int, diag io.Writer) (*Memory, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPtrSize, ptrSize)
	}
	return &Memory{
		mem:       mem,
		ptrSize:   ptrSize,
		byteOrder: binary.LittleEndian,
		diag:      diag,
		log:       logflags.MemoryLogger(),
	}, nil
}

// PtrSize returns the size of a pointer in the inspected process.
func (m *Memory) PtrSize() int {
	return m.ptrSize
}

// SetByteOrder changes the byte order used to decode integers.
func (m *Memory) SetByteOrder(bo binary.ByteOrder) {
	m.byteOrder = bo
}

// SetDiagnostics redirects the diagnostics of best effort reads to w.
// The previous writer is returned.
func (m *Memory) SetDiagnostics(w io.Writer) io.Writer {
	old := m.diag
	m.diag = w
	return old
}

// Reader returns the underlying MemoryReader.
func (m *Memory) Reader() MemoryReader {
	return m.mem
}

// Read reads n bytes at addr.
func (m *Memory) Read(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := m.readInto(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

func (m *Memory) readInto(buf []byte, addr uint64) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := m.mem.ReadMemory(buf, addr)
	if err == nil && n != len(buf) {
		err = ErrShortRead
	}
	if err != nil {
		if logflags.Memory() {
			m.log.WithError(err).Debugf("read of %d bytes at %#x failed after %d bytes", len(buf), addr, n)
		}
		return &ReadFailure{Addr: addr, Len: len(buf), Err: err}
	}
	return nil
}

// ReadUint reads an unsigned integer of size bytes (1, 2, 4 or 8) at addr.
func (m *Memory) ReadUint(addr uint64, size int) (uint64, error) {
	var buf [8]byte
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, fmt.Errorf("invalid integer size %d", size)
	}
	if err := m.readInto(buf[:size], addr); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(m.byteOrder.Uint16(buf[:2])), nil
	case 4:
		return uint64(m.byteOrder.Uint32(buf[:4])), nil
	default:
		return m.byteOrder.Uint64(buf[:8]), nil
	}
}

// ReadPointer reads a pointer sized value at addr.
func (m *Memory) ReadPointer(addr uint64) (uint64, error) {
	return m.ReadUint(addr, m.ptrSize)
}

// Diagnose reports a failed read on the diagnostic writer.
func (m *Memory) Diagnose(err error) {
	if m.diag == nil || err == nil {
		return
	}
	var rf *ReadFailure
	if errors.As(err, &rf) {
		fmt.Fprintf(m.diag, "Error: Failed to read memory location %#x\n", rf.Addr)
		return
	}
	fmt.Fprintf(m.diag, "Error: %v\n", err)
}

func (m *Memory) bestEffort(addr uint64, size int) uint64 {
	v, err := m.ReadUint(addr, size)
	if err != nil {
		m.Diagnose(err)
		return 0
	}
	return v
}

// Byte reads one byte at addr, zero if the read fails.
func (m *Memory) Byte(addr uint64) uint64 { return m.bestEffort(addr, 1) }

// Word reads two bytes at addr, zero if the read fails.
func (m *Memory) Word(addr uint64) uint64 { return m.bestEffort(addr, 2) }

// DWord reads four bytes at addr, zero if the read fails.
func (m *Memory) DWord(addr uint64) uint64 { return m.bestEffort(addr, 4) }

// QWord reads eight bytes at addr, zero if the read fails.
func (m *Memory) QWord(addr uint64) uint64 { return m.bestEffort(addr, 8) }

// Pointer reads a pointer sized value at addr, zero if the read fails.
func (m *Memory) Pointer(addr uint64) uint64 { return m.bestEffort(addr, m.ptrSize) }

// FormatAddr formats addr as a fixed width hexadecimal number, as wide as
// a pointer of the inspected process.
func (m *Memory) FormatAddr(addr uint64) string {
	return FormatAddr(addr, m.ptrSize)
}

// FormatAddr formats addr as a 0x prefixed hexadecimal number padded to
// ptrSize*2 digits.
func FormatAddr(addr uint64, ptrSize int) string {
	return fmt.Sprintf("0x%0*x", ptrSize*2, addr)
}
