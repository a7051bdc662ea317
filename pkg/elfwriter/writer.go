// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// This package is incomplete, only features needed to write core files are
// implemented, notably missing:
// - section headers
// - program headers at the beginning of the file
// - big endian files

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Writer writes ELF files.
type Writer struct {
	w     WriteCloserSeeker
	Err   error
	Progs []*elf.ProgHeader

	class elf.Class

	seekProgHeader int64
	seekProgNum    int64
}

type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

// New creates a new Writer. Both ELFCLASS32 and ELFCLASS64 files are
// supported, only in little endian byte order.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) (*Writer, error) {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		return nil, errors.New("can't write halfway through a file")
	}
	if fhdr.Data != elf.ELFDATA2LSB {
		return nil, errors.New("unsupported byte order")
	}

	var ehsize, phentsize uint16
	switch fhdr.Class {
	case elf.ELFCLASS32:
		ehsize, phentsize = 52, 32
	case elf.ELFCLASS64:
		ehsize, phentsize = 64, 56
	default:
		return nil, errors.New("unsupported ELF class")
	}

	r := &Writer{w: w, class: fhdr.Class}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(fhdr.Version), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(fhdr.Version)) // e_version
	r.word(0)                   // e_entry
	r.seekProgHeader = r.Here()
	r.word(0)        // e_phoff
	r.word(0)        // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(phentsize) // e_phentsize
	r.seekProgNum = r.Here()
	r.u16(0)                     // e_phnum
	r.u16(0)                     // e_shentsize
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	if r.Err != nil {
		return nil, r.Err
	}
	if sz := r.Here(); sz != int64(ehsize) {
		return nil, errors.New("internal error, ELF header size")
	}

	return r, nil
}

// WriteNotes writes notes to the current location, returns a ProgHeader describing the
// notes.
func (w *Writer) WriteNotes(notes []Note) *elf.ProgHeader {
	if len(notes) == 0 {
		return nil
	}
	h := &elf.ProgHeader{
		Type:  elf.PT_NOTE,
		Align: 4,
	}
	for i := range notes {
		note := &notes[i]
		w.Align(4)
		if h.Off == 0 {
			h.Off = uint64(w.Here())
		}
		name := append([]byte(note.Name), 0)
		w.u32(uint32(len(name)))
		w.u32(uint32(len(note.Data)))
		w.u32(uint32(note.Type))
		w.Write(name)
		w.Align(4)
		w.Write(note.Data)
	}
	w.Align(4)
	h.Filesz = uint64(w.Here()) - h.Off
	return h
}

// WriteSegment writes data at the current location and records a PT_LOAD
// program header mapping it at vaddr.
func (w *Writer) WriteSegment(vaddr uint64, flags elf.ProgFlag, data []byte) *elf.ProgHeader {
	w.Align(16)
	h := &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  flags,
		Off:    uint64(w.Here()),
		Vaddr:  vaddr,
		Filesz: uint64(len(data)),
		Memsz:  uint64(len(data)),
		Align:  1,
	}
	w.Write(data)
	w.Progs = append(w.Progs, h)
	return h
}

// WriteProgramHeaders writes the program headers at the current location
// and patches the file header accordingly.
func (w *Writer) WriteProgramHeaders() {
	w.Align(8)
	phoff := w.Here()

	// Patch File Header
	w.seek(w.seekProgHeader, io.SeekStart)
	w.word(uint64(phoff))
	w.seek(w.seekProgNum, io.SeekStart)
	w.u16(uint16(len(w.Progs)))
	w.seek(0, io.SeekEnd)

	for _, prog := range w.Progs {
		if w.class == elf.ELFCLASS32 {
			w.u32(uint32(prog.Type))
			w.u32(uint32(prog.Off))
			w.u32(uint32(prog.Vaddr))
			w.u32(uint32(prog.Paddr))
			w.u32(uint32(prog.Filesz))
			w.u32(uint32(prog.Memsz))
			w.u32(uint32(prog.Flags))
			w.u32(uint32(prog.Align))
			continue
		}
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Flags))
		w.u64(prog.Off)
		w.u64(prog.Vaddr)
		w.u64(prog.Paddr)
		w.u64(prog.Filesz)
		w.u64(prog.Memsz)
		w.u64(prog.Align)
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) seek(off int64, whence int) {
	_, err := w.w.Seek(off, whence)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

// word writes an address sized value.
func (w *Writer) word(n uint64) {
	if w.class == elf.ELFCLASS32 {
		w.u32(uint32(n))
		return
	}
	w.u64(n)
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
