package test

import (
	"debug/elf"
	"encoding/binary"
	"io/ioutil"
	"os"
	"sort"
	"unicode/utf16"

	"github.com/go-ndbg/ndbg/pkg/elfwriter"
)

// Range is a contiguous block of memory.
type Range struct {
	Addr uint64
	Data []byte
}

// Ranges returns the written bytes of the image as a list of contiguous
// blocks, faulted bytes are left out.
func (m *FakeMemory) Ranges() []Range {
	addrs := make([]uint64, 0, len(m.bytes))
	for a := range m.bytes {
		if !m.faults[a] {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	var r []Range
	for _, a := range addrs {
		if n := len(r); n > 0 && r[n-1].Addr+uint64(len(r[n-1].Data)) == a {
			r[n-1].Data = append(r[n-1].Data, m.bytes[a])
			continue
		}
		r = append(r, Range{Addr: a, Data: []byte{m.bytes[a]}})
	}
	return r
}

// Module is a module listed in a minidump.
type Module struct {
	Name string
	Base uint64
	Size uint32
	// Version is the file version as major, minor, build and revision.
	// A zero version writes no version resource.
	Version [4]uint16
}

// MemoryInfo is an entry of the MemoryInfoListStream of a minidump.
type MemoryInfo struct {
	Addr       uint64
	Size       uint64
	Protection uint32
	Type       uint32
}

// Minidump describes a synthetic minidump file.
type Minidump struct {
	// Arch is the MINIDUMP_SYSTEM_INFO processor architecture.
	Arch uint16
	Pid  uint32
	// Memory64 stores the ranges in a Memory64ListStream instead of a
	// MemoryListStream.
	Memory64   bool
	Ranges     []Range
	Modules    []Module
	MemoryInfo []MemoryInfo
}

type mdWriter struct {
	out []byte
}

func (w *mdWriter) u16(v uint16) { w.out = append(w.out, byte(v), byte(v>>8)) }
func (w *mdWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.out = append(w.out, b[:]...)
}
func (w *mdWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.out = append(w.out, b[:]...)
}
func (w *mdWriter) here() uint32 { return uint32(len(w.out)) }
func (w *mdWriter) putU32(off, v uint32) {
	binary.LittleEndian.PutUint32(w.out[off:], v)
}

// Bytes encodes the minidump.
func (md *Minidump) Bytes() []byte {
	const (
		systemInfoStream     = 7
		memoryListStream     = 5
		memory64ListStream   = 9
		moduleListStream     = 4
		miscInfoStream       = 15
		memoryInfoListStream = 16
	)

	w := &mdWriter{}
	type dirent struct{ typ, size, off uint32 }
	var dir []dirent
	nstreams := 3
	if len(md.Modules) > 0 {
		nstreams++
	}
	if len(md.MemoryInfo) > 0 {
		nstreams++
	}

	w.u32(0x504d444d)
	w.u16(0xa793)
	w.u16(0)
	w.u32(uint32(nstreams))
	w.u32(32) // stream directory right after the header
	w.u32(0)
	w.u32(0x5f000000)
	w.u64(0x2) // WithFullMemory
	w.out = append(w.out, make([]byte, 12*nstreams)...)

	start := w.here()
	w.u16(md.Arch)
	w.out = append(w.out, make([]byte, 54)...)
	dir = append(dir, dirent{systemInfoStream, w.here() - start, start})

	start = w.here()
	w.u32(24)
	w.u32(1) // MINIDUMP_MISC1_PROCESS_ID
	w.u32(md.Pid)
	w.u32(0)
	w.u32(0)
	w.u32(0)
	dir = append(dir, dirent{miscInfoStream, w.here() - start, start})

	if len(md.Modules) > 0 {
		names := make([]uint32, len(md.Modules))
		for i, mod := range md.Modules {
			names[i] = w.here()
			name := utf16.Encode([]rune(mod.Name))
			w.u32(uint32(2 * len(name)))
			for _, c := range name {
				w.u16(c)
			}
			w.u16(0)
		}
		start = w.here()
		w.u32(uint32(len(md.Modules)))
		for i, mod := range md.Modules {
			w.u64(mod.Base)
			w.u32(mod.Size)
			w.u32(0)
			w.u32(0)
			w.u32(names[i])
			if mod.Version != [4]uint16{} {
				w.u32(0xfeef04bd)
				w.u32(0x10000)
				w.u32(uint32(mod.Version[0])<<16 | uint32(mod.Version[1]))
				w.u32(uint32(mod.Version[2])<<16 | uint32(mod.Version[3]))
				w.out = append(w.out, make([]byte, 52-16)...)
			} else {
				w.out = append(w.out, make([]byte, 52)...)
			}
			w.out = append(w.out, make([]byte, 8+8+16)...)
		}
		dir = append(dir, dirent{moduleListStream, w.here() - start, start})
	}

	if len(md.MemoryInfo) > 0 {
		start = w.here()
		w.u32(16)
		w.u32(48)
		w.u64(uint64(len(md.MemoryInfo)))
		for _, mi := range md.MemoryInfo {
			w.u64(mi.Addr)
			w.u64(mi.Addr) // allocation base
			w.u32(mi.Protection)
			w.u32(0)
			w.u64(mi.Size)
			w.u32(0x1000) // MEM_COMMIT
			w.u32(mi.Protection)
			w.u32(mi.Type)
			w.u32(0)
		}
		dir = append(dir, dirent{memoryInfoListStream, w.here() - start, start})
	}

	if md.Memory64 {
		start = w.here()
		w.u64(uint64(len(md.Ranges)))
		base := w.here() + 8 + uint32(16*len(md.Ranges))
		w.u64(uint64(base))
		for _, r := range md.Ranges {
			w.u64(r.Addr)
			w.u64(uint64(len(r.Data)))
		}
		dir = append(dir, dirent{memory64ListStream, w.here() - start, start})
		for _, r := range md.Ranges {
			w.out = append(w.out, r.Data...)
		}
	} else {
		offs := make([]uint32, len(md.Ranges))
		for i, r := range md.Ranges {
			offs[i] = w.here()
			w.out = append(w.out, r.Data...)
		}
		start = w.here()
		w.u32(uint32(len(md.Ranges)))
		for i, r := range md.Ranges {
			w.u64(r.Addr)
			w.u32(uint32(len(r.Data)))
			w.u32(offs[i])
		}
		dir = append(dir, dirent{memoryListStream, w.here() - start, start})
	}

	for i, d := range dir {
		off := uint32(32 + 12*i)
		w.putU32(off, d.typ)
		w.putU32(off+4, d.size)
		w.putU32(off+8, d.off)
	}
	return w.out
}

// WriteFile writes the minidump to a new temporary file and returns its
// path.
func (md *Minidump) WriteFile(dir string) (string, error) {
	f, err := ioutil.TempFile(dir, "ndbg-*.dmp")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(md.Bytes()); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// WriteELFCore writes an ELF core file at path holding ranges, for a
// process with the given pointer size. If pid is not zero a NT_PRPSINFO
// note records it.
func WriteELFCore(path string, ptrSize int, pid int, ranges []Range) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	fhdr := &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Version: elf.EV_CURRENT,
		Type:    elf.ET_CORE,
		Machine: elf.EM_X86_64,
	}
	prpsinfo := make([]byte, 136)
	pidOff := 24
	if ptrSize == 4 {
		fhdr.Class = elf.ELFCLASS32
		fhdr.Machine = elf.EM_386
		prpsinfo = make([]byte, 124)
		pidOff = 12
	}
	w, err := elfwriter.New(f, fhdr)
	if err != nil {
		f.Close()
		return err
	}
	if pid != 0 {
		binary.LittleEndian.PutUint32(prpsinfo[pidOff:], uint32(pid))
		w.Progs = append(w.Progs, w.WriteNotes([]elfwriter.Note{{Type: elf.NT_PRPSINFO, Name: "CORE", Data: prpsinfo}}))
	}
	for _, r := range ranges {
		w.WriteSegment(r.Addr, elf.PF_R|elf.PF_W, r.Data)
	}
	w.WriteProgramHeaders()
	if w.Err != nil {
		f.Close()
		return w.Err
	}
	return f.Close()
}
