package proc

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/go-ndbg/ndbg/pkg/elfwriter"
	"github.com/go-ndbg/ndbg/pkg/logflags"
)

// dumpChunk is the granularity at which unreadable memory is skipped while
// dumping.
const dumpChunk = 0x1000

// DumpState reports the progress of a Dump.
type DumpState struct {
	Regions     int
	DoneRegions int
	MemoryDone  uint64
	Skipped     uint64
}

// Dump writes the readable memory of t to w as an ELF core file that can
// be opened again with core.OpenCore. The file is closed when Dump
// returns. If progress is not nil it is called after every region.
func (t *Target) Dump(w elfwriter.WriteCloserSeeker, progress func(*DumpState)) (err error) {
	defer func() {
		cerr := w.Close()
		if err == nil {
			err = cerr
		}
	}()

	if len(t.Regions) == 0 {
		return errors.New("target has no known memory regions")
	}

	fhdr := &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Version: elf.EV_CURRENT,
		OSABI:   elf.ELFOSABI_NONE,
		Type:    elf.ET_CORE,
		Machine: elf.EM_X86_64,
	}
	if t.PtrSize == 4 {
		fhdr.Class = elf.ELFCLASS32
		fhdr.Machine = elf.EM_386
	}

	ew, err := elfwriter.New(w, fhdr)
	if err != nil {
		return err
	}

	header := fmt.Sprintf("%s%d\n%s%d\n%s%s\n",
		elfwriter.NdbgHeaderTargetPidPrefix, t.Pid,
		elfwriter.NdbgHeaderPointerSizePrefix, t.PtrSize,
		elfwriter.NdbgHeaderSourcePrefix, t.String())
	notes := ew.WriteNotes([]elfwriter.Note{{Type: elfwriter.NdbgHeaderNoteType, Name: elfwriter.NdbgNoteName, Data: []byte(header)}})
	ew.Progs = append(ew.Progs, notes)

	log := logflags.CoreLogger()
	st := &DumpState{Regions: len(t.Regions)}
	buf := make([]byte, dumpChunk)
	for _, r := range t.Regions {
		var run []byte
		runStart := r.Addr
		flush := func() {
			if len(run) > 0 {
				ew.WriteSegment(runStart, elf.PF_R|elf.PF_W, run)
				st.MemoryDone += uint64(len(run))
				run = nil
			}
		}
		for addr := r.Addr; addr < r.End(); addr += dumpChunk {
			sz := uint64(dumpChunk)
			if r.End()-addr < sz {
				sz = r.End() - addr
			}
			n, err := t.Mem.ReadMemory(buf[:sz], addr)
			if err != nil || uint64(n) != sz {
				flush()
				st.Skipped += sz
				runStart = addr + sz
				continue
			}
			run = append(run, buf[:sz]...)
		}
		flush()
		if ew.Err != nil {
			return ew.Err
		}
		st.DoneRegions++
		if progress != nil {
			progress(st)
		}
	}
	if logflags.Core() {
		log.Debugf("dumped %#x bytes, skipped %#x unreadable bytes", st.MemoryDone, st.Skipped)
	}

	ew.WriteProgramHeaders()
	return ew.Err
}
