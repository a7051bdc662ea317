package core

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-ndbg/ndbg/pkg/elfwriter"
	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
)

const elfErrorBadMagicNumber = "bad magic number"

// elfNotesHdr is the header of a note in a PT_NOTE segment.
type elfNotesHdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}

// note is a note from a PT_NOTE prog. Only the notes carrying the process
// id are decoded:
// - NT_PRPSINFO: information about the process written by the kernel.
// - NDBG: header written by the dump command.
type note struct {
	Type elf.NType
	Name string
	Desc []byte
}

// openELFCore reads an ELF core file. For details on the Linux ELF core
// format, see:
// http://www.gabriel.urdhr.fr/2015/05/29/core-file/,
// elf_core_dump in https://elixir.bootlin.com/linux/latest/source/fs/binfmt_elf.c,
// and, if absolutely desperate, readelf.c from the binutils source.
func openELFCore(corePath string) (*proc.Target, error) {
	f, err := os.Open(corePath)
	if err != nil {
		return nil, err
	}
	coreFile, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		if _, isfmterr := err.(*elf.FormatError); isfmterr && (strings.Contains(err.Error(), elfErrorBadMagicNumber) || strings.Contains(err.Error(), " at offset 0x0: too short")) {
			return nil, ErrUnrecognizedFormat
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}

	if coreFile.Type != elf.ET_CORE {
		f.Close()
		return nil, fmt.Errorf("%s is an ELF file but not a core file (type %v)", corePath, coreFile.Type)
	}

	var ptrSize int
	switch coreFile.Class {
	case elf.ELFCLASS32:
		ptrSize = 4
	case elf.ELFCLASS64:
		ptrSize = 8
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported ELF class %v", coreFile.Class)
	}

	notes, err := readNotes(coreFile)
	if err != nil {
		f.Close()
		return nil, err
	}

	memory := &splicedMemory{}
	var regions []proc.Region
	for _, prog := range coreFile.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Filesz > 0 {
			memory.Add(&offsetReaderAt{reader: prog, offset: prog.Vaddr}, prog.Vaddr, prog.Filesz)
			regions = append(regions, proc.Region{Addr: prog.Vaddr, Size: prog.Filesz, Desc: progFlagsString(prog.Flags)})
		}
		if logflags.Core() {
			logflags.CoreLogger().Debugf("PT_LOAD vaddr=%#x filesz=%#x memsz=%#x flags=%v", prog.Vaddr, prog.Filesz, prog.Memsz, prog.Flags)
		}
	}

	var bo binary.ByteOrder = binary.LittleEndian
	if coreFile.Data == elf.ELFDATA2MSB {
		bo = binary.BigEndian
	}

	t := proc.NewTarget("ELF core", memory, ptrSize, f)
	t.ByteOrder = bo
	t.Pid = pidFromNotes(notes, coreFile.Class, bo)
	t.Regions = regions
	return t, nil
}

func progFlagsString(flags elf.ProgFlag) string {
	b := []byte("---")
	if flags&elf.PF_R != 0 {
		b[0] = 'r'
	}
	if flags&elf.PF_W != 0 {
		b[1] = 'w'
	}
	if flags&elf.PF_X != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// readNotes reads all the notes from the notes progs in core.
func readNotes(core *elf.File) ([]*note, error) {
	notes := []*note{}
	for _, prog := range core.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		r := prog.Open()
		for {
			note, err := readNote(r, core.ByteOrder)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// readNote reads a single note from r.
func readNote(r io.ReadSeeker, bo binary.ByteOrder) (*note, error) {
	// Notes are laid out as described in the SysV ABI:
	// http://www.sco.com/developers/gabi/latest/ch5.pheader.html#note_section
	note := &note{}
	hdr := &elfNotesHdr{}

	err := binary.Read(r, bo, hdr)
	if err != nil {
		return nil, err // don't wrap so readNotes sees EOF.
	}
	note.Type = elf.NType(hdr.Type)

	name := make([]byte, hdr.Namesz)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading name: %v", err)
	}
	note.Name = strings.TrimRight(string(name), "\x00")
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after name: %v", err)
	}
	note.Desc = make([]byte, hdr.Descsz)
	if _, err := io.ReadFull(r, note.Desc); err != nil {
		return nil, fmt.Errorf("reading desc: %v", err)
	}
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after desc: %v", err)
	}
	return note, nil
}

// skipPadding moves r to the next multiple of pad.
func skipPadding(r io.ReadSeeker, pad int64) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos%pad == 0 {
		return nil
	}
	if _, err := r.Seek(pad-(pos%pad), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}

// pidFromNotes returns the process id recorded in the notes, or 0.
func pidFromNotes(notes []*note, class elf.Class, bo binary.ByteOrder) int {
	for _, note := range notes {
		switch {
		case note.Type == elfwriter.NdbgHeaderNoteType && note.Name == elfwriter.NdbgNoteName:
			s := bufio.NewScanner(bytes.NewReader(note.Desc))
			for s.Scan() {
				if v := strings.TrimPrefix(s.Text(), elfwriter.NdbgHeaderTargetPidPrefix); v != s.Text() {
					pid, _ := strconv.Atoi(v)
					return pid
				}
			}
		case note.Type == elf.NT_PRPSINFO:
			// struct elf_prpsinfo: four chars, pr_flag (a long), uid and
			// gid, then pr_pid.
			off := 24
			if class == elf.ELFCLASS32 {
				off = 12
			}
			if len(note.Desc) >= off+4 {
				return int(bo.Uint32(note.Desc[off:]))
			}
		}
	}
	return 0
}
