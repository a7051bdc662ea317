// Package minidump provides a loader for Windows Minidump files.
// Minidump files are the Windows equivalent of unix core dumps, they are
// written by the Windows Error Reporting service when a program crashes,
// or on demand by WinDbg, Task Manager or the ProcDump utility.
//
// Only the parts of the format needed to rebuild the memory image of the
// process are parsed: the memory lists, the thread stacks, the module
// list, the memory info list and the system and misc info streams.
//
// The file format is described on MSDN starting at:
//  https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_header
// which is the structure found at offset 0 on a minidump file.
package minidump

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"unicode/utf16"
)

type minidumpBuf struct {
	buf  []byte
	kind string
	off  int
	err  error
	ctx  string
}

func (buf *minidumpBuf) next(stride int) []byte {
	if buf.err != nil {
		return nil
	}
	if buf.off < 0 || buf.off+stride > len(buf.buf) {
		buf.err = fmt.Errorf("minidump %s truncated at offset %#x while %s", buf.kind, buf.off, buf.ctx)
		return nil
	}
	r := buf.buf[buf.off : buf.off+stride]
	buf.off += stride
	return r
}

func (buf *minidumpBuf) u16() uint16 {
	b := buf.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (buf *minidumpBuf) u32() uint32 {
	b := buf.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (buf *minidumpBuf) u64() uint64 {
	b := buf.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func streamBuf(stream *Stream, buf *minidumpBuf, name string) *minidumpBuf {
	return &minidumpBuf{
		buf:  buf.buf,
		kind: "stream",
		off:  stream.Offset,
		err:  nil,
		ctx:  fmt.Sprintf("reading %s stream at %#x", name, stream.Offset),
	}
}

// ErrNotAMinidump is the error returned when the file being loaded is not a
// minidump file.
type ErrNotAMinidump struct {
	what string
	got  uint32
}

func (err ErrNotAMinidump) Error() string {
	return fmt.Sprintf("not a minidump, invalid %s %#x", err.what, err.got)
}

const (
	minidumpSignature = 0x504d444d // 'MDMP'
	minidumpVersion   = 0xa793
)

// Minidump represents a minidump file
type Minidump struct {
	Timestamp uint32
	Flags     FileFlags

	Streams []Stream

	Threads []Thread
	Modules []Module

	Arch Arch
	Pid  uint32

	MemoryRanges []MemoryRange
	MemoryInfo   []MemoryInfo

	streamNum uint32
	streamOff uint32
}

// PtrSize returns the size of a pointer for the architecture of the
// process, or 0 if the architecture is not supported.
func (mdmp *Minidump) PtrSize() int {
	return mdmp.Arch.PtrSize()
}

// Stream represents one (uninterpreted) stream in a minidump file.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_directory
type Stream struct {
	Type    StreamType
	Offset  int
	RawData []byte
}

// Thread represents an entry in the ThreadList stream. The register
// context is not decoded.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_thread
type Thread struct {
	ID            uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	TEB           uint64
	StackAddr     uint64
	StackSize     uint64
}

// Module represents an entry in the ModuleList stream.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_module
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	Checksum      uint32
	TimeDateStamp uint32
	Name          string
	VersionInfo   VSFixedFileInfo
}

// VSFixedFileInfo is the version resource of a module, only the fields
// that identify the file version are kept.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/verrsrc/ns-verrsrc-tagvs_fixedfileinfo
type VSFixedFileInfo struct {
	Signature     uint32
	FileVersionHi uint32
	FileVersionLo uint32
}

const vsFixedFileInfoSignature = 0xfeef04bd

// Version returns the file version as "major.minor.build.revision", or
// an empty string if the module has no version resource.
func (vi VSFixedFileInfo) Version() string {
	if vi.Signature != vsFixedFileInfoSignature {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", vi.FileVersionHi>>16, vi.FileVersionHi&0xffff, vi.FileVersionLo>>16, vi.FileVersionLo&0xffff)
}

// MemoryRange represents a region of memory saved to the core file, it's
// constructed after either:
// 1. parsing an entry in the MemoryList or Memory64List stream.
// 2. parsing the stack field of an entry in the ThreadList stream.
type MemoryRange struct {
	Addr uint64
	Data []byte
}

// ReadMemory reads len(buf) bytes of memory starting at addr into buf from
// this memory region. Reads that start inside the region but extend past
// its end are truncated.
func (m *MemoryRange) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if addr < m.Addr || addr-m.Addr >= uint64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(buf, m.Data[addr-m.Addr:])
	if n < len(buf) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// MemoryInfo represents an entry in the MemoryInfoList stream.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_memory_info
type MemoryInfo struct {
	Addr       uint64
	Size       uint64
	State      MemoryState
	Protection MemoryProtection
	Type       MemoryType
}

// MemoryState is the type of the State field of MINIDUMP_MEMORY_INFO
type MemoryState uint32

const (
	MemoryStateCommit  MemoryState = 0x1000
	MemoryStateReserve MemoryState = 0x2000
	MemoryStateFree    MemoryState = 0x10000
)

func (s MemoryState) String() string {
	switch s {
	case MemoryStateCommit:
		return "commit"
	case MemoryStateReserve:
		return "reserve"
	case MemoryStateFree:
		return "free"
	}
	return fmt.Sprintf("MemoryState(%#x)", uint32(s))
}

// MemoryType is the type of the Type field of MINIDUMP_MEMORY_INFO
type MemoryType uint32

const (
	MemoryTypePrivate MemoryType = 0x20000
	MemoryTypeMapped  MemoryType = 0x40000
	MemoryTypeImage   MemoryType = 0x1000000
)

func (t MemoryType) String() string {
	switch t {
	case MemoryTypePrivate:
		return "private"
	case MemoryTypeMapped:
		return "mapped"
	case MemoryTypeImage:
		return "image"
	}
	return fmt.Sprintf("MemoryType(%#x)", uint32(t))
}

// MemoryProtection is the type of the Protection field of MINIDUMP_MEMORY_INFO
type MemoryProtection uint32

const (
	MemoryProtectNoAccess         MemoryProtection = 0x01 // PAGE_NOACCESS
	MemoryProtectReadOnly         MemoryProtection = 0x02 // PAGE_READONLY
	MemoryProtectReadWrite        MemoryProtection = 0x04 // PAGE_READWRITE
	MemoryProtectWriteCopy        MemoryProtection = 0x08 // PAGE_WRITECOPY
	MemoryProtectExecute          MemoryProtection = 0x10 // PAGE_EXECUTE
	MemoryProtectExecuteRead      MemoryProtection = 0x20 // PAGE_EXECUTE_READ
	MemoryProtectExecuteReadWrite MemoryProtection = 0x40 // PAGE_EXECUTE_READWRITE
	MemoryProtectExecuteWriteCopy MemoryProtection = 0x80 // PAGE_EXECUTE_WRITECOPY

	// PAGE_GUARD, PAGE_NOCACHE and PAGE_WRITECOMBINE
	memoryProtectModifiers MemoryProtection = 0x700
)

// String returns the protection in the "rwx" notation used for the
// regions of ELF cores and live processes.
func (p MemoryProtection) String() string {
	switch p &^ memoryProtectModifiers {
	case MemoryProtectNoAccess:
		return "---"
	case MemoryProtectReadOnly:
		return "r--"
	case MemoryProtectReadWrite, MemoryProtectWriteCopy:
		return "rw-"
	case MemoryProtectExecute:
		return "--x"
	case MemoryProtectExecuteRead:
		return "r-x"
	case MemoryProtectExecuteReadWrite, MemoryProtectExecuteWriteCopy:
		return "rwx"
	}
	return fmt.Sprintf("%#x", uint32(p))
}

// MemoryInfoAt returns the MemoryInfoList entry containing addr, nil if
// the minidump has none.
func (mdmp *Minidump) MemoryInfoAt(addr uint64) *MemoryInfo {
	for i := range mdmp.MemoryInfo {
		mi := &mdmp.MemoryInfo[i]
		if addr >= mi.Addr && addr-mi.Addr < mi.Size {
			return mi
		}
	}
	return nil
}

// FileFlags is the type of the Flags field of MINIDUMP_HEADER
type FileFlags uint64

const (
	FileNormal               FileFlags = 0x00000000
	FileWithDataSegs         FileFlags = 0x00000001
	FileWithFullMemory       FileFlags = 0x00000002
	FileWithHandleData       FileFlags = 0x00000004
	FileFilterMemory         FileFlags = 0x00000008
	FileScanMemory           FileFlags = 0x00000010
	FileWithUnloadedModules  FileFlags = 0x00000020
	FileWithFullMemoryInfo   FileFlags = 0x00000800
	FileWithThreadInfo       FileFlags = 0x00001000
	FileWithPrivateReadWrite FileFlags = 0x00000200
)

var fileFlagNames = []struct {
	flag FileFlags
	name string
}{
	{FileWithDataSegs, "WithDataSegs"},
	{FileWithFullMemory, "WithFullMemory"},
	{FileWithHandleData, "WithHandleData"},
	{FileFilterMemory, "FilterMemory"},
	{FileScanMemory, "ScanMemory"},
	{FileWithUnloadedModules, "WithUnloadedModules"},
	{FileWithPrivateReadWrite, "WithPrivateReadWriteMemory"},
	{FileWithFullMemoryInfo, "WithFullMemoryInfo"},
	{FileWithThreadInfo, "WithThreadInfo"},
}

func (flags FileFlags) String() string {
	var out []string
	for _, f := range fileFlagNames {
		if flags&f.flag != 0 {
			out = append(out, f.name)
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("%#x", uint64(flags))
	}
	return strings.Join(out, "|")
}

// StreamType is the type of the StreamType field of MINIDUMP_DIRECTORY
type StreamType uint32

const (
	UnusedStream         StreamType = 0
	ThreadListStream     StreamType = 3
	ModuleListStream     StreamType = 4
	MemoryListStream     StreamType = 5
	ExceptionStream      StreamType = 6
	SystemInfoStream     StreamType = 7
	Memory64ListStream   StreamType = 9
	CommentStreamA       StreamType = 10
	CommentStreamW       StreamType = 11
	MiscInfoStream       StreamType = 15
	MemoryInfoListStream StreamType = 16
)

var streamTypeNames = map[StreamType]string{
	UnusedStream:         "UnusedStream",
	ThreadListStream:     "ThreadListStream",
	ModuleListStream:     "ModuleListStream",
	MemoryListStream:     "MemoryListStream",
	ExceptionStream:      "ExceptionStream",
	SystemInfoStream:     "SystemInfoStream",
	Memory64ListStream:   "Memory64ListStream",
	CommentStreamA:       "CommentStreamA",
	CommentStreamW:       "CommentStreamW",
	MiscInfoStream:       "MiscInfoStream",
	MemoryInfoListStream: "MemoryInfoListStream",
}

func (t StreamType) String() string {
	if s, ok := streamTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("StreamType(%d)", uint32(t))
}

// Arch is the type of the ProcessorArchitecture field of MINIDUMP_SYSTEM_INFO.
type Arch uint16

const (
	CpuArchitectureX86     Arch = 0
	CpuArchitectureARM     Arch = 5
	CpuArchitectureIA64    Arch = 6
	CpuArchitectureAMD64   Arch = 9
	CpuArchitectureARM64   Arch = 12
	CpuArchitectureUnknown Arch = 0xffff
)

func (a Arch) String() string {
	switch a {
	case CpuArchitectureX86:
		return "x86"
	case CpuArchitectureARM:
		return "ARM"
	case CpuArchitectureIA64:
		return "IA64"
	case CpuArchitectureAMD64:
		return "AMD64"
	case CpuArchitectureARM64:
		return "ARM64"
	case CpuArchitectureUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Arch(%d)", uint16(a))
}

// PtrSize returns the pointer size of a process running on a, 0 for
// unsupported architectures.
func (a Arch) PtrSize() int {
	switch a {
	case CpuArchitectureX86, CpuArchitectureARM:
		return 4
	case CpuArchitectureAMD64, CpuArchitectureARM64, CpuArchitectureIA64:
		return 8
	}
	return 0
}

// Open reads the minidump file at path and returns it as a Minidump structure.
func Open(path string, logfn func(fmt string, args ...interface{})) (*Minidump, error) {
	rawbuf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(rawbuf, logfn)
}

// Parse decodes the minidump in rawbuf. The returned memory ranges refer to
// rawbuf.
func Parse(rawbuf []byte, logfn func(fmt string, args ...interface{})) (*Minidump, error) {
	buf := &minidumpBuf{buf: rawbuf, kind: "file"}

	mdmp := Minidump{Arch: CpuArchitectureUnknown}

	readMinidumpHeader(&mdmp, buf)
	if buf.err != nil {
		return nil, buf.err
	}

	if logfn != nil {
		logfn("Minidump Header")
		logfn("Num Streams: %d", mdmp.streamNum)
		logfn("Streams offset: %#x", mdmp.streamOff)
		logfn("File flags: %s", mdmp.Flags)
		logfn("Offset after header %#x", buf.off)
	}

	readDirectory(&mdmp, buf)
	if buf.err != nil {
		return nil, buf.err
	}

	for i := range mdmp.Streams {
		stream := &mdmp.Streams[i]
		if logfn != nil {
			logfn("Stream %d: type:%s off:%#x size:%#x", i, stream.Type, stream.Offset, len(stream.RawData))
		}
		sb := buf
		switch stream.Type {
		case SystemInfoStream:
			sb = streamBuf(stream, buf, "system info")
			mdmp.Arch = Arch(sb.u16())
			if logfn != nil {
				logfn("\tProcessor architecture %s", mdmp.Arch)
			}
		case ThreadListStream:
			sb = streamBuf(stream, buf, "thread list")
			readThreadList(&mdmp, sb)
			if logfn != nil {
				for i := range mdmp.Threads {
					logfn("\tID:%#x TEB:%#x", mdmp.Threads[i].ID, mdmp.Threads[i].TEB)
				}
			}
		case ModuleListStream:
			sb = streamBuf(stream, buf, "module list")
			readModuleList(&mdmp, sb)
			if logfn != nil {
				for i := range mdmp.Modules {
					logfn("\tName:%q BaseOfImage:%#x SizeOfImage:%#x Version:%s", mdmp.Modules[i].Name, mdmp.Modules[i].BaseOfImage, mdmp.Modules[i].SizeOfImage, mdmp.Modules[i].VersionInfo.Version())
				}
			}
		case MemoryListStream:
			sb = streamBuf(stream, buf, "memory list")
			readMemoryList(&mdmp, sb, logfn)
		case Memory64ListStream:
			sb = streamBuf(stream, buf, "memory64 list")
			readMemory64List(&mdmp, sb, logfn)
		case MemoryInfoListStream:
			sb = streamBuf(stream, buf, "memory info list")
			readMemoryInfoList(&mdmp, sb, logfn)
		case MiscInfoStream:
			sb = streamBuf(stream, buf, "misc info")
			readMiscInfo(&mdmp, sb)
			if logfn != nil {
				logfn("\tPid: %#x", mdmp.Pid)
			}
		case CommentStreamW:
			if logfn != nil {
				logfn("\t%q", decodeUTF16(stream.RawData))
			}
		case CommentStreamA:
			if logfn != nil {
				logfn("\t%s", string(stream.RawData))
			}
		}
		if sb.err != nil {
			return nil, sb.err
		}
	}

	if mdmp.Arch == CpuArchitectureUnknown {
		return nil, fmt.Errorf("minidump has no system info stream")
	}
	if mdmp.PtrSize() == 0 {
		return nil, fmt.Errorf("unsupported architecture %s", mdmp.Arch)
	}

	return &mdmp, nil
}

// decodeUTF16 converts a NUL-terminated UTF16LE string to (non NUL-terminated) UTF8.
func decodeUTF16(in []byte) string {
	utf16encoded := []uint16{}
	for i := 0; i+1 < len(in); i += 2 {
		utf16encoded = append(utf16encoded, binary.LittleEndian.Uint16(in[i:]))
	}
	s := string(utf16.Decode(utf16encoded))
	if len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

// readMinidumpHeader reads the minidump file header
func readMinidumpHeader(mdmp *Minidump, buf *minidumpBuf) {
	buf.ctx = "reading minidump header"

	if sig := buf.u32(); sig != minidumpSignature {
		if buf.err == nil {
			buf.err = ErrNotAMinidump{"signature", sig}
		} else {
			buf.err = ErrNotAMinidump{"size", uint32(len(buf.buf))}
		}
		return
	}

	if ver := buf.u16(); ver != minidumpVersion {
		buf.err = ErrNotAMinidump{"version", uint32(ver)}
		return
	}

	buf.u16() // implementation specific version
	mdmp.streamNum = buf.u32()
	mdmp.streamOff = buf.u32()
	buf.u32() // checksum, but it's always 0
	mdmp.Timestamp = buf.u32()
	mdmp.Flags = FileFlags(buf.u64())
}

// readDirectory reads the list of streams (i.e. the minidump "directory")
func readDirectory(mdmp *Minidump, buf *minidumpBuf) {
	buf.off = int(mdmp.streamOff)

	if int(mdmp.streamNum) > len(buf.buf)/12 {
		buf.err = fmt.Errorf("minidump directory with %d streams does not fit in the file", mdmp.streamNum)
		return
	}

	mdmp.Streams = make([]Stream, mdmp.streamNum)
	for i := range mdmp.Streams {
		buf.ctx = fmt.Sprintf("reading stream directory entry %d", i)
		stream := &mdmp.Streams[i]
		stream.Type = StreamType(buf.u32())
		stream.Offset, stream.RawData = readLocationDescriptor(buf)
		if buf.err != nil {
			return
		}
	}
}

// readLocationDescriptor reads a location descriptor structure (a structure
// which describes a subregion of the file), and returns the destination
// offset and a slice into the minidump file's buffer.
func readLocationDescriptor(buf *minidumpBuf) (off int, rawData []byte) {
	sz := buf.u32()
	off = int(buf.u32())
	if buf.err != nil {
		return off, nil
	}
	end := off + int(sz)
	if off > len(buf.buf) || end > len(buf.buf) {
		buf.err = fmt.Errorf("location starting at %#x of size %#x is past the end of file, while %s", off, sz, buf.ctx)
		return 0, nil
	}
	rawData = buf.buf[off:end]
	return
}

func readString(buf *minidumpBuf) string {
	startOff := buf.off
	sz := buf.u32()
	if buf.err != nil {
		return ""
	}
	end := buf.off + int(sz)
	if buf.off >= len(buf.buf) || end > len(buf.buf) {
		buf.err = fmt.Errorf("string starting at %#x of size %#x is past the end of file, while %s", startOff, sz, buf.ctx)
		return ""
	}
	return decodeUTF16(buf.buf[buf.off:end])
}

// readThreadList reads a thread list stream, the stack of every thread is
// added to the memory of the minidump.
func readThreadList(mdmp *Minidump, buf *minidumpBuf) {
	threadNum := buf.u32()
	if buf.err != nil {
		return
	}
	if int(threadNum) > len(buf.buf)/48 {
		buf.err = fmt.Errorf("thread list with %d entries does not fit in the file", threadNum)
		return
	}

	mdmp.Threads = make([]Thread, threadNum)

	for i := range mdmp.Threads {
		buf.ctx = fmt.Sprintf("reading thread list entry %d", i)
		thread := &mdmp.Threads[i]

		thread.ID = buf.u32()
		thread.SuspendCount = buf.u32()
		thread.PriorityClass = buf.u32()
		thread.Priority = buf.u32()
		thread.TEB = buf.u64()
		if buf.err != nil {
			return
		}

		thread.StackAddr, thread.StackSize = readMemoryDescriptor(mdmp, buf)
		readLocationDescriptor(buf) // thread context
		if buf.err != nil {
			return
		}
	}
}

// readModuleList reads a module list stream and adds the modules to the minidump.
func readModuleList(mdmp *Minidump, buf *minidumpBuf) {
	moduleNum := buf.u32()
	if buf.err != nil {
		return
	}
	if int(moduleNum) > len(buf.buf)/108 {
		buf.err = fmt.Errorf("module list with %d entries does not fit in the file", moduleNum)
		return
	}

	mdmp.Modules = make([]Module, moduleNum)

	for i := range mdmp.Modules {
		buf.ctx = fmt.Sprintf("reading module list entry %d", i)
		module := &mdmp.Modules[i]

		module.BaseOfImage = buf.u64()
		module.SizeOfImage = buf.u32()
		module.Checksum = buf.u32()
		module.TimeDateStamp = buf.u32()
		nameOff := int(buf.u32())

		module.VersionInfo.Signature = buf.u32()
		buf.u32() // struct version
		module.VersionInfo.FileVersionHi = buf.u32()
		module.VersionInfo.FileVersionLo = buf.u32()
		buf.next(9 * 4) // product version, flags, OS, type and date

		readLocationDescriptor(buf) // CodeView record
		readLocationDescriptor(buf) // misc record
		buf.u64()                   // reserved0
		buf.u64()                   // reserved1

		if buf.err != nil {
			return
		}

		nameBuf := minidumpBuf{buf: buf.buf, kind: "file", off: nameOff, err: nil, ctx: buf.ctx}
		module.Name = readString(&nameBuf)
		if nameBuf.err != nil {
			buf.err = nameBuf.err
			return
		}
	}
}

// readMemoryList reads a _MINIDUMP_MEMORY_LIST structure, the format used
// by dumps that only contain part of the memory of the process.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_memory_list
func readMemoryList(mdmp *Minidump, buf *minidumpBuf, logfn func(fmt string, args ...interface{})) {
	rangesNum := buf.u32()
	if buf.err != nil {
		return
	}
	for i := uint32(0); i < rangesNum; i++ {
		buf.ctx = fmt.Sprintf("reading memory list entry %d", i)
		addr, sz := readMemoryDescriptor(mdmp, buf)
		if buf.err != nil {
			return
		}
		if logfn != nil {
			logfn("\tMemory %d addr:%#x size:%#x", i, addr, sz)
		}
	}
}

// readMemory64List reads a _MINIDUMP_MEMORY64_LIST structure, containing
// the description of the process memory.
// See: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_memory64_list
// And: https://docs.microsoft.com/en-us/windows/desktop/api/minidumpapiset/ns-minidumpapiset-_minidump_memory_descriptor
func readMemory64List(mdmp *Minidump, buf *minidumpBuf, logfn func(fmt string, args ...interface{})) {
	rangesNum := buf.u64()
	baseOff := buf.u64()
	if buf.err != nil {
		return
	}

	for i := uint64(0); i < rangesNum; i++ {
		addr := buf.u64()
		sz := buf.u64()
		if buf.err != nil {
			return
		}

		end := baseOff + sz
		if end < baseOff || baseOff > uint64(len(buf.buf)) || end > uint64(len(buf.buf)) {
			buf.err = fmt.Errorf("memory range at %#x of size %#x is past the end of file, while %s", baseOff, sz, buf.ctx)
			return
		}

		mdmp.addMemory(addr, buf.buf[baseOff:end])

		if logfn != nil {
			logfn("\tMemory %d addr:%#x size:%#x FileOffset:%#x", i, addr, sz, baseOff)
		}

		baseOff = end
	}
}

func readMemoryInfoList(mdmp *Minidump, buf *minidumpBuf, logfn func(fmt string, args ...interface{})) {
	startOff := buf.off
	sizeOfHeader := int(buf.u32())
	sizeOfEntry := int(buf.u32())
	numEntries := buf.u64()
	if buf.err != nil {
		return
	}
	if sizeOfEntry <= 0 || numEntries > uint64(len(buf.buf)/sizeOfEntry) {
		buf.err = fmt.Errorf("memory info list with %d entries of size %d does not fit in the file", numEntries, sizeOfEntry)
		return
	}

	buf.off = startOff + sizeOfHeader

	mdmp.MemoryInfo = make([]MemoryInfo, numEntries)

	for i := range mdmp.MemoryInfo {
		memInfo := &mdmp.MemoryInfo[i]
		startOff := buf.off

		memInfo.Addr = buf.u64()
		buf.u64() // allocation_base

		buf.u32() // allocation_protection
		buf.u32() // alignment

		memInfo.Size = buf.u64()

		memInfo.State = MemoryState(buf.u32())
		memInfo.Protection = MemoryProtection(buf.u32())
		memInfo.Type = MemoryType(buf.u32())

		if logfn != nil {
			logfn("\tMemoryInfo %d Addr:%#x Size:%#x State:%s Protection:%s Type:%s", i, memInfo.Addr, memInfo.Size, memInfo.State, memInfo.Protection, memInfo.Type)
		}

		buf.off = startOff + sizeOfEntry
	}
}

// readMiscInfo reads the process_id from a MiscInfo stream.
func readMiscInfo(mdmp *Minidump, buf *minidumpBuf) {
	buf.u32() // size of info
	buf.u32() // flags1

	mdmp.Pid = buf.u32() // process_id
	// there are more fields here, but we don't care about them
}

// readMemoryDescriptor reads a memory descriptor struct and adds it to the
// memory map of the minidump.
func readMemoryDescriptor(mdmp *Minidump, buf *minidumpBuf) (addr, size uint64) {
	addr = buf.u64()
	if buf.err != nil {
		return
	}
	_, rawData := readLocationDescriptor(buf)
	if buf.err != nil {
		return
	}
	mdmp.addMemory(addr, rawData)
	return addr, uint64(len(rawData))
}

func (mdmp *Minidump) addMemory(addr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	mdmp.MemoryRanges = append(mdmp.MemoryRanges, MemoryRange{addr, data})
}
