package native

import (
	"debug/elf"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
)

// processMemory reads the memory of a live process with
// process_vm_readv(2), falling back to /proc/<pid>/mem when the system
// call is not available.
type processMemory struct {
	pid     int
	memFile *os.File
}

func (p *processMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err == unix.ENOSYS && p.memFile != nil {
		return p.memFile.ReadAt(buf, int64(addr))
	}
	if err != nil {
		return 0, fmt.Errorf("could not read memory of process %d: %v", p.pid, err)
	}
	return n, nil
}

func (p *processMemory) Close() error {
	if p.memFile != nil {
		return p.memFile.Close()
	}
	return nil
}

// Attach opens the memory of the process with the given pid. Reads go
// through a page cache of cachePages pages.
func Attach(pid int, cachePages int) (*proc.Target, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}

	maps, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	regions, err := parseMaps(maps)
	maps.Close()
	if err != nil {
		return nil, err
	}

	ptrSize := exePtrSize(pid)

	mem := &processMemory{pid: pid}
	if f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid)); err == nil {
		mem.memFile = f
	}

	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("attached to %d: %d regions, pointer size %d, cache of %d pages", pid, len(regions), ptrSize, cachePages)
	}

	t := proc.NewTarget("process", proc.CacheMemory(mem, cachePages), ptrSize, mem)
	t.Pid = pid
	t.Regions = regions
	return t, nil
}

// exePtrSize returns the pointer size of the executable of the process,
// the pointer size of ndbg itself if it can not be determined.
func exePtrSize(pid int) int {
	f, err := elf.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return int(unsafe.Sizeof(uintptr(0)))
	}
	defer f.Close()
	if f.Class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}
