package core

import (
	"fmt"
	"strings"

	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/core/minidump"
)

func openMinidump(minidumpPath string) (*proc.Target, error) {
	var logfn func(string, ...interface{})
	if logflags.Minidump() {
		logfn = logflags.MinidumpLogger().Debugf
	}

	mdmp, err := minidump.Open(minidumpPath, logfn)
	if err != nil {
		if _, isNotAMinidump := err.(minidump.ErrNotAMinidump); isNotAMinidump {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}

	memory := &splicedMemory{}

	for i := range mdmp.MemoryRanges {
		m := &mdmp.MemoryRanges[i]
		memory.Add(m, m.Addr, uint64(len(m.Data)))
	}

	t := proc.NewTarget("minidump", memory, mdmp.PtrSize(), nil)
	t.Pid = int(mdmp.Pid)
	t.Regions = minidumpRegions(mdmp)
	return t, nil
}

// minidumpRegions describes the memory ranges saved in mdmp: their
// protection, when the dump has a memory info list, followed by the module
// or thread stack each one belongs to.
func minidumpRegions(mdmp *minidump.Minidump) []proc.Region {
	regions := make([]proc.Region, 0, len(mdmp.MemoryRanges))
	seen := map[proc.Region]bool{}
	for i := range mdmp.MemoryRanges {
		m := &mdmp.MemoryRanges[i]
		r := proc.Region{Addr: m.Addr, Size: uint64(len(m.Data))}
		// Thread stacks are usually also listed in the memory list.
		if seen[r] {
			continue
		}
		seen[r] = true

		var owner string
		for _, th := range mdmp.Threads {
			if th.StackSize != 0 && m.Addr >= th.StackAddr && m.Addr < th.StackAddr+th.StackSize {
				owner = fmt.Sprintf("stack of thread %#x", th.ID)
				break
			}
		}
		if owner == "" {
			for _, mod := range mdmp.Modules {
				if m.Addr >= mod.BaseOfImage && m.Addr < mod.BaseOfImage+uint64(mod.SizeOfImage) {
					owner = mod.Name
					if v := mod.VersionInfo.Version(); v != "" {
						owner += " " + v
					}
					break
				}
			}
		}

		var desc []string
		if mi := mdmp.MemoryInfoAt(m.Addr); mi != nil {
			desc = append(desc, mi.Protection.String())
			if owner == "" {
				owner = mi.Type.String()
			}
		}
		if owner != "" {
			desc = append(desc, owner)
		}
		r.Desc = strings.Join(desc, " ")
		regions = append(regions, r)
	}
	return regions
}
