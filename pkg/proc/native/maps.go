// Package native reads the memory of a live process.
package native

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-ndbg/ndbg/pkg/proc"
)

// ErrNativeUnsupported is returned by Attach on operating systems where
// reading the memory of another process is not implemented.
var ErrNativeUnsupported = errors.New("attaching to a live process is not supported on this platform")

// parseMaps parses a /proc/<pid>/maps file, returning the readable
// mappings. Mappings of devices and special kernel areas are skipped.
func parseMaps(r io.Reader) ([]proc.Region, error) {
	var regions []proc.Region
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for s.Scan() {
		lineno++
		line := s.Text()
		if line == "" {
			continue
		}
		start, end, perm, _, dev, filename, err := parseMapsLine(lineno, line)
		if err != nil {
			return nil, err
		}
		if perm[0] != 'r' {
			continue
		}
		if filename == "[vvar]" || filename == "[vsyscall]" {
			continue
		}
		desc := perm
		if filename != "" && !strings.HasPrefix(dev, "00:") || strings.HasPrefix(filename, "[") {
			desc += " " + filename
		}
		regions = append(regions, proc.Region{Addr: start, Size: end - start, Desc: desc})
	}
	return regions, s.Err()
}

func parseMapsLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.Fields(in)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	if end < start {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (end before start)", lineno, in)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	if len(fields) > 5 {
		filename = strings.Join(fields[5:], " ")
	}
	return
}
