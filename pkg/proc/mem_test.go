package proc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/test"
)

func TestReadUintSizes(t *testing.T) {
	fm := test.NewFakeMemory()
	fm.Write(0x1000, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	mem, err := proc.NewMemory(fm, 8, nil)
	require.NoError(t, err)

	for _, tc := range []struct {
		size int
		want uint64
	}{
		{1, 0x01},
		{2, 0x0201},
		{4, 0x04030201},
		{8, 0x0807060504030201},
	} {
		v, err := mem.ReadUint(0x1000, tc.size)
		require.NoError(t, err)
		require.Equal(t, tc.want, v, "size %d", tc.size)
	}

	_, err = mem.ReadUint(0x1000, 3)
	require.Error(t, err)
}

func TestReadPointerWidth(t *testing.T) {
	fm := test.NewFakeMemory()
	fm.Write(0x2000, []byte{0xef, 0xbe, 0xad, 0xde, 0x11, 0x22, 0x33, 0x44})

	mem32, err := proc.NewMemory(fm, 4, nil)
	require.NoError(t, err)
	p, err := mem32.ReadPointer(0x2000)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), p)

	mem64, err := proc.NewMemory(fm, 8, nil)
	require.NoError(t, err)
	p, err = mem64.ReadPointer(0x2000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x44332211deadbeef), p)

	_, err = proc.NewMemory(fm, 2, nil)
	require.True(t, errors.Is(err, proc.ErrUnsupportedPtrSize))
}

func TestShortReadIsReadFailure(t *testing.T) {
	fm := test.NewFakeMemory()
	fm.Write(0x3000, []byte{1, 2})
	mem, _ := proc.NewMemory(fm, 4, nil)

	_, err := mem.Read(0x3000, 4)
	var rf *proc.ReadFailure
	require.True(t, errors.As(err, &rf))
	require.Equal(t, uint64(0x3000), rf.Addr)
	require.Equal(t, 4, rf.Len)
}

func TestBestEffortReadsReportFailure(t *testing.T) {
	fm := test.NewFakeMemory()
	fm.Write(0x4000, []byte{0xaa})
	var diag bytes.Buffer
	mem, _ := proc.NewMemory(fm, 8, &diag)

	require.Equal(t, uint64(0xaa), mem.Byte(0x4000))
	require.Empty(t, diag.String())

	require.Equal(t, uint64(0), mem.Pointer(0x5000))
	require.Equal(t, "Error: Failed to read memory location 0x5000\n", diag.String())

	diag.Reset()
	require.Equal(t, uint64(0), mem.Word(0x4000))
	require.Equal(t, "Error: Failed to read memory location 0x4000\n", diag.String())
}

func TestFormatAddr(t *testing.T) {
	require.Equal(t, "0x0000beef", proc.FormatAddr(0xbeef, 4))
	require.Equal(t, "0x000000000000beef", proc.FormatAddr(0xbeef, 8))
}

type countingReader struct {
	mem   proc.MemoryReader
	reads int
}

func (r *countingReader) ReadMemory(buf []byte, addr uint64) (int, error) {
	r.reads++
	return r.mem.ReadMemory(buf, addr)
}

func TestCacheMemory(t *testing.T) {
	fm := test.NewFakeMemory()
	page := make([]byte, 0x1000)
	for i := range page {
		page[i] = byte(i)
	}
	fm.Write(0x10000, page)
	fm.Write(0x11000, []byte{0xff, 0xfe})

	cr := &countingReader{mem: fm}
	cached := proc.CacheMemory(cr, 4)

	buf := make([]byte, 4)
	n, err := cached.ReadMemory(buf, 0x10010)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{0x10, 0x11, 0x12, 0x13}, buf)
	require.Equal(t, 1, cr.reads)

	_, err = cached.ReadMemory(buf, 0x10100)
	require.NoError(t, err)
	require.Equal(t, 1, cr.reads, "second read should be served by the cache")

	n, err = cached.ReadMemory(buf, 0x10ffe)
	require.NoError(t, err)
	require.Equal(t, []byte{0xfe, 0xff, 0xff, 0xfe}, buf)

	// The page at 0x11000 is only partially mapped, reads go to the source.
	n, err = cached.ReadMemory(buf, 0x11000)
	require.Error(t, err)
	require.Equal(t, 2, n)

	require.Same(t, fm, proc.CacheMemory(fm, 0))
}

func TestCacheMemoryFlush(t *testing.T) {
	fm := test.NewFakeMemory()
	fm.Write(0x10000, make([]byte, 0x1000))
	tgt := proc.NewTarget("process", proc.CacheMemory(fm, 256), 4, nil)
	mem, err := tgt.Memory(0, nil)
	require.NoError(t, err)

	v, err := mem.ReadUint(0x10010, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)

	fm.Write(0x10010, []byte{0xef, 0xbe, 0xad, 0xde})
	v, err = mem.ReadUint(0x10010, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v, "page served from the cache")

	tgt.FlushCache()
	v, err = mem.ReadUint(0x10010, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), v)

	// Targets without a cache ignore the flush.
	proc.NewTarget("image", fm, 4, nil).FlushCache()
}
