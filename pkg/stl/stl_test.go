package stl_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/test"
	"github.com/go-ndbg/ndbg/pkg/stl"
)

type result struct {
	out  string
	diag string
	err  error
}

func run(t *testing.T, im *test.Image, cfg stl.Config) result {
	t.Helper()
	var out, diag bytes.Buffer
	mem, err := proc.NewMemory(im, im.PtrSize, &diag)
	require.NoError(t, err)
	c, err := stl.New(mem, cfg, &out, &stl.PrintSink{W: &out, PtrSize: im.PtrSize})
	require.NoError(t, err)
	err = c.Execute()
	return result{out: out.String(), diag: diag.String(), err: err}
}

func addrLines(ptrSize int, addrs ...uint64) string {
	var b strings.Builder
	for _, a := range addrs {
		b.WriteString(proc.FormatAddr(a, ptrSize))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestLayoutOffsets(t *testing.T) {
	l, err := stl.LayoutFor(stl.Map, 4)
	require.NoError(t, err)
	require.Equal(t, stl.Layout{PtrSize: 4, Root: 4, Size: 8, Left: 0, Parent: 4, Right: 8, Value: 0xc}, l)

	l, err = stl.LayoutFor(stl.Set, 8)
	require.NoError(t, err)
	require.Equal(t, stl.Layout{PtrSize: 8, Root: 8, Size: 16, Left: 0, Parent: 8, Right: 16, Value: 0x1c}, l)

	l, err = stl.LayoutFor(stl.List, 4)
	require.NoError(t, err)
	require.Equal(t, stl.Layout{PtrSize: 4, Root: 4, Size: 8, Next: 0, Prev: 4, Value: 8}, l)

	l, err = stl.LayoutFor(stl.List, 8)
	require.NoError(t, err)
	require.Equal(t, stl.Layout{PtrSize: 8, Root: 8, Size: 16, Next: 0, Prev: 8, Value: 16}, l)

	l, err = stl.LayoutFor(stl.Vector, 8)
	require.NoError(t, err)
	require.Equal(t, stl.Layout{PtrSize: 8, First: 8, Last: 16, End: 24}, l)

	_, err = stl.LayoutFor(stl.List, 2)
	require.True(t, errors.Is(err, proc.ErrUnsupportedPtrSize))
}

func TestEmptyContainer(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		im := test.NewImage(ptrSize)
		tree := im.BuildTree(nil)
		list := im.BuildList(nil)

		r := run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr})
		require.NoError(t, r.err)
		require.Equal(t, "Size=0\n", r.out)

		r = run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr, Verbose: true})
		require.NoError(t, r.err)
		require.Equal(t, "Size=0\n", r.out)
	}
}

func TestSkipExhaustsSize(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1, 2, 3, 4, 5})
	list := im.BuildList([]uint32{1, 2, 3, 4, 5})

	for _, skip := range []uint64{5, 10} {
		r := run(t, im, stl.Config{Kind: stl.Set, Addr: tree.Addr, Skip: skip})
		require.NoError(t, r.err)
		require.Equal(t, "Size=5\nSkipped all elements.\n", r.out)

		r = run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr, Skip: skip})
		require.NoError(t, r.err)
		require.Equal(t, "Size=5\nSkipped all elements.\n", r.out)
	}
}

func TestTreeInOrder(t *testing.T) {
	keys := []uint32{50, 20, 80, 10, 30, 70, 90, 25, 35, 5, 95, 60}
	for _, ptrSize := range []int{4, 8} {
		t.Run(fmt.Sprintf("ptr%d", ptrSize), func(t *testing.T) {
			im := test.NewImage(ptrSize)
			tree := im.BuildTree(keys)
			mem, err := proc.NewMemory(im, ptrSize, nil)
			require.NoError(t, err)

			elems, err := stl.Elements(mem, stl.Config{Kind: stl.Map, Addr: tree.Addr})
			require.NoError(t, err)
			require.Equal(t, tree.Values, elems)

			var prev uint64
			for i, e := range elems {
				k, err := mem.ReadUint(e, 4)
				require.NoError(t, err)
				if i > 0 {
					require.Greater(t, k, prev)
				}
				prev = k
			}
		})
	}
}

func TestTreeSingleNode(t *testing.T) {
	im := test.NewImage(4)
	tree := im.BuildTree([]uint32{42})
	r := run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr})
	require.NoError(t, r.err)
	require.Equal(t, "Size=1\n"+addrLines(4, tree.Values[0]), r.out)
}

func TestWindowing(t *testing.T) {
	for _, kind := range []stl.Kind{stl.Map, stl.List} {
		for _, ptrSize := range []int{4, 8} {
			im := test.NewImage(ptrSize)
			var addr uint64
			var values []uint64
			if kind.IsTree() {
				tree := im.BuildTree([]uint32{1, 2, 3, 4, 5})
				addr, values = tree.Addr, tree.Values
			} else {
				list := im.BuildList([]uint32{1, 2, 3, 4, 5})
				addr, values = list.Addr, list.Values
			}

			for _, tc := range []struct {
				skip, max uint64
				want      []uint64
			}{
				{0, 0, values},
				{2, 2, values[2:4]},
				{0, 1, values[:1]},
				{4, 0, values[4:]},
				{3, 10, values[3:]},
				{1, 1<<64 - 1, values[1:]},
			} {
				r := run(t, im, stl.Config{Kind: kind, Addr: addr, Skip: tc.skip, Max: tc.max})
				require.NoError(t, r.err)
				require.Equal(t, "Size=5\n"+addrLines(ptrSize, tc.want...), r.out, "%v ptr%d skip=%d max=%d", kind, ptrSize, tc.skip, tc.max)
			}
		}
	}
}

func TestMapExample64(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{3, 1, 4, 2})
	r := run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr, Skip: 1, Max: 2})
	require.NoError(t, r.err)
	require.Equal(t, "Size=4\n"+addrLines(8, tree.Values[1], tree.Values[2]), r.out)
}

func TestListExample32(t *testing.T) {
	im := test.NewImage(4)
	list := im.BuildList([]uint32{0xa, 0xb, 0xc})
	r := run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr})
	require.NoError(t, r.err)
	require.Equal(t, "Size=3\n"+addrLines(4, list.Values...), r.out)
	require.Empty(t, r.diag)
}

func TestListBoundedBySize(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1, 2, 3})
	// Make the last node point back to the first element instead of the
	// head: following next pointers alone would never terminate.
	im.PutPointer(list.Nodes[2], list.Nodes[0])
	// Claim a larger size than the ring actually holds.
	im.PutPointer(list.Addr+16, 7)

	r := run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr})
	require.NoError(t, r.err)
	want := []uint64{list.Values[0], list.Values[1], list.Values[2], list.Values[0], list.Values[1], list.Values[2], list.Values[0]}
	require.Equal(t, "Size=7\n"+addrLines(8, want...), r.out)
}

func TestReadFailureOnRightChild(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1, 2, 3, 4, 5, 6, 7})
	// Node holding key 2 has both children (1 and 3); break its right
	// pointer.
	broken := tree.Nodes[1]
	im.Fault(broken + 16)

	r := run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr})
	require.NoError(t, r.err)
	require.Equal(t, fmt.Sprintf("Error: Failed to read memory location %#x\n", broken+16), r.diag)

	// Key 3 is lost with the right subtree of 2, everything else is
	// still visited.
	want := []uint64{tree.Values[0], tree.Values[1], tree.Values[3], tree.Values[4], tree.Values[5], tree.Values[6]}
	require.Equal(t, "Size=7\n"+addrLines(8, want...), r.out)
}

func TestListReadFailure(t *testing.T) {
	im := test.NewImage(4)
	list := im.BuildList([]uint32{1, 2, 3, 4})
	im.Fault(list.Nodes[1])

	r := run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr})
	require.NoError(t, r.err)
	require.Equal(t, "Size=4\n"+addrLines(4, list.Values[0], list.Values[1]), r.out)
	require.Equal(t, fmt.Sprintf("Error: Failed to read memory location %#x\n", list.Nodes[1]), r.diag)
}

func TestVerboseTree(t *testing.T) {
	im := test.NewImage(4)
	tree := im.BuildTree([]uint32{1, 2, 3})
	r := run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr, Skip: 1, Verbose: true})
	require.NoError(t, r.err)

	f := func(a uint64) string { return proc.FormatAddr(a, 4) }
	want := "Size=3\n" +
		"Skip=1, Max=0\n" +
		"v:Head=" + f(tree.Nodes[1]) + "\n" +
		"v:Skipping node at " + f(tree.Nodes[0]) + "\n" +
		"v:CurrentNode(Address=" + f(tree.Nodes[1]) + ", Left=" + f(tree.Nodes[0]) + ", Value=" + f(tree.Values[1]) + ", Right=" + f(tree.Nodes[2]) + ")\n" +
		f(tree.Values[1]) + "\n" +
		"v:CurrentNode(Address=" + f(tree.Nodes[2]) + ", Left=" + f(tree.Head) + ", Value=" + f(tree.Values[2]) + ", Right=" + f(tree.Head) + ")\n" +
		f(tree.Values[2]) + "\n"
	require.Equal(t, want, r.out)
}

func TestVerboseList(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1, 2})
	r := run(t, im, stl.Config{Kind: stl.List, Addr: list.Addr, Max: 1, Verbose: true})
	require.NoError(t, r.err)

	f := func(a uint64) string { return proc.FormatAddr(a, 8) }
	want := "Size=2\n" +
		"Skip=0, Max=1\n" +
		"v:Head=" + f(list.Head) + "\n" +
		"v:CurrentNode(Address=" + f(list.Nodes[0]) + ", Value=" + f(list.Values[0]) + ")\n" +
		f(list.Values[0]) + "\n"
	require.Equal(t, want, r.out)
}

func TestDepthCap(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1, 2, 3, 4, 5, 6, 7})
	// Turn the leftmost leaf's left pointer into a loop.
	im.PutPointer(tree.Nodes[0], tree.Nodes[0])

	r := run(t, im, stl.Config{Kind: stl.Set, Addr: tree.Addr, MaxDepth: 16})
	var derr *stl.DepthError
	require.True(t, errors.As(r.err, &derr))
	require.Equal(t, 16, derr.Depth)
	require.Equal(t, "Size=7\n", r.out)
}

func TestConfigurationErrors(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1})

	r := run(t, im, stl.Config{Kind: stl.Map, Addr: 0})
	require.Equal(t, stl.ErrNilContainer, r.err)
	require.Empty(t, r.out)

	r = run(t, im, stl.Config{Kind: stl.Map, Addr: 0xdead0000})
	require.Error(t, r.err)
	require.Empty(t, r.out)

	im.PutPointer(tree.Addr+16, 1<<40)
	r = run(t, im, stl.Config{Kind: stl.Map, Addr: tree.Addr})
	require.Error(t, r.err)
	require.Empty(t, r.out)
}

type fakeHost struct {
	aliases map[string]string
	ran     []string
	fail    map[string]bool
}

func (h *fakeHost) SetTextReplacement(name, value string) { h.aliases[name] = value }
func (h *fakeHost) ClearTextReplacement(name string)      { delete(h.aliases, name) }

func (h *fakeHost) Execute(cmd string) error {
	e, ok := h.aliases[stl.ElementAlias]
	if !ok {
		return errors.New("element alias not bound")
	}
	cmd = strings.Replace(cmd, "${e}", e, -1)
	h.ran = append(h.ran, cmd)
	if h.fail[e] {
		return errors.New("boom")
	}
	return nil
}

func TestInvokeSink(t *testing.T) {
	im := test.NewImage(4)
	list := im.BuildList([]uint32{1, 2, 3})
	host := &fakeHost{aliases: map[string]string{}, fail: map[string]bool{proc.FormatAddr(list.Values[1], 4): true}}

	var out, diag bytes.Buffer
	mem, err := proc.NewMemory(im, 4, &diag)
	require.NoError(t, err)
	cfg := stl.Config{Kind: stl.List, Addr: list.Addr, Command: "dp ${e} 1"}
	sink, err := stl.SinkFor(cfg, host, &out, 4)
	require.NoError(t, err)
	c, err := stl.New(mem, cfg, &out, sink)
	require.NoError(t, err)
	require.NoError(t, c.Execute())

	require.Equal(t, "Size=3\n", out.String())
	require.Len(t, host.ran, 3)
	for i, v := range list.Values {
		require.Equal(t, "dp "+proc.FormatAddr(v, 4)+" 1", host.ran[i])
	}
	require.Empty(t, host.aliases, "element alias must be cleared after each command")
	require.Contains(t, diag.String(), "boom")
	require.Equal(t, 1, strings.Count(diag.String(), "\n"))
}

func TestSinkFor(t *testing.T) {
	var out bytes.Buffer
	sink, err := stl.SinkFor(stl.Config{}, nil, &out, 8)
	require.NoError(t, err)
	require.IsType(t, &stl.PrintSink{}, sink)

	_, err = stl.SinkFor(stl.Config{Command: "dp ${e}"}, nil, &out, 8)
	require.Error(t, err, "a command without a host must not fall back to printing")

	sink, err = stl.SinkFor(stl.Config{Command: "dp ${e}"}, &fakeHost{aliases: map[string]string{}}, &out, 8)
	require.NoError(t, err)
	require.IsType(t, &stl.InvokeSink{}, sink)
}

func TestVector(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		im := test.NewImage(ptrSize)
		vec := im.BuildVector([]uint32{1, 2, 3, 4, 5}, 12)

		r := run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 12})
		require.NoError(t, r.err)
		require.Equal(t, "Size=5\n"+addrLines(ptrSize, vec.Values...), r.out)

		r = run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 12, Skip: 1, Max: 2})
		require.NoError(t, r.err)
		require.Equal(t, "Size=5\n"+addrLines(ptrSize, vec.Values[1:3]...), r.out)

		r = run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 12, Skip: 5})
		require.NoError(t, r.err)
		require.Equal(t, "Size=5\nSkipped all elements.\n", r.out)

		// A wrong element size changes the number of elements.
		r = run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 4})
		require.NoError(t, r.err)
		require.True(t, strings.HasPrefix(r.out, "Size=15\n"))

		r = run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 12, Skip: 3, Verbose: true})
		require.NoError(t, r.err)
		f := func(a uint64) string { return proc.FormatAddr(a, ptrSize) }
		require.Equal(t, "Size=5\nSkip=3, Max=0\n"+
			"v:First="+f(vec.First)+", ElementSize=12\n"+
			"v:CurrentNode(Address="+f(vec.Values[3])+")\n"+f(vec.Values[3])+"\n"+
			"v:CurrentNode(Address="+f(vec.Values[4])+")\n"+f(vec.Values[4])+"\n", r.out)
	}
}

func TestVectorErrors(t *testing.T) {
	im := test.NewImage(8)
	vec := im.BuildVector([]uint32{1, 2}, 4)
	empty := im.BuildVector(nil, 4)

	mem, err := proc.NewMemory(im, 8, nil)
	require.NoError(t, err)
	_, err = stl.New(mem, stl.Config{Kind: stl.Vector, Addr: vec.Addr}, nil, &stl.CollectSink{})
	require.Error(t, err, "element size is required")

	r := run(t, im, stl.Config{Kind: stl.Vector, Addr: empty.Addr, ElemSize: 4})
	require.NoError(t, r.err)
	require.Equal(t, "Size=0\n", r.out)

	// Last before first.
	im.PutPointer(vec.Addr+16, vec.First-4)
	r = run(t, im, stl.Config{Kind: stl.Vector, Addr: vec.Addr, ElemSize: 4})
	require.Error(t, r.err)
	require.Empty(t, r.out)

	r = run(t, im, stl.Config{Kind: stl.Vector, Addr: 0x10, ElemSize: 4})
	require.Error(t, r.err)
	require.Empty(t, r.out)
}
