package terminal

import (
	"bytes"
	"errors"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ndbg/ndbg/pkg/config"
	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/test"
	"github.com/go-ndbg/ndbg/pkg/stl"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

type FakeTerminal struct {
	*Term
	t testing.TB
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout.pw.w
	ft.Term.stdout.pw.w = &buf
	defer func() {
		ft.Term.stdout.pw.w = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", cmdstr, outstr)
		}
	}()
	err = ft.cmds.Call(cmdstr, ft.Term)
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	ft.t.Helper()
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	ft.t.Helper()
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// imageTarget wraps a synthetic image into a target.
func imageTarget(im *test.Image) *proc.Target {
	tgt := proc.NewTarget("image", im, im.PtrSize, nil)
	for _, r := range im.Ranges() {
		tgt.Regions = append(tgt.Regions, proc.Region{Addr: r.Addr, Size: uint64(len(r.Data)), Desc: "rw-"})
	}
	tgt.SortRegions()
	return tgt
}

func withTestTerminal(t testing.TB, im *test.Image, fn func(*FakeTerminal)) {
	var tgt *proc.Target
	if im != nil {
		tgt = imageTarget(im)
	}
	term, err := New(tgt, &config.Config{})
	require.NoError(t, err)
	defer term.Close()
	fn(&FakeTerminal{Term: term, t: t})
}

func addrs(ptrSize int, as ...uint64) string {
	var b strings.Builder
	for _, a := range as {
		b.WriteString(proc.FormatAddr(a, ptrSize))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestMapCommand(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{10, 20, 30, 40, 50})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		a := proc.FormatAddr(tree.Addr, 8)
		term.AssertExec("map "+a, "Size=5\n"+addrs(8, tree.Values...))
		term.AssertExec("map "+a+" -skip 1 -max 2", "Size=5\n"+addrs(8, tree.Values[1:3]...))
		term.AssertExec("set "+a+" --max=1", "Size=5\n"+addrs(8, tree.Values[0]))
		term.AssertExec("map "+a+" -skip 5", "Size=5\nSkipped all elements.\n")
	})
}

func TestListCommand(t *testing.T) {
	im := test.NewImage(4)
	list := im.BuildList([]uint32{1, 2, 3})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		a := proc.FormatAddr(list.Addr, 4)
		term.AssertExec("list "+a, "Size=3\n"+addrs(4, list.Values...))

		f := func(a uint64) string { return proc.FormatAddr(a, 4) }
		want := "Size=3\n" +
			"Skip=1, Max=1\n" +
			"v:Head=" + f(list.Head) + "\n" +
			"v:Skipping node at " + f(list.Nodes[0]) + "\n" +
			"v:CurrentNode(Address=" + f(list.Nodes[1]) + ", Value=" + f(list.Values[1]) + ")\n" +
			f(list.Values[1]) + "\n"
		term.AssertExec("list "+a+" -v -skip 1 -max 1", want)
	})
}

func TestVectorCommand(t *testing.T) {
	im := test.NewImage(8)
	vec := im.BuildVector([]uint32{3, 4, 5}, 16)
	withTestTerminal(t, im, func(term *FakeTerminal) {
		a := proc.FormatAddr(vec.Addr, 8)
		term.AssertExec("vector "+a+" -size 16", "Size=3\n"+addrs(8, vec.Values...))
		term.AssertExec("vector "+a+" --size=0x10 -skip 2", "Size=3\n"+addrs(8, vec.Values[2]))
		term.AssertExec("vector "+a+" -size 16 -max 1 -c \"dp ${e} 1\"",
			"Size=3\n"+proc.FormatAddr(vec.Values[0], 8)+"  "+proc.FormatAddr(3, 8)+"\n")
		term.AssertExecError("vector "+a, "element size is required")
		term.AssertExecError("list "+a+" -size 16", "unknown flag")
	})
}

func TestPerElementCommand(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{7, 8})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExec("list " + proc.FormatAddr(list.Addr, 8) + ` -c "dp ${e} 1"`)
		want := "Size=2\n" +
			proc.FormatAddr(list.Values[0], 8) + "  " + proc.FormatAddr(7, 8) + "\n" +
			proc.FormatAddr(list.Values[1], 8) + "  " + proc.FormatAddr(8, 8) + "\n"
		assert.Equal(t, want, out)

		// The element binding does not outlive the command.
		term.AssertExecError("dp ${e}", "invalid address")
	})
}

func TestPerElementCommandFailure(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1, 2, 3})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExec("set " + proc.FormatAddr(tree.Addr, 8) + ` -c "nosuchcommand ${e}"`)
		assert.True(t, strings.HasPrefix(out, "Size=3\n"))
		assert.Equal(t, 3, strings.Count(out, "Error: "))
		assert.Empty(t, term.bound)
	})
}

func TestTextReplacements(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		a := proc.FormatAddr(list.Addr, 8)
		term.MustExec("alias lst " + a)
		term.AssertExec("alias lst", "lst = "+a+"\n")
		term.AssertExec("list ${lst}", "Size=1\n"+addrs(8, list.Values[0]))
		term.MustExec("unalias lst")
		term.AssertExecError("list ${lst}", "invalid address")
		term.AssertExecError("unalias lst", "not defined")
		term.AssertExecError("alias 1abc x", "invalid alias name")
		term.AssertExecError("alias e "+a, "reserved")
		// ${e} in a per element command is always the element.
		term.MustExec("alias lst " + a)
		out := term.MustExec("list ${lst} -c \"dp ${e} 1\"")
		assert.Equal(t, "Size=1\n"+proc.FormatAddr(list.Values[0], 8)+"  "+proc.FormatAddr(1, 8)+"\n", out)
	})
}

func TestNestedCommandDepth(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		// An alias whose per element command runs itself.
		term.MustExec(`alias loop list ` + proc.FormatAddr(list.Addr, 8) + ` -c "${loop}"`)
		_, err := term.Exec("${loop}")
		require.NoError(t, err)
		assert.Equal(t, 0, term.depth)
	})
}

func TestParseContainerArgs(t *testing.T) {
	tests := []struct {
		args string
		want stl.Config
		err  bool
	}{
		{"0x10", stl.Config{Kind: stl.Map, Addr: 0x10}, false},
		{"10 -skip 2 -max 3", stl.Config{Kind: stl.Map, Addr: 0x10, Skip: 2, Max: 3}, false},
		{"-skip=0x10 --max 1 ff", stl.Config{Kind: stl.Map, Addr: 0xff, Skip: 16, Max: 1}, false},
		{`-v -c "dp ${e} 2" 0x20`, stl.Config{Kind: stl.Map, Addr: 0x20, Verbose: true, Command: "dp ${e} 2"}, false},
		{"", stl.Config{}, true},
		{"1 2", stl.Config{}, true},
		{"-skip x 1", stl.Config{}, true},
		{"-bogus 1", stl.Config{}, true},
		{"zz", stl.Config{}, true},
	}
	for _, tc := range tests {
		cfg, err := parseContainerArgs(stl.Map, tc.args)
		if tc.err {
			assert.Error(t, err, tc.args)
			continue
		}
		if assert.NoError(t, err, tc.args) {
			assert.Equal(t, tc.want, cfg, tc.args)
		}
	}
}

func TestDumpPointers(t *testing.T) {
	im := test.NewImage(4)
	addr := im.Alloc(8)
	im.PutPointer(addr, 0xdeadbeef)
	im.PutPointer(addr+4, 0x1234)
	withTestTerminal(t, im, func(term *FakeTerminal) {
		f := func(a uint64) string { return proc.FormatAddr(a, 4) }
		term.AssertExec("dp "+f(addr)+" 2", f(addr)+"  "+f(0xdeadbeef)+" "+f(0x1234)+"\n")
		// The last word is past the end of the allocation.
		out := term.MustExec("dp " + f(addr+4) + " 2")
		assert.Equal(t, f(addr+4)+"  "+f(0x1234)+" ??????????\n", out)
		term.AssertExecError("dp", "wrong number of arguments")
		term.AssertExecError("dp "+f(addr)+" 0", "count")
	})
}

func TestCachedTargetRereadsMemory(t *testing.T) {
	im := test.NewImage(4)
	addr := im.Alloc(0x1000)
	tgt := imageTarget(im)
	tgt.Mem = proc.CacheMemory(im, 16)
	term, err := New(tgt, &config.Config{})
	require.NoError(t, err)
	defer term.Close()
	ft := &FakeTerminal{Term: term, t: t}

	f := func(a uint64) string { return proc.FormatAddr(a, 4) }
	ft.AssertExec("dp "+f(addr)+" 1", f(addr)+"  "+f(0)+"\n")
	// The process keeps running between commands.
	im.PutPointer(addr, 0xdeadbeef)
	ft.AssertExec("dp "+f(addr)+" 1", f(addr)+"  "+f(0xdeadbeef)+"\n")
}

func TestExamineMemory(t *testing.T) {
	im := test.NewImage(8)
	addr := im.Alloc(4)
	im.Write(addr, []byte{1, 2, 0xff, 0x10})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExec("x -count 4 " + proc.FormatAddr(addr, 8))
		assert.Contains(t, out, "0x01")
		assert.Contains(t, out, "0xff")
		out = term.MustExec("x -fmt dec -size 2 " + proc.FormatAddr(addr, 8))
		assert.Contains(t, out, "513")
		term.AssertExecError("x -size 3 0x10", "size must be")
		term.AssertExecError("x -count 4 0x10", "")
		term.AssertExecError("x -count 1001 "+proc.FormatAddr(addr, 8), "less than or equal to 1000")
		term.AssertExecError("x -count 251 -size 4 "+proc.FormatAddr(addr, 8), "less than or equal to 1000")
		// count*size wraps around to zero.
		term.AssertExecError("x -count 4611686018427387904 -size 4 "+proc.FormatAddr(addr, 8), "less than or equal to 1000")
	})
}

func TestRegionsAndTarget(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExec("regions")
		assert.True(t, strings.HasPrefix(out, "Start"))
		assert.Contains(t, out, proc.FormatAddr(tree.Addr, 8))
		out = term.MustExec("regions " + proc.FormatAddr(tree.Addr, 8))
		assert.Equal(t, 2, strings.Count(out, "\n"))
		term.AssertExecError("regions 0x10", "not in any region")

		out = term.MustExec("target")
		assert.Contains(t, out, "64-bit")
	})
}

func TestNoTarget(t *testing.T) {
	withTestTerminal(t, nil, func(term *FakeTerminal) {
		term.AssertExecError("map 0x1000", errNoTarget.Error())
		term.AssertExecError("regions", errNoTarget.Error())
		term.AssertExecError("nosuchcommand", noCmdError.Error())
		term.MustExec("help")
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, nil, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{"Walking containers:", "map", "list", "dp", "examinemem (alias: x)", "exit (alias: quit | q)"} {
			assert.Contains(t, out, s)
		}
		assert.Contains(t, term.MustExec("help map"), "-skip")
		term.AssertExecError("help nosuchcommand", noCmdError.Error())
	})
}

func TestConfigCommand(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{1, 2, 3, 4, 5, 6, 7})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		term.MustExec("config max-tree-depth 2")
		out, err := term.Exec("set " + proc.FormatAddr(tree.Addr, 8))
		var derr *stl.DepthError
		require.True(t, errors.As(err, &derr), "expected a depth error, got %v", err)
		assert.Equal(t, "Size=7\n", out)

		term.AssertExecError("config nosuchparameter 1", "not a configuration parameter")
		term.AssertExecError("config max-tree-depth x", "must be a number")
		term.AssertExecError("config pointer-width 3", "pointer")
		assert.Equal(t, 0, term.conf.PointerWidth)

		term.MustExec("config pointer-width 4")
		assert.Equal(t, 4, term.mem.PtrSize())

		term.MustExec("config alias list ls")
		term.MustExec("config pointer-width 0")
		term.MustExec("config max-tree-depth 0")
		term.AssertExec("ls "+proc.FormatAddr(tree.Addr, 8), "Size=7\n"+addrs(8, tree.Values...))

		out = term.MustExec("config -list")
		assert.Contains(t, out, "max-tree-depth")
		assert.NotContains(t, out, "aliases")
	})
}

func TestExecuteFile(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1, 2})
	dir := t.TempDir()
	path := filepath.Join(dir, "cmds")
	a := proc.FormatAddr(list.Addr, 8)
	require.NoError(t, ioutil.WriteFile(path, []byte("# comment\nalias l "+a+"\n\nlist ${l} -max 1\nbogus\n"), 0600))
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExec("source " + path)
		assert.Contains(t, out, "Size=2\n"+addrs(8, list.Values[0]))
		assert.Contains(t, out, path+":5: "+noCmdError.Error())
	})
}

func TestTranscript(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1})
	path := filepath.Join(t.TempDir(), "transcript")
	withTestTerminal(t, im, func(term *FakeTerminal) {
		term.MustExec("transcript -t " + path)
		term.MustExec("list " + proc.FormatAddr(list.Addr, 8))
		term.MustExec("transcript -off")
		term.MustExec("list " + proc.FormatAddr(list.Addr, 8))
		buf, err := ioutil.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Size=1\n"+addrs(8, list.Values[0]), string(buf))
		term.AssertExecError("transcript", "no output path")
	})
}

func TestExit(t *testing.T) {
	withTestTerminal(t, nil, func(term *FakeTerminal) {
		_, err := term.Exec("quit")
		_, ok := err.(ExitRequestError)
		assert.True(t, ok)
	})
}

func TestCompletion(t *testing.T) {
	withTestTerminal(t, nil, func(term *FakeTerminal) {
		assert.Equal(t, []string{"examinemem", "exit"}, term.cmds.complete("ex"))
		term.cmds.Merge(map[string][]string{"map": {"mp"}})
		assert.Equal(t, []string{"map", "mp"}, term.cmds.complete("m"))
	})
}
