package terminal

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/test"
)

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	path := filepath.Join(ft.t.(*testing.T).TempDir(), "script.star")
	if err := ioutil.WriteFile(path, []byte(starlarkProgram), 0600); err != nil {
		ft.t.Fatalf("could not write script: %v", err)
	}
	return ft.Exec("source " + path)
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	ft.t.Helper()
	out, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Fatalf("Error executing starlark: %v", err)
	}
	return out
}

func TestStarlarkElements(t *testing.T) {
	im := test.NewImage(8)
	tree := im.BuildTree([]uint32{5, 6, 7, 8})
	list := im.BuildList([]uint32{1, 2, 3})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExecStarlark(fmt.Sprintf(`
for v in map_elements(%#x, skip=1, max=2):
	print("0x%%x"%%v, read_uint(v, 4))
`, tree.Addr))
		assert.Equal(t, fmt.Sprintf("%#x 6\n%#x 7\n", tree.Values[1], tree.Values[2]), out)

		out = term.MustExecStarlark(fmt.Sprintf(`
vals = [read_uint(v, 4) for v in list_elements(%d)]
print(vals, len(set_elements(%d)))
`, list.Addr, tree.Addr))
		assert.Equal(t, "[1, 2, 3] 4\n", out)
	})
}

func TestStarlarkVectorElements(t *testing.T) {
	im := test.NewImage(4)
	vec := im.BuildVector([]uint32{10, 20, 30}, 8)
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExecStarlark(fmt.Sprintf(`
print([read_uint(v, 4) for v in vector_elements(%d, 8)])
print(len(vector_elements(%d, 8, skip=1, max=5)))
`, vec.Addr, vec.Addr))
		assert.Equal(t, "[10, 20, 30]\n2\n", out)

		_, err := term.ExecStarlark(fmt.Sprintf("vector_elements(%d)", vec.Addr))
		require.Error(t, err)
	})
}

func TestStarlarkMemory(t *testing.T) {
	im := test.NewImage(4)
	list := im.BuildList([]uint32{1})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		out := term.MustExecStarlark(fmt.Sprintf(`
print(pointer_size())
print(read_pointer(%d + 4) == %d)
print(len(regions()) > 0, regions()[0].Addr == %d)
`, list.Addr, list.Head, imageTarget(im).Regions[0].Addr))
		assert.Equal(t, "4\nTrue\nTrue True\n", out)

		_, err := term.ExecStarlark("read_pointer(0x10)")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read 4 bytes at 0x10")
	})
}

func TestStarlarkCommands(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1, 2})
	withTestTerminal(t, im, func(term *FakeTerminal) {
		term.MustExecStarlark(`
def command_count(args):
	"Counts the elements of a list."
	print(len(list_elements(int(args, 16))))

def main():
	ndbg_command("alias", "answer", "42")
`)
		term.AssertExec("count "+proc.FormatAddr(list.Addr, 8), "2\n")
		assert.Contains(t, term.MustExec("help count"), "Counts the elements")
		term.AssertExec("alias answer", "answer = 42\n")

		out := term.MustExecStarlark(fmt.Sprintf(`ndbg_command("list %#x -max 1")`, list.Addr))
		assert.Equal(t, "Size=2\n"+addrs(8, list.Values[0]), out)
	})
}

func TestStarlarkNoTarget(t *testing.T) {
	withTestTerminal(t, nil, func(term *FakeTerminal) {
		_, err := term.ExecStarlark("pointer_size()")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), errNoTarget.Error()))
		term.AssertExec("source "+writeScript(t, `print(regions())`), "[]\n")
	})
}

func writeScript(t *testing.T, src string) string {
	path := filepath.Join(t.TempDir(), "s.star")
	require.NoError(t, ioutil.WriteFile(path, []byte(src), 0600))
	return path
}
