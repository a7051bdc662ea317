package cmds

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ndbg/ndbg/pkg/config"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/core"
	"github.com/go-ndbg/ndbg/pkg/proc/test"
)

func TestVersionCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	root := New()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "ndbg\nVersion: ")
}

func TestCommandTree(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	root := New()
	for _, name := range []string{"core", "attach", "version", "log"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"log", "log-output", "log-dest", "init", "cmd", "ptr-size"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

// captureStdout runs fn with os.Stdout redirected to a file and returns
// what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	fh, err := ioutil.TempFile(t.TempDir(), "stdout")
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = fh
	defer func() { os.Stdout = stdout }()
	fn()
	require.NoError(t, fh.Close())
	buf, err := ioutil.ReadFile(fh.Name())
	require.NoError(t, err)
	return string(buf)
}

func withFlags(t *testing.T, cmds []string, ptr int) {
	commands, ptrSize = cmds, ptr
	t.Cleanup(func() { commands, ptrSize = nil, 0 })
}

func TestExecuteCommands(t *testing.T) {
	im := test.NewImage(8)
	list := im.BuildList([]uint32{1, 2})
	md := &test.Minidump{Arch: 9, Pid: 1, Ranges: im.Ranges()}
	path, err := md.WriteFile(t.TempDir())
	require.NoError(t, err)

	withFlags(t, []string{"list " + proc.FormatAddr(list.Addr, 8) + " -skip 1"}, 0)
	var status int
	out := captureStdout(t, func() {
		status = execute(func() (*proc.Target, error) { return core.OpenCore(path) }, &config.Config{})
	})
	assert.Equal(t, 0, status)
	assert.Equal(t, "Size=2\n"+proc.FormatAddr(list.Values[1], 8)+"\n", out)
}

func TestExecuteFailures(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nosuchfile")
	open := func() (*proc.Target, error) { return core.OpenCore(missing) }

	withFlags(t, []string{"help"}, 0)
	assert.Equal(t, 1, execute(open, &config.Config{}))

	withFlags(t, []string{"help"}, 3)
	assert.Equal(t, 1, execute(open, &config.Config{}))

	im := test.NewImage(4)
	im.Alloc(16)
	md := &test.Minidump{Arch: 0, Pid: 1, Ranges: im.Ranges()}
	path, err := md.WriteFile(t.TempDir())
	require.NoError(t, err)
	withFlags(t, []string{"nosuchcommand"}, 0)
	captureStdout(t, func() {
		assert.Equal(t, 1, execute(func() (*proc.Target, error) { return core.OpenCore(path) }, &config.Config{}))
	})
}
