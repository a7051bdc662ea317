package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-ndbg/ndbg/pkg/config"
	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".ndbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const ansiRed = 31

// maxCommandDepth caps the nesting of commands started by other commands
// (per element commands of map, set and list, and aliases expanding to
// them).
const maxCommandDepth = 16

var textReplacementRx = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Term represents the terminal running ndbg.
type Term struct {
	target   *proc.Target
	mem      *proc.Memory
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	color    bool
	stdout   *transcriptWriter
	stderr   io.Writer
	InitFile string

	starlarkEnv *starbind.Env

	// aliases are the text replacements defined by the alias command,
	// bound are the ones bound by running commands (${e} while a per
	// element command runs). Bound replacements shadow aliases.
	aliases map[string]string
	bound   map[string]string

	depth int
}

// New returns a new Term inspecting target. Target can be nil, in which
// case only the commands that do not read memory are usable.
func New(target *proc.Target, conf *config.Config) (*Term, error) {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w, ew io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w, ew = os.Stdout, os.Stderr
	} else {
		w, ew = colorable.NewColorableStdout(), colorable.NewColorableStderr()
	}

	t := &Term{
		target:  target,
		conf:    conf,
		prompt:  "(ndbg) ",
		line:    liner.NewLiner(),
		cmds:    cmds,
		dumb:    dumb,
		color:   !dumb && conf.GetOutputColor() && isatty.IsTerminal(os.Stderr.Fd()),
		stdout:  &transcriptWriter{pw: &pagingWriter{w: w}},
		stderr:  ew,
		aliases: map[string]string{},
		bound:   map[string]string{},
	}
	if conf.InitFile != "" {
		t.InitFile = conf.InitFile
	}

	if target != nil {
		if err := t.loadMemory(); err != nil {
			t.line.Close()
			return nil, err
		}
	}

	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t, nil
}

// loadMemory (re)creates the memory view of the target, honoring the
// pointer width override of the configuration.
func (t *Term) loadMemory() error {
	mem, err := t.target.Memory(t.conf.PointerWidth, t.stdout)
	if err != nil {
		return err
	}
	t.mem = mem
	return nil
}

// memory returns the memory view of the target.
func (t *Term) memory() (*proc.Memory, error) {
	if t.mem == nil {
		return nil, errNoTarget
	}
	t.mem.SetDiagnostics(t.stdout)
	return t.mem, nil
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Fprintf(t.stderr, "received SIGINT, stopping script\n")
		t.starlarkEnv.Cancel()
	}
}

// Run begins running ndbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)
	defer signal.Stop(ch)

	t.line.SetCompleter(func(line string) []string {
		if strings.ContainsAny(line, " \t") {
			return nil
		}
		return t.cmds.complete(strings.ToLower(line))
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	if t.target != nil {
		fmt.Fprintln(t.stdout, t.target)
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.errorf("Error executing init file: %s\n", err)
		}
	}

	var lastCmd string
	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if strings.TrimSpace(cmdstr) == "" {
			cmdstr = lastCmd
		} else {
			lastCmd = cmdstr
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.errorf("Command failed: %s\n", err)
		}
		t.stdout.Flush()
	}
}

// RunCommands runs the init file and then cmdstrs, without reading from
// the terminal. It stops at the first failing command.
func (t *Term) RunCommands(cmdstrs []string) (int, error) {
	defer t.Close()
	defer t.stdout.CloseTranscript()
	if t.InitFile != "" {
		if err := t.cmds.executeFile(t, t.InitFile); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return 0, nil
			}
			return 1, fmt.Errorf("error executing init file: %v", err)
		}
	}
	for _, cmdstr := range cmdstrs {
		if err := t.Call(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return 0, nil
			}
			return 1, fmt.Errorf("command %q failed: %v", cmdstr, err)
		}
	}
	return 0, nil
}

// Call executes a single command.
func (t *Term) Call(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

// errorf prints a message on stderr, highlighted if stderr is a terminal.
func (t *Term) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if t.color {
		msg = fmt.Sprintf(terminalHighlightEscapeCode, ansiRed) + strings.TrimSuffix(msg, "\n") + terminalResetEscapeCode + "\n"
	}
	fmt.Fprint(t.stderr, msg)
}

// SetTextReplacement binds ${name} to value for the commands executed
// until ClearTextReplacement is called.
func (t *Term) SetTextReplacement(name, value string) {
	t.bound[name] = value
}

// ClearTextReplacement removes a binding made by SetTextReplacement.
func (t *Term) ClearTextReplacement(name string) {
	delete(t.bound, name)
}

// Execute runs cmdstr as a command nested in the currently running one.
func (t *Term) Execute(cmdstr string) error {
	return t.cmds.CallWithContext(cmdstr, t, callContext{Depth: t.depth + 1})
}

// expandTextReplacements replaces every ${name} in s with the value bound
// to name. Unknown names are left untouched.
func (t *Term) expandTextReplacements(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return textReplacementRx.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := t.bound[name]; ok {
			return v
		}
		if v, ok := t.aliases[name]; ok {
			return v
		}
		return m
	})
}

func (t *Term) sortedAliases() []string {
	names := make([]string, 0, len(t.aliases))
	for name := range t.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	t.stdout.CloseTranscript()

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.target != nil {
		if err := t.target.Close(); err != nil {
			if logflags.Terminal() {
				logflags.TerminalLogger().Errorf("closing target: %v", err)
			}
			return 1, err
		}
	}
	return 0, nil
}
