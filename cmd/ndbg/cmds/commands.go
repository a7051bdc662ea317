package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ndbg/ndbg/pkg/config"
	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/proc/core"
	"github.com/go-ndbg/ndbg/pkg/proc/native"
	"github.com/go-ndbg/ndbg/pkg/terminal"
	"github.com/go-ndbg/ndbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// commands are executed instead of starting an interactive session.
	commands []string
	// ptrSize overrides the pointer size detected from the target.
	ptrSize int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const ndbgCommandLongDesc = `ndbg inspects the memory of native processes.

ndbg opens a crash dump, a core file or a running process and lets you walk
the standard library containers (ordered maps and sets, doubly linked
lists, vectors) stored in its memory, using only the raw bytes of the image.

Run commands without entering the interactive terminal with --cmd, for example:

` + "`ndbg core app.dmp --cmd \"map 0x1f0040 -max 10\"`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main ndbg root command.
	rootCommand = &cobra.Command{
		Use:   "ndbg",
		Short: "ndbg is a memory inspector for native processes.",
		Long:  ndbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'ndbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'ndbg help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before any other command.")
	rootCommand.PersistentFlags().StringArrayVar(&commands, "cmd", nil, "Command to execute instead of starting the terminal, can be repeated.")
	rootCommand.PersistentFlags().IntVar(&ptrSize, "ptr-size", 0, "Pointer size of the target (4 or 8), overrides the detected one.")

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <dump>",
		Short: "Examine a crash dump or a core file.",
		Long: `Examine a crash dump or a core file.

Windows minidumps and ELF core files, including the ones written by the
"dump" command, are supported. The pointer size of the process is read
from the file.`,
		Args: cobra.ExactArgs(1),
		Run:  coreCmd,
	}
	rootCommand.AddCommand(coreCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Examine the memory of a running process.",
		Long: `Examine the memory of a running process.

The memory of the process is read without stopping it, so containers that
are modified concurrently can appear corrupt. Only available on Linux.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ndbg\n%s\n", version.NdbgVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	memory		Log failed memory reads
	walker		Log container traversals (default)
	core		Log core file loading and dumping
	minidump	Log minidump loading
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func coreCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(func() (*proc.Target, error) {
		return core.OpenCore(args[0])
	}, conf))
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(func() (*proc.Target, error) {
		return native.Attach(pid, conf.GetPageCacheSize())
	}, conf))
}

// execute opens the target and runs the terminal on it, interactively or
// on the commands passed with --cmd. It returns the exit status.
func execute(open func() (*proc.Target, error), conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	switch ptrSize {
	case 0:
	case 4, 8:
		conf.PointerWidth = ptrSize
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid --ptr-size %d, must be 4 or 8\n", ptrSize)
		return 1
	}

	target, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open target: %v\n", err)
		return 1
	}

	term, err := terminal.New(target, conf)
	if err != nil {
		target.Close()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if initFile != "" {
		term.InitFile = initFile
	}

	var status int
	if len(commands) > 0 {
		status, err = term.RunCommands(commands)
		if cerr := target.Close(); err == nil && cerr != nil {
			err = cerr
		}
	} else {
		status, err = term.Run()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
