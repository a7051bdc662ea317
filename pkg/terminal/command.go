// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/spf13/pflag"

	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/stl"
)

type callContext struct {
	// Depth is the number of commands this command is nested in.
	Depth int
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the ndbg terminal.
type Commands struct {
	cmds []command

	// names holds every alias of every command, for completion. It is
	// rebuilt when nil.
	names *trie.Trie
}

var (
	errNoTarget = errors.New("no target: open a dump or attach to a process first")
	noCmdError  = errors.New("command not available")
)

const containerHelpArgs = `<address> [-skip N] [-max N] [-v] [-c "command"]

Elements are listed in traversal order. -skip skips the first N elements,
-max stops after N elements (0, the default, means no limit). -v prints the
address of every node visited. -c runs the command for every element
instead of printing its address, ${e} in the command is replaced by the
address of the element's value. Example:

	%[1]s 0x1f0040 -skip 10 -max 5 -c "dp ${e} 2"`

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"map"}, group: containerCmds, cmdFn: containerCommand(stl.Map), helpMsg: "Lists the elements of an ordered map.\n\n\tmap " + fmt.Sprintf(containerHelpArgs, "map") + `

The address is the address of the map object, the addresses printed are
the addresses of the key/value pairs.`},
		{aliases: []string{"set"}, group: containerCmds, cmdFn: containerCommand(stl.Set), helpMsg: "Lists the elements of an ordered set.\n\n\tset " + fmt.Sprintf(containerHelpArgs, "set")},
		{aliases: []string{"list"}, group: containerCmds, cmdFn: containerCommand(stl.List), helpMsg: "Lists the elements of a doubly linked list.\n\n\tlist " + fmt.Sprintf(containerHelpArgs, "list")},
		{aliases: []string{"vector"}, group: containerCmds, cmdFn: containerCommand(stl.Vector), helpMsg: `Lists the elements of a vector.

	vector <address> -size N [-skip N] [-max N] [-v] [-c "command"]

-size is the size in bytes of one element, it is required since the
elements are stored contiguously and nothing in memory records their type.
The other options are the same as for map, set and list. Example:

	vector 0x1f0040 -size 24 -max 5 -c "dp ${e} 3"`},
		{aliases: []string{"dp"}, group: memoryCmds, cmdFn: dumpPointers, helpMsg: `Prints pointer sized words.

	dp <address> [count]

Prints count words (4 by default) starting at address. Words that can not
be read are printed as question marks.`},
		{aliases: []string{"examinemem", "x"}, group: memoryCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Size represents the size of each item in bytes (default 1), it must be 1, 2, 4 or 8.
Address is the memory location of the target to examine.

For example:

    x -fmt hex -count 20 -size 1 0xc00008af38`},
		{aliases: []string{"regions"}, group: targetCmds, cmdFn: regions, helpMsg: `Lists the memory regions of the target.

	regions [address]

If an address is given only the region containing it is printed.`},
		{aliases: []string{"target"}, group: targetCmds, cmdFn: targetInfo, helpMsg: `Describes the target.`},
		{aliases: []string{"dump"}, group: targetCmds, cmdFn: dump, helpMsg: `Creates a core dump from the target.

	dump <output file>

The memory of the target is written to an ELF core file that can be
opened again with "ndbg core". Unreadable pages are skipped.`},
		{aliases: []string{"alias"}, cmdFn: aliasCommand, helpMsg: `Defines a text replacement.

	alias
	alias <name>
	alias <name> <value>

After "alias name value" every ${name} in a command line is replaced by
value. Without arguments prints all defined aliases. The name "e" is
reserved for the element address of the commands run by map, set, list
and vector.`},
		{aliases: []string{"unalias"}, cmdFn: unaliasCommand, helpMsg: `Removes a text replacement.

	unalias <name>`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of ndbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of ndbg's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.names = nil
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be
// executed in. Text replacements are expanded before the command is
// looked up.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	if ctx.Depth > maxCommandDepth {
		return fmt.Errorf("commands nested more than %d levels deep", maxCommandDepth)
	}
	if ctx.Depth == 0 && t.target != nil {
		t.target.FlushCache()
	}
	cmdstr = t.expandTextReplacements(cmdstr)
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	if logflags.Terminal() {
		logflags.TerminalLogger().Debugf("depth %d: %s %s", ctx.Depth, cmdname, args)
	}

	saved := t.depth
	t.depth = ctx.Depth
	defer func() { t.depth = saved }()
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{Depth: t.depth})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.names = nil
}

// complete returns the command names starting with prefix.
func (c *Commands) complete(prefix string) []string {
	if c.names == nil {
		c.names = trie.New()
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				c.names.Add(alias, nil)
			}
		}
	}
	r := c.names.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return noCmdError
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	w, err := argv.Argv(args, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(w) != 1 {
		return nil, errors.New("pipes are not supported")
	}
	return w[0], nil
}

// parseAddress parses an address. Addresses are hexadecimal, with or
// without the 0x prefix.
func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, errors.New("empty address")
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// containerLongFlags are the long options of the container commands that
// are also accepted with a single dash.
var containerLongFlags = map[string]bool{"skip": true, "max": true, "verbose": true, "command": true, "size": true}

func containerUsage(kind stl.Kind) string {
	if kind == stl.Vector {
		return `vector <address> -size N [-skip N] [-max N] [-v] [-c "command"]`
	}
	return fmt.Sprintf(`%s <address> [-skip N] [-max N] [-v] [-c "command"]`, kind)
}

// parseContainerArgs parses the arguments of the map, set, list and
// vector commands.
func parseContainerArgs(kind stl.Kind, args string) (stl.Config, error) {
	cfg := stl.Config{Kind: kind}
	words, err := splitArgs(args)
	if err != nil {
		return cfg, err
	}
	for i, w := range words {
		if len(w) > 2 && w[0] == '-' && w[1] != '-' {
			name := w[1:]
			if eq := strings.Index(name, "="); eq >= 0 {
				name = name[:eq]
			}
			if containerLongFlags[name] {
				words[i] = "-" + w
			}
		}
	}

	fs := pflag.NewFlagSet(kind.String(), pflag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	fs.Uint64Var(&cfg.Skip, "skip", 0, "number of elements to skip")
	fs.Uint64Var(&cfg.Max, "max", 0, "maximum number of elements")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "print the visited nodes")
	fs.StringVarP(&cfg.Command, "command", "c", "", "command executed for every element")
	if kind == stl.Vector {
		fs.Uint64Var(&cfg.ElemSize, "size", 0, "size of the elements in bytes")
	}
	if err := fs.Parse(words); err != nil {
		return cfg, fmt.Errorf("%v\nusage: %s", err, containerUsage(kind))
	}
	if fs.NArg() != 1 {
		return cfg, fmt.Errorf("wrong number of arguments: %s", containerUsage(kind))
	}
	if kind == stl.Vector && cfg.ElemSize == 0 {
		return cfg, fmt.Errorf("the element size is required: %s", containerUsage(kind))
	}
	cfg.Addr, err = parseAddress(fs.Arg(0))
	return cfg, err
}

func containerCommand(kind stl.Kind) cmdfunc {
	return func(t *Term, ctx callContext, args string) error {
		cfg, err := parseContainerArgs(kind, args)
		if err != nil {
			return err
		}
		if t.conf.MaxTreeDepth != nil {
			cfg.MaxDepth = *t.conf.MaxTreeDepth
		}
		if t.conf.MaxContainerSize != nil && *t.conf.MaxContainerSize > 0 {
			cfg.MaxSize = uint64(*t.conf.MaxContainerSize)
		}
		mem, err := t.memory()
		if err != nil {
			return err
		}

		if ctx.Depth == 0 {
			t.stdout.pw.PageMaybe(nil)
			defer t.stdout.pw.Reset()
		}

		sink, err := stl.SinkFor(cfg, t, t.stdout, mem.PtrSize())
		if err != nil {
			return err
		}
		c, err := stl.New(mem, cfg, t.stdout, sink)
		if err != nil {
			return err
		}
		return c.Execute()
	}
}

func dumpPointers(t *Term, ctx callContext, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(words) < 1 || len(words) > 2 {
		return errors.New("wrong number of arguments: dp <address> [count]")
	}
	addr, err := parseAddress(words[0])
	if err != nil {
		return err
	}
	count := uint64(4)
	if len(words) == 2 {
		count, err = strconv.ParseUint(words[1], 0, 64)
		if err != nil || count == 0 || count > 1024 {
			return fmt.Errorf("count must be a number between 1 and 1024")
		}
	}
	mem, err := t.memory()
	if err != nil {
		return err
	}

	ptrSize := uint64(mem.PtrSize())
	perRow := 16 / ptrSize
	unreadable := strings.Repeat("?", int(ptrSize)*2+2)
	for i := uint64(0); i < count; i++ {
		a := addr + i*ptrSize
		if i%perRow == 0 {
			if i != 0 {
				fmt.Fprintln(t.stdout)
			}
			fmt.Fprintf(t.stdout, "%s ", mem.FormatAddr(a))
		}
		v, err := mem.ReadPointer(a)
		if err != nil {
			fmt.Fprintf(t.stdout, " %s", unreadable)
			continue
		}
		fmt.Fprintf(t.stdout, " %s", mem.FormatAddr(v))
	}
	fmt.Fprintln(t.stdout)
	return nil
}

func examineMemoryCmd(t *Term, ctx callContext, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var (
		address uint64
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			size, err = strconv.Atoi(v[i])
			if err != nil || (size != 1 && size != 2 && size != 4 && size != 8) {
				return fmt.Errorf("size must be 1, 2, 4 or 8")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(v[i])
			if err != nil {
				return err
			}
		}
	}

	if count > 1000/size {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to 1000 bytes")
	}

	if address == 0 {
		return fmt.Errorf("no address specified")
	}

	mem, err := t.memory()
	if err != nil {
		return err
	}

	perRow := 16 / size
	if priFmt == 'b' {
		perRow = 8 / size
	}
	w := tabwriter.NewWriter(t.stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
	for i := 0; i < count; i++ {
		a := address + uint64(i*size)
		if i%perRow == 0 {
			if i != 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s:\t", mem.FormatAddr(a))
		}
		n, err := mem.ReadUint(a, size)
		if err != nil {
			w.Flush()
			return err
		}
		fmt.Fprintf(w, " %s\t", formatMemoryItem(n, priFmt, size))
	}
	fmt.Fprintln(w)
	return w.Flush()
}

func formatMemoryItem(n uint64, priFmt byte, size int) string {
	switch priFmt {
	case 'o':
		return fmt.Sprintf("0%o", n)
	case 'd':
		return strconv.FormatUint(n, 10)
	case 'b':
		return fmt.Sprintf("%0*b", size*8, n)
	default:
		return fmt.Sprintf("0x%0*x", size*2, n)
	}
}

func regions(t *Term, ctx callContext, args string) error {
	if t.target == nil {
		return errNoTarget
	}
	var addr uint64
	filter := args != ""
	if filter {
		var err error
		addr, err = parseAddress(args)
		if err != nil {
			return err
		}
	}
	ptrSize := t.target.PtrSize
	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "Start\tEnd\tSize\tDescription")
	found := false
	for _, r := range t.target.Regions {
		if filter && (addr < r.Addr || addr >= r.End()) {
			continue
		}
		found = true
		fmt.Fprintf(w, "%s\t%s\t%#x\t%s\n", proc.FormatAddr(r.Addr, ptrSize), proc.FormatAddr(r.End(), ptrSize), r.Size, r.Desc)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if filter && !found {
		return fmt.Errorf("address %#x is not in any region", addr)
	}
	return nil
}

func targetInfo(t *Term, ctx callContext, args string) error {
	if t.target == nil {
		return errNoTarget
	}
	fmt.Fprintln(t.stdout, t.target)
	if t.mem != nil && t.mem.PtrSize() != t.target.PtrSize {
		fmt.Fprintf(t.stdout, "Pointer size overridden to %d bytes\n", t.mem.PtrSize())
	}
	var total uint64
	for _, r := range t.target.Regions {
		total += r.Size
	}
	fmt.Fprintf(t.stdout, "%d regions, %d bytes\n", len(t.target.Regions), total)
	return nil
}

var aliasNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func aliasCommand(t *Term, ctx callContext, args string) error {
	if args == "" {
		w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
		for _, name := range t.sortedAliases() {
			fmt.Fprintf(w, "%s\t= %s\n", name, t.aliases[name])
		}
		return w.Flush()
	}
	v := split2PartsBySpace(args)
	name := v[0]
	if !aliasNameRx.MatchString(name) {
		return fmt.Errorf("invalid alias name %q", name)
	}
	if name == stl.ElementAlias {
		return fmt.Errorf("alias name %q is reserved for the element address of per element commands", name)
	}
	if len(v) == 1 {
		value, ok := t.aliases[name]
		if !ok {
			return fmt.Errorf("alias %q is not defined", name)
		}
		fmt.Fprintf(t.stdout, "%s = %s\n", name, value)
		return nil
	}
	t.aliases[name] = strings.TrimSpace(v[1])
	return nil
}

func unaliasCommand(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: unalias <name>")
	}
	if _, ok := t.aliases[args]; !ok {
		return fmt.Errorf("alias %q is not defined", args)
	}
	delete(t.aliases, args)
	return nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func transcript(t *Term, ctx callContext, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

func dump(t *Term, ctx callContext, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	if t.target == nil {
		return errNoTarget
	}
	fh, err := os.Create(args)
	if err != nil {
		return err
	}
	var last *proc.DumpState
	err = t.target.Dump(fh, func(state *proc.DumpState) {
		fmt.Fprintf(t.stdout, "\rDumping memory %d / %d regions...", state.DoneRegions, state.Regions)
		last = state
	})
	fmt.Fprintf(t.stdout, "\n")
	if err != nil {
		return fmt.Errorf("error dumping: %v", err)
	}
	if last != nil && last.Skipped > 0 {
		fmt.Fprintf(t.stdout, "Core dump could be incomplete, %d unreadable bytes skipped\n", last.Skipped)
	}
	return nil
}

type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}
