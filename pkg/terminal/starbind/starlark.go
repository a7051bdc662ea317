package starbind

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/stl"
)

const (
	ndbgCommandBuiltinName    = "ndbg_command"
	readFileBuiltinName       = "read_file"
	writeFileBuiltinName      = "write_file"
	readPointerBuiltinName    = "read_pointer"
	readUintBuiltinName       = "read_uint"
	pointerSizeBuiltinName    = "pointer_size"
	regionsBuiltinName        = "regions"
	mapElementsBuiltinName    = "map_elements"
	setElementsBuiltinName    = "set_elements"
	listElementsBuiltinName   = "list_elements"
	vectorElementsBuiltinName = "vector_elements"
	commandPrefix             = "command_"
	ndbgContextName           = "ndbg_context"
	helpBuiltinName           = "help"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It gives scripts access to the memory of the target and to the
// commands of the terminal.
type Context interface {
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	Memory() (*proc.Memory, error)
	Regions() []proc.Region
	// Elements returns the value addresses of the elements of a container
	// inside the window of cfg.
	Elements(cfg stl.Config) ([]uint64, error)
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx  Context
	out  EchoWriter
	load func(*starlark.Thread, string) (starlark.StringDict, error)
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{}

	env.ctx = ctx
	env.out = out

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	env.env = starlark.StringDict{}
	doc := map[string]string{}

	builtindoc := func(name, args, descr string) {
		doc[name] = name + args + "\n\n" + name + " " + descr
	}

	env.env[ndbgCommandBuiltinName] = starlark.NewBuiltin(ndbgCommandBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of ndbg_command is not a string")
			}
			argstrs[i] = string(a)
		}
		err := env.ctx.CallCommand(strings.Join(argstrs, " "))
		return starlark.None, decorateError(thread, err)
	})
	builtindoc(ndbgCommandBuiltinName, "(Command)", "runs a terminal command.")

	env.env[readFileBuiltinName] = starlark.NewBuiltin(readFileBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 1 {
			return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("argument of read_file was not a string"))
		}
		buf, err := ioutil.ReadFile(string(path))
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(string(buf)), nil
	})
	builtindoc(readFileBuiltinName, "(Path)", "reads a file.")

	env.env[writeFileBuiltinName] = starlark.NewBuiltin(writeFileBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 2 {
			return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
		}
		text := args[1].String()
		if s, ok := args[1].(starlark.String); ok {
			text = string(s)
		}
		err := ioutil.WriteFile(string(path), []byte(text), 0640)
		return starlark.None, decorateError(thread, err)
	})
	builtindoc(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.")

	env.env[readPointerBuiltinName] = starlark.NewBuiltin(readPointerBuiltinName, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv); err != nil {
			return nil, decorateError(thread, err)
		}
		addr, err := toUint64(addrv, "addr")
		if err != nil {
			return nil, decorateError(thread, err)
		}
		mem, err := env.ctx.Memory()
		if err != nil {
			return nil, decorateError(thread, err)
		}
		v, err := mem.ReadPointer(addr)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeUint64(v), nil
	})
	builtindoc(readPointerBuiltinName, "(Addr)", "reads a pointer sized value at Addr.")

	env.env[readUintBuiltinName] = starlark.NewBuiltin(readUintBuiltinName, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Value
		var size int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv, "size", &size); err != nil {
			return nil, decorateError(thread, err)
		}
		addr, err := toUint64(addrv, "addr")
		if err != nil {
			return nil, decorateError(thread, err)
		}
		mem, err := env.ctx.Memory()
		if err != nil {
			return nil, decorateError(thread, err)
		}
		v, err := mem.ReadUint(addr, size)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeUint64(v), nil
	})
	builtindoc(readUintBuiltinName, "(Addr, Size)", "reads an unsigned integer of Size bytes (1, 2, 4 or 8) at Addr.")

	env.env[pointerSizeBuiltinName] = starlark.NewBuiltin(pointerSizeBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		mem, err := env.ctx.Memory()
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeInt(mem.PtrSize()), nil
	})
	builtindoc(pointerSizeBuiltinName, "()", "returns the pointer size of the target.")

	env.env[regionsBuiltinName] = starlark.NewBuiltin(regionsBuiltinName, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return env.interfaceToStarlarkValue(env.ctx.Regions()), nil
	})
	builtindoc(regionsBuiltinName, "()", "returns the memory regions of the target.")

	for kind, name := range map[stl.Kind]string{stl.Map: mapElementsBuiltinName, stl.Set: setElementsBuiltinName, stl.List: listElementsBuiltinName} {
		env.env[name] = starlark.NewBuiltin(name, env.elementsBuiltin(kind))
		builtindoc(name, "(Addr, skip=0, max=0)", "returns the addresses of the values stored in the "+kind.String()+" at Addr.")
	}
	env.env[vectorElementsBuiltinName] = starlark.NewBuiltin(vectorElementsBuiltinName, env.elementsBuiltin(stl.Vector))
	builtindoc(vectorElementsBuiltinName, "(Addr, Size, skip=0, max=0)", "returns the addresses of the elements, Size bytes each, of the vector at Addr.")

	env.env[helpBuiltinName] = starlark.NewBuiltin(helpBuiltinName, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				switch value.(type) {
				case *starlark.Builtin:
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})
	builtindoc(helpBuiltinName, "(Object)", "prints help for Object.")

	return env
}

func (env *Env) elementsBuiltin(kind stl.Kind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		var addrv, sizev, skipv, maxv starlark.Value
		var err error
		if kind == stl.Vector {
			err = starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv, "size", &sizev, "skip?", &skipv, "max?", &maxv)
		} else {
			err = starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv, "skip?", &skipv, "max?", &maxv)
		}
		if err != nil {
			return nil, decorateError(thread, err)
		}
		cfg := stl.Config{Kind: kind}
		for _, arg := range []struct {
			v    starlark.Value
			dst  *uint64
			name string
		}{
			{addrv, &cfg.Addr, "addr"},
			{sizev, &cfg.ElemSize, "size"},
			{skipv, &cfg.Skip, "skip"},
			{maxv, &cfg.Max, "max"},
		} {
			if *arg.dst, err = toUint64(arg.v, arg.name); err != nil {
				return nil, decorateError(thread, err)
			}
		}
		elems, err := env.ctx.Elements(cfg)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(elems), nil
	}
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	if env.load == nil {
		env.load = env.makeLoad()
	}
	thread.Load = env.load
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(ndbgContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = env.interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(ndbgContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
