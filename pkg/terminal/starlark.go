package terminal

import (
	"github.com/go-ndbg/ndbg/pkg/proc"
	"github.com/go-ndbg/ndbg/pkg/stl"
	"github.com/go-ndbg/ndbg/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, ctx callContext, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) Memory() (*proc.Memory, error) {
	return ctx.term.memory()
}

func (ctx starlarkContext) Regions() []proc.Region {
	if ctx.term.target == nil {
		return nil
	}
	return ctx.term.target.Regions
}

func (ctx starlarkContext) Elements(cfg stl.Config) ([]uint64, error) {
	mem, err := ctx.term.memory()
	if err != nil {
		return nil, err
	}
	if conf := ctx.term.conf; conf.MaxTreeDepth != nil {
		cfg.MaxDepth = *conf.MaxTreeDepth
	}
	return stl.Elements(mem, cfg)
}
