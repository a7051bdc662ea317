package starbind

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/go-ndbg/ndbg/pkg/proc"
)

// interfaceToStarlarkValue converts a value returned by the Context into
// a starlark.Value.
func (env *Env) interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []uint64:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = starlark.MakeUint64(v[i])
		}
		return starlark.NewList(r)
	case proc.Region:
		return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"Addr": starlark.MakeUint64(v.Addr),
			"Size": starlark.MakeUint64(v.Size),
			"Desc": starlark.String(v.Desc),
		})
	case []proc.Region:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = env.interfaceToStarlarkValue(v[i])
		}
		return starlark.NewList(r)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	case starlark.Value:
		return v
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// toUint64 converts an integer argument into an address or a count.
func toUint64(v starlark.Value, what string) (uint64, error) {
	switch v := v.(type) {
	case starlark.Int:
		n, ok := v.Uint64()
		if !ok {
			return 0, fmt.Errorf("%s %v out of range", what, v)
		}
		return n, nil
	case starlark.Float:
		if v < 0 || float64(v) > math.MaxUint64 || float64(v) != math.Trunc(float64(v)) {
			return 0, fmt.Errorf("%s %v is not an unsigned integer", what, v)
		}
		return uint64(v), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %s", what, v.Type())
	}
}
