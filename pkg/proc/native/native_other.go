//go:build !linux
// +build !linux

package native

import (
	"github.com/go-ndbg/ndbg/pkg/proc"
)

// Attach returns ErrNativeUnsupported, use a crash dump instead.
func Attach(pid int, cachePages int) (*proc.Target, error) {
	return nil, ErrNativeUnsupported
}
