package main

import (
	"os"

	"github.com/go-ndbg/ndbg/cmd/ndbg/cmds"
	"github.com/go-ndbg/ndbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.NdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
