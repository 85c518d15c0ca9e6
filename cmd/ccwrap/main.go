package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/ccwrap/ccwrap/internal/admin"
	"github.com/ccwrap/ccwrap/internal/common"
	"github.com/ccwrap/ccwrap/internal/driver"
	"github.com/ccwrap/ccwrap/internal/store"
)

// myName is the basename this binary is built and installed as. Any other
// basename (a symlink pointing back at this binary, named after whatever
// real compiler it stands in for) always means "masquerade invocation",
// no matter what that name is.
const myName = "ccwrap"

func main() {
	self := os.Args[0]
	selfBase := filepath.Base(self)

	if selfBase == myName {
		// Invoked directly: "ccwrap gcc -c foo.c" names the compiler as its
		// first argument, the same way "ccache gcc -c foo.c" does. Anything
		// starting with "-" is one of our own admin flags/subcommands instead.
		if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
			os.Exit(runDriver(self, os.Args[1:]))
		}
		if err := admin.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	os.Exit(runDriver(self, append([]string{selfBase}, os.Args[1:]...)))
}

func runDriver(selfPath string, invocation []string) int {
	cfg := common.LoadConfiguration(os.Getenv)

	if cfg.Umask >= 0 {
		unix.Umask(cfg.Umask)
	}

	logger, err := common.MakeLogger(cfg.LogFile, 0, cfg.LogFile == "", false)
	if err != nil {
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.CacheDir, os.ModePerm); err != nil {
		os.Exit(1)
	}

	st := store.New(afero.NewOsFs(), cfg.CacheDir, cfg.NLevels, cfg.TempDir)
	d := driver.New(cfg, st, logger)

	cwd, err := os.Getwd()
	if err != nil {
		os.Exit(1)
	}

	return d.Compile(selfPath, invocation, cwd)
}
