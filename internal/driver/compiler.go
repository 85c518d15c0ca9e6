package driver

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// ResolveCompiler finds the real compiler behind a wrapper or masquerade
// invocation. wrapperPath is argv[0] as exec'd (os.Args[0]); wantedName is
// the basename the caller was invoked as, or the explicit compiler name
// given as ccwrap's first argument.
func ResolveCompiler(wrapperPath, wantedName, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	candidate, err := exec.LookPath(wantedName)
	if err != nil {
		return "", err
	}

	absWrapper, _ := filepath.Abs(wrapperPath)
	absCandidate, _ := filepath.Abs(candidate)
	if sameFile(absWrapper, absCandidate) {
		return "", errRecursiveInvocation
	}

	return candidate, nil
}

var errRecursiveInvocation = errors.New("driver: resolved compiler is the wrapper itself (recursive invocation)")

func sameFile(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return os.SameFile(infoA, infoB)
}
