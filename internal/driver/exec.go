package driver

import (
	"bytes"
	"fmt"
	"os/exec"
)

// runResult is the outcome of running a compiler (or preprocessor)
// subprocess: its exit code and captured stdio, exactly as the real
// compiler produced them.
type runResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func run(name string, args []string, dir string) runResult {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		exitCode = 1
	}

	stderrBytes := stderr.Bytes()
	if len(stderrBytes) == 0 && err != nil {
		stderrBytes = []byte(fmt.Sprintln(err))
	}

	return runResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderrBytes}
}
