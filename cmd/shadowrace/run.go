// run.go implements the 'shadowrace run' command.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runCommand builds the instrumented program into a temporary binary and
// executes it, forwarding the remaining arguments and the exit status.
func runCommand(args []string) {
	var sources, progArgs []string
	seenSource := false
	for _, arg := range args {
		if !seenSource && strings.HasSuffix(arg, ".go") {
			sources = append(sources, arg)
			continue
		}
		if len(sources) > 0 {
			seenSource = true
			progArgs = append(progArgs, arg)
			continue
		}
		sources = append(sources, arg)
	}
	if len(sources) == 0 {
		sources = []string{"."}
	}

	tmpDir, err := os.MkdirTemp("", "shadowrace-run-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	binPath := filepath.Join(tmpDir, "a.out")
	buildCommand(append([]string{"-o", binPath}, sources...))

	cmd := exec.Command(binPath, progArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
