//go:build integration

// Package integration drives the cmd/ binaries end to end through the
// launcher package, the scenarios the unit-level package tests can't reach
// on their own: real child processes contending on shared memory and flock
// state across process boundaries.
package integration

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
)

var binDir = "testdata/bin"

var binaries = []string{
	"ipc-counter-worker",
	"ipc-writer",
	"ipc-reader",
	"ipc-sleeper",
	"ipc-awaker",
	"ipc-rwlock-demo",
}

func TestMain(m *testing.M) {
	if err := buildBinaries(); err != nil {
		fmt.Fprintln(os.Stderr, "integration: building helper binaries:", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func buildBinaries() error {
	for _, name := range binaries {
		out := binDir + "/" + name
		cmd := exec.Command("go", "build", "-o", out, "../cmd/"+name)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
