package mcp

import (
	"os/exec"
	"runtime"
)

// spawnSupported reports whether this runtime can start child processes.
// Mobile operating systems cannot, so the stdio transport is gated off
// there before any spawn attempt. Swappable so tests can simulate a
// mobile runtime.
var spawnSupported = func() bool {
	return runtime.GOOS != "android" && runtime.GOOS != "ios"
}

// startProcess launches a prepared command. Swappable so tests can spy
// on spawn attempts.
var startProcess = func(cmd *exec.Cmd) error {
	return cmd.Start()
}
