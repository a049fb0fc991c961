//go:build !windows
// +build !windows

package redirect

import (
	"os"
	"syscall"
)

// processAlive reports whether the given PID refers to a running process.
// Unix implementation: signal 0 probes existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
