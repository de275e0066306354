//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// On Windows, FindProcess always succeeds; probe with a zero signal.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Only Kill is reliably supported on Windows.
func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
