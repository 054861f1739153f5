//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// alive relies on Signal(0); FindProcess always succeeds on Windows.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminate has no graceful equivalent on Windows.
func terminate(pid int) error {
	return kill(pid)
}

func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
