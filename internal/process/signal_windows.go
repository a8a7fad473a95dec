//go:build windows

package process

import (
	"os"
	"syscall"
)

// signalGroup terminates the process on Windows, which has no SIGTERM; both
// the graceful and the forced request end in TerminateProcess.
func signalGroup(pid int, _ syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
