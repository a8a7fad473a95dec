//go:build !windows

package process

import "syscall"

// signalGroup delivers sig to the child's process group.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}
