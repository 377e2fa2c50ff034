//go:build !windows

package daemon

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setDaemonSysProcAttr detaches the background daemon from the terminal session.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// processExists checks pid with signal 0. EPERM means it exists under
// another user.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func signalTerm(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
