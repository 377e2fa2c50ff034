//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

func setDaemonSysProcAttr(*exec.Cmd) {}

// processExists cannot check liveness without golang.org/x/sys/windows; a stale pid
// file shows up as a refused connection on the recorded addr instead.
func processExists(pid int) bool { return pid > 0 }

// signalTerm kills the process; Windows has no SIGTERM.
func signalTerm(proc *os.Process) error { return proc.Kill() }
