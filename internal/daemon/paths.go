package daemon

import "path/filepath"

// runDir holds the daemon's pid, addr, lock and log files.
func runDir(home string) string { return filepath.Join(home, "run") }

func pidPath(home string) string  { return filepath.Join(runDir(home), "deskpilot.pid") }
func addrPath(home string) string { return filepath.Join(runDir(home), "deskpilot.addr") }
func lockPath(home string) string { return filepath.Join(runDir(home), "deskpilot.lock") }
func logPath(home string) string  { return filepath.Join(runDir(home), "daemon.log") }
