package journal

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// acquireLock writes an advisory PID lockfile alongside the journal file,
// per spec.md §6 (".lock sidecar with PID as ASCII"). A stale lock (PID no
// longer alive) is reclaimed automatically; a live one fails Open.
func (j *Journal) acquireLock() error {
	if b, err := os.ReadFile(j.lockPath); err == nil {
		if pid, perr := strconv.Atoi(string(b)); perr == nil && pid != os.Getpid() {
			if processAlive(pid) {
				return fmt.Errorf("journal: locked by live pid %d", pid)
			}
		}
		os.Remove(j.lockPath)
	}

	return os.WriteFile(j.lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
