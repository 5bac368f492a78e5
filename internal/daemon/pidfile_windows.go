//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// processAlive reports whether pid names a live process. FindProcess opens a
// handle on Windows, so it fails for exited processes.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

// Signal sends sig to the recorded process. Only a kill is reliably delivered on Windows.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	st, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return fmt.Errorf("find process %d: %w", st.PID, err)
	}
	return proc.Signal(sig)
}
