//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"syscall"
)

// processAlive sends signal 0, which checks existence without delivering anything.
// EPERM means the process exists but belongs to someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	st, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return syscall.Kill(st.PID, sig)
}
