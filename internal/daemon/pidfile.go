// Package daemon tracks the background `royale serve` process.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotRunning is returned when no live serve process is recorded.
var ErrNotRunning = errors.New("server is not running")

// State is what a running server records about itself.
type State struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime reports how long the server has been running as of now.
func (s *State) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt).Truncate(time.Second)
}

// PIDFile manages the state file of the serve daemon.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process listening on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteState(&State{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteState writes st atomically, creating the parent directory if needed.
func (p *PIDFile) WriteState(st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, p.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Read loads the recorded state.
func (p *PIDFile) Read() (*State, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("invalid PID file content: %w", err)
	}
	if st.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file content: pid %d", st.PID)
	}
	return &st, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Running returns the recorded state if its process is alive. A stale file
// left by a crashed server is removed.
func (p *PIDFile) Running() (*State, error) {
	st, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotRunning
	}
	if err != nil {
		return nil, err
	}
	if !processAlive(st.PID) {
		_ = p.Remove()
		return nil, ErrNotRunning
	}
	return st, nil
}
