package daemon

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	pf := NewPIDFile(path)

	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, pf.WriteState(&State{PID: 12345, Addr: ":8080", StartedAt: started}))

	st, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, st.PID)
	assert.Equal(t, ":8080", st.Addr)
	assert.True(t, started.Equal(st.StartedAt))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestPIDFile_Write_CurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.Write(":9090"))

	st, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, ":9090", st.Addr)
	assert.False(t, st.StartedAt.IsZero())
}

func TestPIDFile_Read_MissingFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	_, err := pf.Read()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": "not-json\n",
		"zero":    `{"pid":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.pid")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := NewPIDFile(path).Read()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid PID file content")
		})
	}
}

func TestPIDFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WriteState(&State{PID: 1}))

	require.NoError(t, pf.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_Running_CurrentProcess(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))
	require.NoError(t, pf.Write(":8080"))

	st, err := pf.Running()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
}

func TestPIDFile_Running_DeadProcessRemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	pf := NewPIDFile(path)

	// A PID this high almost certainly does not exist.
	require.NoError(t, pf.WriteState(&State{PID: 999999}))

	_, err := pf.Running()
	assert.ErrorIs(t, err, ErrNotRunning)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_Running_NoFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	_, err := pf.Running()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	err := pf.Signal(syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read PID file")
}

func TestState_Uptime(t *testing.T) {
	st := &State{StartedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	now := time.Date(2026, 3, 1, 9, 30, 15, 500, time.UTC)
	assert.Equal(t, 90*time.Minute+15*time.Second, st.Uptime(now))
}
