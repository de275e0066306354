package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "serve.json")
	rf := NewRunFile(path)

	require.NoError(t, rf.Write("127.0.0.1:3000"))

	rec, err := rf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, "127.0.0.1:3000", rec.Addr)
	assert.Equal(t, "http://127.0.0.1:3000", rec.URL())
	assert.False(t, rec.StartedAt.IsZero())
}

func TestRunFile_Read_MissingFile(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "nonexistent.json"))

	_, err := rf.Read()
	assert.Error(t, err)
}

func TestRunFile_Read_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not-json\n"), 0o644))

	_, err := NewRunFile(path).Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run file content")
}

func TestRunFile_Read_ZeroPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":0,"addr":"x"}`), 0o644))

	_, err := NewRunFile(path).Read()
	assert.Error(t, err)
}

func TestRunFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.json")
	rf := NewRunFile(path)
	require.NoError(t, rf.Write("localhost:3000"))

	require.NoError(t, rf.Remove())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is a no-op.
	assert.NoError(t, rf.Remove())
}

func TestRunFile_Running_CurrentProcess(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "serve.json"))
	require.NoError(t, rf.Write("localhost:3000"))

	rec, running := rf.Running()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), rec.PID)
}

func TestRunFile_Running_DeadProcess(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "serve.json"))
	// Use a very high PID that almost certainly doesn't exist.
	require.NoError(t, rf.WriteRecord(Record{PID: 999999, Addr: "localhost:3000"}))

	rec, running := rf.Running()
	assert.Equal(t, 999999, rec.PID)
	assert.False(t, running)
}

func TestRunFile_Running_NoFile(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "nonexistent.json"))

	rec, running := rf.Running()
	assert.Equal(t, 0, rec.PID)
	assert.False(t, running)
}

func TestRunFile_Stop_NotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.json")
	rf := NewRunFile(path)
	require.NoError(t, rf.WriteRecord(Record{PID: 999999, Addr: "localhost:3000"}))

	_, err := rf.Stop(time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)

	// A stale file is cleaned up.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
