// Package daemon tracks a background web server through a small JSON run
// file holding its process id and listen address.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotRunning is returned when no live server is recorded.
var ErrNotRunning = errors.New("server is not running")

// Record is the content of the run file.
type Record struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// URL returns the browser address of the recorded server.
func (r Record) URL() string {
	return "http://" + r.Addr
}

// RunFile manages the run file of a background server.
type RunFile struct {
	Path string
}

// NewRunFile creates a RunFile manager for the given path.
func NewRunFile(path string) *RunFile {
	return &RunFile{Path: path}
}

// Write records the current process as serving on addr.
func (f *RunFile) Write(addr string) error {
	return f.WriteRecord(Record{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteRecord writes rec to the file, creating the directory if needed.
func (f *RunFile) WriteRecord(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, append(data, '\n'), 0o644)
}

// Read returns the recorded server.
func (f *RunFile) Read() (Record, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("invalid run file content: %w", err)
	}
	if rec.PID <= 0 {
		return Record{}, fmt.Errorf("invalid run file content: pid %d", rec.PID)
	}
	return rec, nil
}

// Remove deletes the run file. A missing file is not an error.
func (f *RunFile) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running returns the record when the recorded process is alive.
func (f *RunFile) Running() (Record, bool) {
	rec, err := f.Read()
	if err != nil {
		return Record{}, false
	}
	return rec, alive(rec.PID)
}

// Stop asks the recorded server to shut down and waits up to timeout for it
// to exit. The run file is removed once the process is gone.
func (f *RunFile) Stop(timeout time.Duration) (Record, error) {
	rec, ok := f.Running()
	if !ok {
		_ = f.Remove()
		return rec, ErrNotRunning
	}
	if err := terminate(rec.PID); err != nil {
		return rec, fmt.Errorf("signal pid %d: %w", rec.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(rec.PID) {
			return rec, f.Remove()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return rec, fmt.Errorf("pid %d did not exit within %s", rec.PID, timeout)
}
