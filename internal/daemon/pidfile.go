// Package daemon tracks a background tally server through a PID file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the file.
var ErrAlreadyRunning = errors.New("already running")

// ErrNotRunning is returned by Stop when no live process owns the file.
var ErrNotRunning = errors.New("not running")

// PIDFile records the PID of the background server.
type PIDFile struct {
	Path string
}

// NewPIDFile returns a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Acquire records pid, replacing a stale file left by a dead process.
func (p *PIDFile) Acquire(pid int) error {
	if owner, alive := p.IsRunning(); alive {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, owner)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return p.WritePID(pid)
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid unconditionally.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Release removes the file. A missing file is not an error.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsRunning reports the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

// Stop asks the recorded process to terminate and waits up to grace for it
// to exit before killing it. The file is released either way.
func (p *PIDFile) Stop(ctx context.Context, grace time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Release()
		return 0, ErrNotRunning
	}
	if err := terminate(pid); err != nil {
		return pid, fmt.Errorf("signal %d: %w", pid, err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for alive(pid) {
		select {
		case <-ctx.Done():
			return pid, ctx.Err()
		case <-deadline.C:
			if err := kill(pid); err != nil {
				return pid, fmt.Errorf("kill %d: %w", pid, err)
			}
			return pid, p.Release()
		case <-tick.C:
		}
	}
	return pid, p.Release()
}
