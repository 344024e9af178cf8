// Package lock provides a named cross-process mutex backed by an advisory
// file lock. It serializes snapshot mutations across all processes sharing
// the model directory, not just goroutines within one process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within the
// bound. Nothing has been mutated; callers may retry later.
var ErrTimeout = errors.New("lock acquire timeout")

const pollInterval = 50 * time.Millisecond

// Mutex is a named advisory file lock. Not safe for concurrent use by
// multiple goroutines; each worker should hold its own Mutex on the same
// name.
type Mutex struct {
	path string
	file *os.File
}

// New creates a mutex named name with its lock file under dir.
// The directory is created if needed.
func New(dir, name string) (*Mutex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Mutex{path: filepath.Join(dir, name+".lock")}, nil
}

// Path returns the lock file path. External processes (the full rebuild)
// take the same lock by flocking this file.
func (m *Mutex) Path() string {
	return m.path
}

// Acquire takes the lock, polling until timeout. Returns ErrTimeout when the
// deadline passes, or the context error when ctx is cancelled first.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		file, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0600)
		if err != nil {
			return fmt.Errorf("open lock file: %w", err)
		}
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			m.file = file
			return nil
		}
		_ = file.Close()
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("flock %s: %w", m.path, err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrTimeout, m.path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks. Releasing an unheld mutex is a no-op.
func (m *Mutex) Release() error {
	if m.file == nil {
		return nil
	}
	err := syscall.Flock(int(m.file.Fd()), syscall.LOCK_UN)
	closeErr := m.file.Close()
	m.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// IsHeld reports whether this mutex currently holds the lock.
func (m *Mutex) IsHeld() bool {
	return m.file != nil
}
