package fib

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// LockFilename is the default bulk indexing lock filename
const LockFilename = "index.lock"

// FileLock is an exclusive advisory lock shared between processes using the
// same cache directory. The lock is released by the OS if the process dies.
type FileLock struct {
	mu   sync.Mutex
	path string
	fl   *flock.Flock
}

// NewFileLock creates a new file lock at the given path. An empty path
// yields a lock that is always acquired, for single-process setups.
func NewFileLock(path string) *FileLock {
	l := &FileLock{path: path}
	if path != "" {
		l.fl = flock.New(path)
	}
	return l
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fl == nil {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("flock failed: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock. It is safe to call Unlock on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fl == nil || !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	return nil
}

// IsLocked returns true if the lock is currently held by this instance.
func (l *FileLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fl != nil && l.fl.Locked()
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}
