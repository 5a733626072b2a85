// Package locker implements the named, reference-counted advisory lock
// described in design §4.4: a pluggable backend (dotlock, kernel fcntl,
// external helper, null) behind one retrying front end.
package locker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mailutils-go/mailutils/internal/muerr"
)

// Mode is the lock strength requested.
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
	ModeOptimistic
)

// Config mirrors config.LockerConfig without importing the config
// package, keeping locker dependency-free of the process-wide config
// shape (design §9: "avoid hidden singletons by taking configuration as
// a struct passed to open").
type Config struct {
	Type           string // "dotlock", "kernel", "external", "null"
	ExternalHelper string
	Retry          bool
	RetryCount     int
	RetrySleep     time.Duration
	ExpireTime     time.Duration
	CheckPID       bool
}

// Backend is the pluggable lock mechanism. TryLock returns
// muerr.ErrLockConflict when the lock is held elsewhere so the front end
// knows to retry.
type Backend interface {
	TryLock(mode Mode) error
	Unlock() error
	// Touch refreshes the lock's mtime so a long scan isn't mistaken for
	// stale by another process (design §4.5: "every 100 messages update
	// the lock").
	Touch() error
}

// Locker is a reference-counted named lock on path. Nested Lock calls
// increment a counter; only the matching number of Unlock calls (or a
// single RemoveLock) actually releases the backend (design §4.4, P8).
type Locker struct {
	path    string
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	refcount int
	mode     Mode
}

// New resolves path's symlinks (falling back to resolving only the parent
// when the leaf does not yet exist) and constructs the backend selected
// by cfg.Type.
func New(path string, cfg Config, logger *slog.Logger) (*Locker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	l := &Locker{path: resolved, cfg: cfg, logger: logger}
	switch cfg.Type {
	case "", "dotlock":
		l.backend = newDotlock(resolved, cfg, logger)
	case "kernel":
		l.backend = newKernel(resolved)
	case "external":
		l.backend = newExternal(resolved, cfg)
	case "null":
		l.backend = newNullBackend()
	default:
		return nil, fmt.Errorf("locker: unknown type %q", cfg.Type)
	}
	return l, nil
}

// resolvePath follows symlinks in path; if the leaf does not exist yet it
// resolves only the parent directory and re-joins the leaf name, so a
// lock can be created before the target file itself exists.
func resolvePath(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("locker: resolve parent of %s: %w", path, err)
	}
	return filepath.Join(realDir, base), nil
}

// preLockCheck refuses to lock a target that is not a regular, singly
// linked file, or whose by-name and by-fd stat disagree on device/inode —
// the symlink/hardlink race guard from design §4.4.
func preLockCheck(path string, f *os.File) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("locker: stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() || linkCount(fi) != 1 {
		return muerr.ErrLockBadFile
	}
	fdInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("locker: fstat %s: %w", path, err)
	}
	if !sameFile(fi, fdInfo) {
		return muerr.ErrLockBadFile
	}
	return nil
}

// Lock acquires the lock in the given mode, retrying on conflict per
// cfg.Retry/RetryCount/RetrySleep. Nested calls just bump the refcount.
func (l *Locker) Lock(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refcount > 0 {
		l.refcount++
		return nil
	}

	attempts := 1
	if l.cfg.Retry {
		attempts += l.cfg.RetryCount
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(l.cfg.RetrySleep)
		}
		err := l.backend.TryLock(mode)
		if err == nil {
			l.refcount = 1
			l.mode = mode
			return nil
		}
		lastErr = err
		if !errors.Is(err, muerr.ErrLockConflict) {
			return err
		}
	}
	if lastErr == nil {
		lastErr = muerr.ErrLockConflict
	}
	return lastErr
}

// Unlock decrements the refcount, releasing the backend only when it
// reaches zero.
func (l *Locker) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refcount == 0 {
		return muerr.ErrLockNotHeld
	}
	l.refcount--
	if l.refcount > 0 {
		return nil
	}
	return l.backend.Unlock()
}

// RemoveLock forces the refcount to 1 then unlocks, regardless of how
// many nested Lock calls are outstanding.
func (l *Locker) RemoveLock() error {
	l.mu.Lock()
	if l.refcount > 1 {
		l.refcount = 1
	}
	l.mu.Unlock()
	return l.Unlock()
}

// Touch refreshes the lock file's mtime (used by a long-running scan to
// avoid being mistaken for stale).
func (l *Locker) Touch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refcount == 0 {
		return muerr.ErrLockNotHeld
	}
	return l.backend.Touch()
}

// IsLocked reports whether this handle currently holds the lock.
func (l *Locker) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refcount > 0
}
