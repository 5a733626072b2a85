package locker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNullBackendAlwaysSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	l, err := New(path, Config{Type: "null"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ModeExclusive); err != nil {
		t.Fatal(err)
	}
	if !l.IsLocked() {
		t.Fatal("expected IsLocked after Lock")
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	if l.IsLocked() {
		t.Fatal("expected not locked after Unlock")
	}
}

func TestNestedLockRefcounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	l, err := New(path, Config{Type: "null"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ModeExclusive); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ModeExclusive); err != nil {
		t.Fatal(err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	if !l.IsLocked() {
		t.Fatal("expected still locked after one of two unlocks")
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	if l.IsLocked() {
		t.Fatal("expected unlocked after matching unlocks")
	}
	if err := l.Unlock(); err == nil {
		t.Fatal("expected error unlocking an already-unlocked Locker")
	}
}

func TestRemoveLockForcesRefcountToZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	l, err := New(path, Config{Type: "null"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Lock(ModeExclusive)
	l.Lock(ModeExclusive)
	l.Lock(ModeExclusive)
	if err := l.RemoveLock(); err != nil {
		t.Fatal(err)
	}
	if l.IsLocked() {
		t.Fatal("expected RemoveLock to release regardless of nesting depth")
	}
}

func TestKernelBackendLockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	l, err := New(path, Config{Type: "kernel"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ModeExclusive); err != nil {
		t.Fatal(err)
	}
	if err := l.Touch(); err != nil {
		t.Fatal(err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestDotlockLockConflictThenUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	first, err := New(path, Config{Type: "dotlock"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Lock(ModeExclusive); err != nil {
		t.Fatal(err)
	}

	second, err := New(path, Config{Type: "dotlock"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(ModeExclusive); err == nil {
		t.Fatal("expected conflict while first holds the lock")
	}

	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(ModeExclusive); err != nil {
		t.Fatalf("expected second to acquire after first released: %v", err)
	}
	second.Unlock()
}

func TestDotlockBreaksExpiredLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	lockFile := path + ".lock"
	if err := os.WriteFile(lockFile, []byte("999999\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockFile, stale, stale); err != nil {
		t.Fatal(err)
	}

	l, err := New(path, Config{Type: "dotlock", ExpireTime: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ModeExclusive); err != nil {
		t.Fatalf("expected expired lock to be broken and reacquired: %v", err)
	}
	l.Unlock()
}

func TestResolvePathHandlesMissingLeaf(t *testing.T) {
	dir := t.TempDir()
	resolved, err := resolvePath(filepath.Join(dir, "does-not-exist-yet"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(resolved) != "does-not-exist-yet" {
		t.Fatalf("got %q", resolved)
	}
}
