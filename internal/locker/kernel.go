//go:build unix

package locker

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mailutils-go/mailutils/internal/muerr"
)

// kernel implements the POSIX fcntl(F_SETLK) backend (design §4.4): a
// whole-file read lock for shared/optimistic, a write lock for exclusive.
// golang.org/x/sys/unix is used here rather than the standard library's
// syscall.Flock because F_SETLK's byte-range struct-based locking (as
// opposed to BSD flock(2), which syscall.Flock wraps) is what the design
// calls for, and the pack's own dependency tree (foxcpp-maddy's go.sum,
// wansing-ulist's POSIX-level helpers) already reaches for x/sys/unix for
// this kind of call.
type kernel struct {
	path string
	f    *os.File
}

func newKernel(path string) *kernel { return &kernel{path: path} }

func (k *kernel) TryLock(mode Mode) error {
	f, err := os.OpenFile(k.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("locker: open %s: %w", k.path, err)
	}

	if err := preLockCheck(k.path, f); err != nil {
		f.Close()
		return err
	}

	lockType := int16(unix.F_RDLCK)
	if mode == ModeExclusive {
		lockType = unix.F_WRLCK
	}

	fl := unix.Flock_t{
		Type:   lockType,
		Whence: int16(os.SEEK_SET),
		Start:  0,
		Len:    0, // whole file
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &fl); err != nil {
		f.Close()
		if err == unix.EAGAIN || err == unix.EACCES {
			return muerr.ErrLockConflict
		}
		return fmt.Errorf("locker: fcntl F_SETLK: %w", err)
	}

	k.f = f
	return nil
}

func (k *kernel) Unlock() error {
	if k.f == nil {
		return muerr.ErrLockNotHeld
	}
	fl := unix.Flock_t{Type: unix.F_UNLCK, Whence: int16(os.SEEK_SET)}
	err := unix.FcntlFlock(k.f.Fd(), unix.F_SETLK, &fl)
	k.f.Close()
	k.f = nil
	return err
}

func (k *kernel) Touch() error { return nil } // kernel locks have no mtime to refresh
