package locker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mailutils-go/mailutils/internal/muerr"
)

// dotlock implements the NFS-safe "hitching post" protocol (design §4.4):
// create a unique file with O_EXCL, link() it to the well-known lock
// name, then confirm success by stat'ing the lock name and checking
// nlink==2 against the freshly opened unique file.
type dotlock struct {
	target string // the file being protected
	lock   string // target + ".lock"
	cfg    Config
	logger *slog.Logger

	fallbackKernel *kernel // used when the containing directory isn't writable
}

func newDotlock(target string, cfg Config, logger *slog.Logger) *dotlock {
	return &dotlock{target: target, lock: target + ".lock", cfg: cfg, logger: logger}
}

func (d *dotlock) hitchingPostName() string {
	return fmt.Sprintf("%s.%d.%d.%s", d.target, os.Getpid(), time.Now().UnixNano(), hostname())
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func (d *dotlock) TryLock(mode Mode) error {
	dir := dirOf(d.target)
	if !writable(dir) {
		if d.fallbackKernel == nil {
			d.fallbackKernel = newKernel(d.target)
		}
		return d.fallbackKernel.TryLock(mode)
	}

	if broke, err := d.maybeBreakStale(); err != nil {
		return err
	} else if broke {
		d.logger.Debug("dotlock: broke stale lock", "path", d.lock)
	}

	post := d.hitchingPostName()
	f, err := os.OpenFile(post, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("locker: create hitching post: %w", err)
	}
	defer os.Remove(post)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	if err := os.Link(post, d.lock); err != nil {
		if os.IsExist(err) {
			return muerr.ErrLockConflict
		}
		return fmt.Errorf("locker: link hitching post: %w", err)
	}

	ok, err := d.verify(post)
	if err != nil {
		return err
	}
	if !ok {
		os.Remove(d.lock)
		return muerr.ErrLockConflict
	}
	return nil
}

// verify confirms the link succeeded by comparing device/inode and
// requiring nlink==2 on the well-known lock name.
func (d *dotlock) verify(post string) (bool, error) {
	postInfo, err := os.Stat(post)
	if err != nil {
		return false, fmt.Errorf("locker: stat hitching post: %w", err)
	}
	lockInfo, err := os.Stat(d.lock)
	if err != nil {
		return false, fmt.Errorf("locker: stat lock file: %w", err)
	}
	pDev, pIno, ok1 := devIno(postInfo)
	lDev, lIno, ok2 := devIno(lockInfo)
	if !ok1 || !ok2 {
		return linkCount(lockInfo) == 2, nil
	}
	return pDev == lDev && pIno == lIno && linkCount(lockInfo) == 2, nil
}

// maybeBreakStale removes the existing dotlock if CHECK_PID finds its pid
// no longer running, the file is unreadable/corrupt, or EXPIRE_TIME has
// elapsed since its mtime (design §4.4).
func (d *dotlock) maybeBreakStale() (bool, error) {
	info, err := os.Stat(d.lock)
	if err != nil {
		return false, nil // no existing lock
	}

	if d.cfg.ExpireTime > 0 && time.Since(info.ModTime()) > d.cfg.ExpireTime {
		os.Remove(d.lock)
		return true, nil
	}

	if d.cfg.CheckPID {
		data, err := os.ReadFile(d.lock)
		if err != nil {
			os.Remove(d.lock)
			return true, nil
		}
		pidStr := strings.TrimSpace(string(data))
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			os.Remove(d.lock)
			return true, nil
		}
		if !processAlive(pid) {
			os.Remove(d.lock)
			return true, nil
		}
	}
	return false, nil
}

func (d *dotlock) Unlock() error {
	if err := os.Remove(d.lock); err != nil {
		if os.IsNotExist(err) {
			return muerr.ErrLockNotHeld
		}
		return err
	}
	return nil
}

func (d *dotlock) Touch() error {
	now := time.Now()
	return os.Chtimes(d.lock, now, now)
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

func writable(dir string) bool {
	return unixAccessWritable(dir)
}
