package locker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/mailutils-go/mailutils/internal/muerr"
)

// external shells out to a helper program implementing the locking
// contract from design §6: "<helper> [-f<minutes>] [-r<retries>] [-u]
// <file>". -u requests unlock; otherwise the helper is asked to lock.
// Exit codes: 0 success, 1 permission/failure to lock, 2 conflict
// (already locked), 3 bad lock file/retries exceeded, 4 error unlocking,
// 127 helper not found. A helper killed by a signal is reported as
// ErrLockExtKilled rather than a conflict, since the caller cannot tell
// whether the helper made progress before dying.
type external struct {
	path   string
	helper string
	cfg    Config
}

func newExternal(path string, cfg Config) *external {
	return &external{path: path, helper: cfg.ExternalHelper, cfg: cfg}
}

func (e *external) run(args ...string) error {
	if e.helper == "" {
		return fmt.Errorf("locker: external backend configured with no helper")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.helper, args...)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return muerr.ErrLockExtKilled
		}
		switch exitErr.ExitCode() {
		case 1:
			return muerr.ErrLockExtFail
		case 2:
			return muerr.ErrLockConflict
		case 3:
			return muerr.ErrLockBadFile
		case 4:
			return muerr.ErrLockExtErr
		case 127:
			return fmt.Errorf("locker: helper %s not found: %w", e.helper, muerr.ErrLockExtErr)
		default:
			return fmt.Errorf("locker: helper %s exit %d: %w", e.helper, exitErr.ExitCode(), muerr.ErrLockExtErr)
		}
	}
	return fmt.Errorf("locker: run helper %s: %w", e.helper, err)
}

func (e *external) TryLock(mode Mode) error {
	args := []string{}
	if e.cfg.ExpireTime > 0 {
		args = append(args, "-f"+strconv.Itoa(int(e.cfg.ExpireTime.Minutes())))
	}
	if e.cfg.Retry {
		args = append(args, "-r"+strconv.Itoa(e.cfg.RetryCount))
	}
	args = append(args, e.path)
	return e.run(args...)
}

func (e *external) Unlock() error {
	return e.run("-u", e.path)
}

func (e *external) Touch() error { return nil } // the helper owns staleness detection
