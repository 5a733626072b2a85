// Package muerr collects the closed error taxonomy shared by the stream,
// locker and mailbox packages (design §7). Subsystem code wraps these
// sentinels with fmt.Errorf("...: %w", err) at the point of failure;
// callers compare with errors.Is.
package muerr

import "errors"

// Stream errors.
var (
	ErrNotOpen  = errors.New("stream: not open")
	ErrBufSpace = errors.New("stream: out of buffer space")
	ErrTimeout  = errors.New("stream: operation timed out")
	ErrNoImpl   = errors.New("stream: ioctl/capability not implemented")
)

// Locker errors.
var (
	ErrLockConflict = errors.New("locker: lock conflict")
	ErrLockNotHeld  = errors.New("locker: lock not held")
	ErrLockBadFile  = errors.New("locker: file is not a plain, single-linked regular file")
	ErrLockBadLock  = errors.New("locker: lock file is corrupt or unreadable")
	ErrLockExtFail  = errors.New("locker: external helper failed")
	ErrLockExtKilled = errors.New("locker: external helper was killed by a signal")
	ErrLockExtErr   = errors.New("locker: external helper reported an error")
)

// Semantic / mailbox errors.
var (
	ErrNoEnt      = errors.New("mailbox: no such message")
	ErrExists     = errors.New("mailbox: already exists")
	ErrOutPtrNull = errors.New("mailbox: output pointer is nil")
	ErrNotWritable = errors.New("mailbox: not open for writing")
	ErrBadFormat  = errors.New("mailbox: malformed on-disk record")
)

// Corruption.
var ErrMboxSync = errors.New("mailbox: on-disk size shrank unexpectedly")
