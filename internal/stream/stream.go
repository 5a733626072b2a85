// Package stream implements the buffered byte transport used throughout
// the mailbox engine: plain files, bounded windows into other streams,
// filter chains and a handful of other specialized kinds (design §4.1).
//
// The opaque "ioctl" extension point described in the design notes is
// replaced here, as §9 suggests, by a small set of typed capability
// interfaces that a concrete stream may optionally implement
// (Transporter, Substreamer, Topstreamer, Timeouter) and a generic
// Capability helper that walks a wrapper chain looking for one.
package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mailutils-go/mailutils/internal/muerr"
)

// Flag is the bitset of open flags carried by a stream.
type Flag uint32

const (
	FlagRead Flag = 1 << iota
	FlagWrite
	FlagAppend
	FlagSeek
	FlagNonblock
	FlagRDTHRU // reads pass through a filter unchanged
	FlagAutoclose
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// BufferMode selects how a Stream stages bytes before touching its backend.
type BufferMode int

const (
	BufferNone BufferMode = iota
	BufferLine
	BufferFull
)

// EventKind is the event mask passed to SetEventCallback.
type EventKind uint32

const (
	EventFillBuf EventKind = 1 << iota
	EventFlushBuf
	EventClose
	EventSetFlag
	EventClrFlag
)

// EventCallback is invoked synchronously when a subscribed event fires.
type EventCallback func(kind EventKind, s Stream)

// Stream is the capability set common to every stream kind in this
// package: read, write, seek, size, truncate, flush, and a context-aware
// Wait used by the locker's retry loop and the transcript stream.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// Seek repositions the logical cursor. Implementations that are not
	// seekable return ErrNotSeekable.
	Seek(offset int64, whence int) (int64, error)

	// Size returns the logical size, including any buffered-but-unflushed
	// tail when the cursor sits at EOF (design §4.1 buffering contract).
	Size() (int64, error)

	// Truncate resizes the backing store to n bytes.
	Truncate(n int64) error

	// Flush pushes any staged bytes to the backend.
	Flush() error

	// Wait blocks until the stream is ready for I/O or ctx is done.
	// Most in-memory and file-backed streams return immediately.
	Wait(ctx context.Context) error

	// Err returns the sticky error set by a prior operation, if any.
	// EAGAIN/EINPROGRESS-equivalent conditions never set this.
	Err() error

	// EOF reports whether the last read hit end of stream.
	EOF() bool

	Flags() Flag
}

// Capability interfaces replacing the opaque ioctl opcode space.
type (
	// Transporter exposes the underlying OS-level descriptor, for streams
	// that are backed by one (files, sockets).
	Transporter interface {
		Transport() (fd uintptr, ok bool)
	}

	// Substreamer walks one level down a wrapper chain (e.g. a filter
	// stream exposing the stream it decorates).
	Substreamer interface {
		Substream() (Stream, bool)
	}

	// Topstreamer is distinguished from Substreamer by returning two
	// streams: an iostream pairs a read side with a write side.
	Topstreamer interface {
		Topstream() (in, out Stream, ok bool)
	}

	// Timeouter lets a caller configure a read/write deadline.
	Timeouter interface {
		SetTimeout(d time.Duration)
	}
)

// Capability walks s (and, transitively, anything it exposes through
// Substreamer) looking for a value implementing T. It is the Go
// replacement for the C library's "return not-implemented, walk the
// wrapper chain" ioctl pattern.
func Capability[T any](s Stream) (T, bool) {
	var zero T
	cur := s
	for {
		if t, ok := any(cur).(T); ok {
			return t, true
		}
		sub, ok := any(cur).(Substreamer)
		if !ok {
			return zero, false
		}
		next, ok := sub.Substream()
		if !ok {
			return zero, false
		}
		cur = next
	}
}

// ErrNotSeekable is returned by streams opened without FlagSeek.
var ErrNotSeekable = errors.New("stream: not seekable")

// NotOpenError is returned by an operation on a stream that hasn't had
// Open (or the constructor's implicit open) called yet.
func NotOpenError() error { return muerr.ErrNotOpen }
