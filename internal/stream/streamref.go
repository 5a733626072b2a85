package stream

import (
	"context"
	"io"
)

// StreamRef is a bounded window over a parent stream with its own
// independent cursor: message Header/Body/Envelope sub-streams and MIME
// parts are all streamrefs into the mailbox's single backing stream
// (design §3, §4.8).
type StreamRef struct {
	parent Stream
	base   int64 // offset into parent where this window starts
	length int64 // -1 means "to end of parent"
	pos    int64 // cursor relative to base
	flags  Flag
}

// NewStreamRef returns a window [base, base+length) over parent. A
// negative length means the window extends to the parent's current end.
func NewStreamRef(parent Stream, base, length int64, flags Flag) *StreamRef {
	return &StreamRef{parent: parent, base: base, length: length, flags: flags | FlagSeek}
}

func (r *StreamRef) boundedLen() (int64, error) {
	if r.length >= 0 {
		return r.length, nil
	}
	sz, err := r.parent.Size()
	if err != nil {
		return 0, err
	}
	if sz < r.base {
		return 0, nil
	}
	return sz - r.base, nil
}

func (r *StreamRef) Read(p []byte) (int, error) {
	length, err := r.boundedLen()
	if err != nil {
		return 0, err
	}
	if r.pos >= length {
		return 0, io.EOF
	}
	if _, err := r.parent.Seek(r.base+r.pos, io.SeekStart); err != nil {
		return 0, err
	}
	remain := length - r.pos
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := r.parent.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *StreamRef) Write(p []byte) (int, error) {
	if !r.flags.Has(FlagWrite) {
		return 0, NotOpenError()
	}
	if _, err := r.parent.Seek(r.base+r.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := r.parent.Write(p)
	r.pos += int64(n)
	if r.length >= 0 && r.pos > r.length {
		r.length = r.pos
	}
	return n, err
}

func (r *StreamRef) Seek(offset int64, whence int) (int64, error) {
	length, err := r.boundedLen()
	if err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = length + offset
	}
	if newPos < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.pos = newPos
	return r.pos, nil
}

func (r *StreamRef) Size() (int64, error) { return r.boundedLen() }

func (r *StreamRef) Truncate(n int64) error {
	if n < 0 {
		return io.ErrUnexpectedEOF
	}
	r.length = n
	return nil
}

func (r *StreamRef) Flush() error { return r.parent.Flush() }
func (r *StreamRef) Close() error { return nil } // parent owns lifecycle
func (r *StreamRef) Err() error   { return r.parent.Err() }
func (r *StreamRef) EOF() bool {
	length, err := r.boundedLen()
	if err != nil {
		return false
	}
	return r.pos >= length
}
func (r *StreamRef) Flags() Flag { return r.flags }
func (r *StreamRef) Wait(ctx context.Context) error { return r.parent.Wait(ctx) }

// Substream implements stream.Substreamer so Capability() can walk
// through a streamref to whatever typed capability its parent exposes.
func (r *StreamRef) Substream() (Stream, bool) { return r.parent, true }

// Base returns the window start. Rebase moves the window to
// [base, base+length) and resets the cursor to its start.
func (r *StreamRef) Base() int64   { return r.base }
func (r *StreamRef) Rebase(base, length int64) {
	r.base, r.length, r.pos = base, length, 0
}
