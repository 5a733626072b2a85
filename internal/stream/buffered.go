package stream

import (
	"bytes"
	"context"
	"io"
)

// backend is the minimal set a Buffered stream needs from whatever it
// wraps (an *os.File, an mmap'd region, ...).
type backend interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
}

// Buffered implements the buffering contract from design §4.1 on top of
// an arbitrary random-access backend: reads drain the buffer first, line
// buffered reads fill one logical line at a time, writes stage into the
// buffer and line-buffered writes flush on every newline.
type Buffered struct {
	b backend

	flags Flag
	mode  BufferMode
	bufsz int

	pos int64 // logical cursor

	rbuf    []byte // bytes read from backend but not yet consumed
	rbufOff int64  // backend offset rbuf[0] corresponds to

	wbuf     bytes.Buffer // staged, unflushed output
	wbufOff  int64        // backend offset wbuf corresponds to
	wbufDirty bool

	bytesIn, bytesOut int64
	sticky            error
	eof               bool

	cbMask EventKind
	cb     EventCallback
}

// NewBuffered wraps b with the given flags and buffering mode. bufsz is
// advisory: 0 selects a 8KiB default.
func NewBuffered(b backend, flags Flag, mode BufferMode, bufsz int) *Buffered {
	if bufsz <= 0 {
		bufsz = 8192
	}
	return &Buffered{b: b, flags: flags, mode: mode, bufsz: bufsz}
}

func (s *Buffered) Flags() Flag { return s.flags }
func (s *Buffered) Err() error  { return s.sticky }
func (s *Buffered) EOF() bool   { return s.eof }

func (s *Buffered) SetEventCallback(mask EventKind, cb EventCallback) {
	s.cbMask, s.cb = mask, cb
}

func (s *Buffered) fire(kind EventKind) {
	if s.cb != nil && s.cbMask&kind != 0 {
		s.cb(kind, s)
	}
}

func (s *Buffered) Read(p []byte) (int, error) {
	if s.b == nil {
		return 0, NotOpenError()
	}
	if !s.flags.Has(FlagRead) {
		return 0, NotOpenError()
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := s.flushDirtyIfCrossing(s.pos); err != nil {
		return 0, err
	}

	switch s.mode {
	case BufferNone:
		n, err := s.b.ReadAt(p, s.pos)
		if n > 0 {
			s.pos += int64(n)
			s.bytesIn += int64(n)
		}
		if err == io.EOF && n > 0 {
			err = nil // short read at EOF still returns its bytes
		}
		if err == io.EOF {
			s.eof = true
		}
		return n, err
	case BufferLine:
		return s.readLine(p)
	default:
		return s.readFull(p)
	}
}

func (s *Buffered) ensureBuf(at int64) error {
	if len(s.rbuf) > 0 && at >= s.rbufOff && at < s.rbufOff+int64(len(s.rbuf)) {
		return nil
	}
	buf := make([]byte, s.bufsz)
	s.fire(EventFillBuf)
	n, err := s.b.ReadAt(buf, at)
	if n == 0 && err != nil && err != io.EOF {
		return err
	}
	s.rbuf = buf[:n]
	s.rbufOff = at
	if n == 0 {
		s.eof = true
	} else {
		s.eof = false
	}
	return nil
}

func (s *Buffered) readFull(p []byte) (int, error) {
	if err := s.ensureBuf(s.pos); err != nil {
		return 0, err
	}
	if len(s.rbuf) == 0 {
		return 0, io.EOF
	}
	off := int(s.pos - s.rbufOff)
	n := copy(p, s.rbuf[off:])
	s.pos += int64(n)
	s.bytesIn += int64(n)
	return n, nil
}

func (s *Buffered) readLine(p []byte) (int, error) {
	if err := s.ensureBuf(s.pos); err != nil {
		return 0, err
	}
	if len(s.rbuf) == 0 {
		return 0, io.EOF
	}
	off := int(s.pos - s.rbufOff)
	rest := s.rbuf[off:]
	idx := bytes.IndexByte(rest, '\n')
	var n int
	if idx >= 0 {
		n = copy(p, rest[:idx+1])
	} else {
		n = copy(p, rest)
	}
	s.pos += int64(n)
	s.bytesIn += int64(n)
	return n, nil
}

func (s *Buffered) Write(p []byte) (int, error) {
	if s.b == nil {
		return 0, NotOpenError()
	}
	if !s.flags.Has(FlagWrite) {
		return 0, NotOpenError()
	}
	if s.flags.Has(FlagAppend) {
		sz, err := s.b.Size()
		if err != nil {
			return 0, err
		}
		s.pos = sz
	}
	if s.wbuf.Len() == 0 {
		s.wbufOff = s.pos
	} else if s.wbufOff+int64(s.wbuf.Len()) != s.pos {
		// non-contiguous write: flush what we have first
		if err := s.Flush(); err != nil {
			return 0, err
		}
		s.wbufOff = s.pos
	}

	n, _ := s.wbuf.Write(p)
	s.pos += int64(n)
	s.bytesOut += int64(n)
	s.wbufDirty = true

	if s.mode == BufferNone {
		if err := s.Flush(); err != nil {
			return n, err
		}
	} else if s.mode == BufferLine && bytes.ContainsRune(p, '\n') {
		if err := s.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush pushes any staged write bytes to the backend.
func (s *Buffered) Flush() error {
	if !s.wbufDirty || s.wbuf.Len() == 0 {
		s.wbufDirty = false
		return nil
	}
	s.fire(EventFlushBuf)
	if _, err := s.b.WriteAt(s.wbuf.Bytes(), s.wbufOff); err != nil {
		return err
	}
	s.wbuf.Reset()
	s.wbufDirty = false
	// invalidate any overlapping read cache
	s.rbuf = nil
	return nil
}

func (s *Buffered) flushDirtyIfCrossing(target int64) error {
	if s.wbufDirty && (target < s.wbufOff || target > s.wbufOff+int64(s.wbuf.Len())) {
		return s.Flush()
	}
	return nil
}

func (s *Buffered) Seek(offset int64, whence int) (int64, error) {
	if !s.flags.Has(FlagSeek) {
		return 0, ErrNotSeekable
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		sz, err := s.Size()
		if err != nil {
			return 0, err
		}
		base = sz
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	// seeks leaving the buffered window force a flush of dirty bytes
	if err := s.flushDirtyIfCrossing(newPos); err != nil {
		return 0, err
	}
	s.pos = newPos
	s.eof = false
	return s.pos, nil
}

func (s *Buffered) Size() (int64, error) {
	sz, err := s.b.Size()
	if err != nil {
		return 0, err
	}
	if s.wbufDirty {
		end := s.wbufOff + int64(s.wbuf.Len())
		if end > sz && s.pos >= sz {
			sz = end
		}
	}
	return sz, nil
}

func (s *Buffered) Truncate(n int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.rbuf = nil
	return s.b.Truncate(n)
}

func (s *Buffered) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.fire(EventClose)
	return s.b.Sync()
}

func (s *Buffered) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
