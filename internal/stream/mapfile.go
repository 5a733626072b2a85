package stream

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MapFile is an mmap-backed stream over a regular file, for the read-mostly
// case of scanning a large mbox/dotmail spool without a read() syscall per
// buffer fill. It falls back to a plain File stream when mmap fails (a
// zero-length file, a filesystem that refuses MAP_SHARED, ...), exactly as
// design §4.1 describes for the "mapfile" kind.
type MapFile struct {
	*Buffered
	f    *os.File
	data []byte
}

// OpenMapFile tries to mmap path read-only; on any failure it returns a
// plain *File instead so callers can treat the result uniformly as a
// Stream.
func OpenMapFile(path string, flags Flag, bufsz int) (Stream, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		f.Close()
		return OpenFile(path, flags&^FlagWrite, BufferFull, bufsz)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return OpenFile(path, flags&^FlagWrite, BufferFull, bufsz)
	}

	mb := &mmapBackend{data: data}
	return &MapFile{
		Buffered: NewBuffered(mb, (flags|FlagSeek)&^FlagWrite, BufferFull, bufsz),
		f:        f,
		data:     data,
	}, nil
}

func (m *MapFile) Close() error {
	err := unix.Munmap(m.data)
	if ferr := m.f.Close(); err == nil {
		err = ferr
	}
	return err
}

type mmapBackend struct{ data []byte }

func (b *mmapBackend) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *mmapBackend) WriteAt(p []byte, off int64) (int, error) {
	return 0, NotOpenError()
}

func (b *mmapBackend) Truncate(size int64) error { return NotOpenError() }
func (b *mmapBackend) Sync() error               { return nil }
func (b *mmapBackend) Size() (int64, error)      { return int64(len(b.data)), nil }
