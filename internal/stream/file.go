package stream

import (
	"fmt"
	"os"
)

// fileBackend adapts *os.File to the backend interface Buffered expects.
type fileBackend struct{ f *os.File }

func (b *fileBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *fileBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *fileBackend) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *fileBackend) Sync() error                              { return b.f.Sync() }
func (b *fileBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// File is a path-backed Stream (design §4.1 "stdio"/"file" kinds collapsed
// into one, since os.File already serves both a path and an inherited fd).
type File struct {
	*Buffered
	f *os.File
}

// OpenFile opens path according to flags (FlagRead/FlagWrite/FlagAppend)
// and wraps it in a Buffered stream using mode/bufsz.
func OpenFile(path string, flags Flag, mode BufferMode, bufsz int) (*File, error) {
	var osFlags int
	switch {
	case flags.Has(FlagRead) && flags.Has(FlagWrite):
		osFlags = os.O_RDWR | os.O_CREATE
	case flags.Has(FlagWrite):
		osFlags = os.O_WRONLY | os.O_CREATE
	default:
		osFlags = os.O_RDONLY
	}
	if flags.Has(FlagAppend) {
		osFlags |= os.O_APPEND
	}
	f, err := os.OpenFile(path, osFlags, 0600)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", path, err)
	}
	flags |= FlagSeek
	return &File{Buffered: NewBuffered(&fileBackend{f}, flags, mode, bufsz), f: f}, nil
}

// NewFileStream wraps an already-open *os.File (e.g. a fd inherited from
// the caller, mirroring the "stdio" stream kind).
func NewFileStream(f *os.File, flags Flag, mode BufferMode, bufsz int) *File {
	flags |= FlagSeek
	return &File{Buffered: NewBuffered(&fileBackend{f}, flags, mode, bufsz), f: f}
}

func (fs *File) Close() error {
	if err := fs.Buffered.Close(); err != nil {
		return err
	}
	return fs.f.Close()
}

// Transport implements stream.Transporter.
func (fs *File) Transport() (uintptr, bool) { return fs.f.Fd(), true }

// Name returns the path this stream was opened from, for diagnostics.
func (fs *File) Name() string { return fs.f.Name() }
