package stream

import (
	"context"
	"io"
	"os"
)

// RDCache wraps a non-seekable source (a pipe, a network read side) and
// adds Seek by spooling everything read so far into a temp file, the way
// the design's "rdcache" stream kind is described (§4.1).
type RDCache struct {
	src    io.Reader
	spool  *os.File
	size   int64 // bytes spooled so far
	pos    int64
	srcEOF bool
}

func NewRDCache(src io.Reader) (*RDCache, error) {
	f, err := os.CreateTemp("", "mu-rdcache-*")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name()) // unlinked but kept open: pure scratch space
	return &RDCache{src: src, spool: f}, nil
}

// fill spools until at least `upto` bytes are cached or the source is
// exhausted.
func (c *RDCache) fill(upto int64) error {
	if c.srcEOF || c.size >= upto {
		return nil
	}
	buf := make([]byte, 32*1024)
	for c.size < upto {
		n, err := c.src.Read(buf)
		if n > 0 {
			if _, werr := c.spool.WriteAt(buf[:n], c.size); werr != nil {
				return werr
			}
			c.size += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				c.srcEOF = true
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *RDCache) Read(p []byte) (int, error) {
	if err := c.fill(c.pos + int64(len(p))); err != nil {
		return 0, err
	}
	if c.pos >= c.size {
		if c.srcEOF {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, err := c.spool.ReadAt(p, c.pos)
	if err == io.EOF && n > 0 {
		err = nil
	}
	c.pos += int64(n)
	return n, err
}

func (c *RDCache) Write(p []byte) (int, error) { return 0, NotOpenError() }
func (c *RDCache) Close() error                { return c.spool.Close() }

func (c *RDCache) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.pos + offset
	case io.SeekEnd:
		if err := c.drainAll(); err != nil {
			return 0, err
		}
		target = c.size + offset
	}
	if target < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if err := c.fill(target); err != nil {
		return 0, err
	}
	c.pos = target
	return c.pos, nil
}

func (c *RDCache) drainAll() error {
	buf := make([]byte, 32*1024)
	for !c.srcEOF {
		n, err := c.src.Read(buf)
		if n > 0 {
			if _, werr := c.spool.WriteAt(buf[:n], c.size); werr != nil {
				return werr
			}
			c.size += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				c.srcEOF = true
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *RDCache) Size() (int64, error) {
	if err := c.drainAll(); err != nil {
		return 0, err
	}
	return c.size, nil
}
func (c *RDCache) Truncate(n int64) error          { return NotOpenError() }
func (c *RDCache) Flush() error                    { return nil }
func (c *RDCache) Wait(ctx context.Context) error  { return nil }
func (c *RDCache) Err() error                      { return nil }
func (c *RDCache) EOF() bool                       { return c.srcEOF && c.pos >= c.size }
func (c *RDCache) Flags() Flag                     { return FlagRead | FlagSeek }
