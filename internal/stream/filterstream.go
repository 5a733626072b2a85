package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/mailutils-go/mailutils/internal/filter"
)

// Filter wraps a Stream with a bidirectional line codec (design §4.2):
// writes are split at newlines and encoded line by line before reaching
// the underlying stream (a trailing partial line is encoded as it is,
// not held back for the next Write); reads are decoded line by line as
// they come out of it, and a hold-back buffer keeps decoded bytes not
// yet delivered to the caller.
type Filter struct {
	under Stream
	codec filter.Codec

	r        *bufio.Reader
	rHold    bytes.Buffer // decoded bytes not yet delivered to the caller
	doneRead bool

	flags Flag
}

func NewFilter(under Stream, codec filter.Codec, flags Flag) *Filter {
	return &Filter{under: under, codec: codec, r: bufio.NewReader(under), flags: flags}
}

func (f *Filter) Read(p []byte) (int, error) {
	for f.rHold.Len() == 0 && !f.doneRead {
		line, err := f.r.ReadBytes('\n')
		if len(line) > 0 {
			out, done := f.codec.DecodeLine(line)
			f.rHold.Write(out)
			if done {
				f.doneRead = true
			}
		}
		if err != nil {
			if err == io.EOF {
				f.doneRead = true
				break
			}
			return 0, err
		}
	}
	if f.rHold.Len() == 0 {
		return 0, io.EOF
	}
	return f.rHold.Read(p)
}

func (f *Filter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx < 0 {
			line = p
			p = nil
		} else {
			line = p[:idx+1]
			p = p[idx+1:]
		}
		encoded := f.codec.EncodeLine(line)
		n, err := f.under.Write(encoded)
		total += min(n, len(line))
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *Filter) Close() error { return f.under.Close() }
func (f *Filter) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSeekable // filters are not seekable: they are stateful codecs
}
func (f *Filter) Size() (int64, error)      { return f.under.Size() }
func (f *Filter) Truncate(n int64) error    { return f.under.Truncate(n) }
func (f *Filter) Flush() error              { return f.under.Flush() }
func (f *Filter) Wait(ctx context.Context) error { return f.under.Wait(ctx) }
func (f *Filter) Err() error                { return f.under.Err() }
func (f *Filter) EOF() bool                 { return f.doneRead && f.rHold.Len() == 0 }
func (f *Filter) Flags() Flag               { return f.flags }

// Substream implements stream.Substreamer.
func (f *Filter) Substream() (Stream, bool) { return f.under, true }
