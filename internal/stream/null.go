package stream

import (
	"context"
	"io"
)

// Null discards everything written to it and reads as EOF; it is used by
// the MIME writer's non-zero seek implementation (design §4.8: "piping to
// a null stream and discarding — O(n) but correct").
type Null struct{ pos int64 }

func NewNull() *Null { return &Null{} }

func (n *Null) Read(p []byte) (int, error)  { return 0, io.EOF }
func (n *Null) Write(p []byte) (int, error) { n.pos += int64(len(p)); return len(p), nil }
func (n *Null) Close() error                { return nil }
func (n *Null) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		n.pos = offset
	case io.SeekCurrent:
		n.pos += offset
	case io.SeekEnd:
		n.pos = offset
	}
	return n.pos, nil
}
func (n *Null) Size() (int64, error)      { return n.pos, nil }
func (n *Null) Truncate(size int64) error { n.pos = size; return nil }
func (n *Null) Flush() error              { return nil }
func (n *Null) Wait(ctx context.Context) error { return nil }
func (n *Null) Err() error                { return nil }
func (n *Null) EOF() bool                 { return true }
func (n *Null) Flags() Flag               { return FlagRead | FlagWrite | FlagSeek }
