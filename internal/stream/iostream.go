package stream

import (
	"context"
	"io"
)

// IOStream pairs an independent input stream with an output stream under
// a single handle — the shape a network connection or a locker's external
// helper's stdin/stdout pipe naturally has. It is the one stream kind
// whose Topstream capability returns two streams instead of one/zero
// (design §4.1).
type IOStream struct {
	In, Out Stream
}

func NewIOStream(in, out Stream) *IOStream { return &IOStream{In: in, Out: out} }

func (s *IOStream) Read(p []byte) (int, error)  { return s.In.Read(p) }
func (s *IOStream) Write(p []byte) (int, error) { return s.Out.Write(p) }
func (s *IOStream) Close() error {
	errIn := s.In.Close()
	errOut := s.Out.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}
func (s *IOStream) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSeekable
}
func (s *IOStream) Size() (int64, error)      { return s.In.Size() }
func (s *IOStream) Truncate(n int64) error    { return s.Out.Truncate(n) }
func (s *IOStream) Flush() error              { return s.Out.Flush() }
func (s *IOStream) Wait(ctx context.Context) error {
	if err := s.In.Wait(ctx); err != nil {
		return err
	}
	return s.Out.Wait(ctx)
}
func (s *IOStream) Err() error {
	if err := s.In.Err(); err != nil {
		return err
	}
	return s.Out.Err()
}
func (s *IOStream) EOF() bool { return s.In.EOF() }
func (s *IOStream) Flags() Flag {
	return s.In.Flags() | s.Out.Flags()
}

// Topstream implements stream.Topstreamer.
func (s *IOStream) Topstream() (in, out Stream, ok bool) { return s.In, s.Out, true }

var _ io.ReadWriteCloser = (*IOStream)(nil)
