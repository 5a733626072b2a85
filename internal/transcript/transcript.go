// Package transcript implements the session-logging stream described in
// design §4.3: every buffered line moving through a wrapped transport is
// copied to a logger, tagged by direction, with a small state machine per
// direction that redacts authentication payloads and skips bulk literals.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/mailutils-go/mailutils/internal/stream"
)

// State is the per-direction logging mode.
type State int

const (
	StateNormal State = iota
	StateSecure
	StatePayload
	StateSkipLen
	StateDisabled
)

// Direction tags a line as client-to-server or server-to-client.
type Direction int

const (
	DirClient Direction = iota // "C: "
	DirServer                  // "S: "
)

func (d Direction) tag() string {
	if d == DirServer {
		return "S: "
	}
	return "C: "
}

// Logger receives one already-tagged transcript line per call.
type Logger interface {
	Log(line string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(line string)

func (f LoggerFunc) Log(line string) { f(line) }

type dirState struct {
	state     State
	skipLen   int
	payloadOn bool // have we already emitted the "(data...)" placeholder
}

// Stream tees a wrapped transport through Logger, applying the
// PASS/LOGIN-redaction and PAYLOAD-skip rules per direction.
type Stream struct {
	under  stream.Stream
	logger Logger

	read  dirState
	write dirState

	r *bufio.Reader
}

func New(under stream.Stream, logger Logger) *Stream {
	return &Stream{under: under, logger: logger, r: bufio.NewReader(under)}
}

// SetLevel atomically swaps both directions' state and returns the
// previous pair, matching the "atomically returns previous levels" ioctl
// contract (§4.3) so callers can stack modes around AUTH/literal transfer.
func (s *Stream) SetLevel(readState, writeState State) (prevRead, prevWrite State) {
	prevRead, prevWrite = s.read.state, s.write.state
	s.read.state, s.write.state = readState, writeState
	return
}

// SetSkipLen arms SKIPLEN mode on the read or write direction for exactly
// n bytes of literal payload.
func (s *Stream) SetSkipLen(dir Direction, n int) {
	d := s.dir(dir)
	d.state = StateSkipLen
	d.skipLen = n
}

func (s *Stream) dir(dir Direction) *dirState {
	if dir == DirServer {
		return &s.write
	}
	return &s.read
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.logChunk(DirClient, p[:n])
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.under.Write(p)
	if n > 0 {
		s.logChunk(DirServer, p[:n])
	}
	return n, err
}

// logChunk splits chunk into lines and dispatches each through the
// direction's state machine. Non-terminated trailing bytes are logged as
// a partial line; the transcript is a diagnostic aid, not a byte-exact
// replay log, so this simplification is acceptable.
func (s *Stream) logChunk(dir Direction, chunk []byte) {
	d := s.dir(dir)
	for _, line := range splitLines(chunk) {
		s.logLine(dir, d, line)
	}
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			out = append(out, b)
			break
		}
		out = append(out, b[:idx+1])
		b = b[idx+1:]
	}
	return out
}

func (s *Stream) logLine(dir Direction, d *dirState, line []byte) {
	switch d.state {
	case StateDisabled:
		return
	case StateSkipLen:
		n := len(line)
		if n > d.skipLen {
			n = d.skipLen
		}
		d.skipLen -= n
		if d.skipLen <= 0 {
			d.state = StateNormal
			if n < len(line) {
				s.emit(dir, strings.TrimRight(string(line[n:]), "\r\n"))
			}
		}
		return
	case StatePayload:
		if !d.payloadOn {
			d.payloadOn = true
			s.emit(dir, "(data...)")
		}
		return
	case StateSecure:
		s.emit(dir, redact(string(line)))
	default: // StateNormal
		s.emit(dir, strings.TrimRight(string(line), "\r\n"))
	}
}

func (s *Stream) emit(dir Direction, text string) {
	s.logger.Log(dir.tag() + text)
}

// redact implements the two recognized command shapes in SECURE mode
// (design §4.3): "PASS <word>" redacts the argument, "<tag> LOGIN <w1> <w2>"
// redacts the second argument.
func redact(line string) string {
	trimmed := strings.TrimRight(line, "\r\n")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return trimmed
	}
	if strings.EqualFold(fields[0], "PASS") && len(fields) >= 2 {
		return fields[0] + " ***"
	}
	for i, f := range fields {
		if strings.EqualFold(f, "LOGIN") && len(fields) >= i+3 {
			out := append([]string{}, fields[:i+2]...)
			out = append(out, "***")
			out = append(out, fields[i+3:]...)
			return strings.Join(out, " ")
		}
	}
	return trimmed
}

func (s *Stream) Close() error { return s.under.Close() }
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.under.Seek(offset, whence)
}
func (s *Stream) Size() (int64, error)   { return s.under.Size() }
func (s *Stream) Truncate(n int64) error { return s.under.Truncate(n) }
func (s *Stream) Flush() error           { return s.under.Flush() }
func (s *Stream) Wait(ctx context.Context) error { return s.under.Wait(ctx) }
func (s *Stream) Err() error              { return s.under.Err() }
func (s *Stream) EOF() bool               { return s.under.EOF() }
func (s *Stream) Flags() stream.Flag      { return s.under.Flags() }

// Substream implements stream.Substreamer.
func (s *Stream) Substream() (stream.Stream, bool) { return s.under, true }

var _ io.ReadWriteCloser = (*Stream)(nil)
