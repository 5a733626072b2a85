package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mailutils-go/mailutils/internal/stream"
)

type recorder struct {
	lines []string
}

func (r *recorder) Log(line string) { r.lines = append(r.lines, line) }

func newTestStream(t *testing.T) (*Stream, *recorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	f, err := stream.OpenFile(path, stream.FlagRead|stream.FlagWrite, stream.BufferNone, 4096)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return New(f, rec), rec
}

func TestNormalModeTagsEachLine(t *testing.T) {
	s, rec := newTestStream(t)
	s.Write([]byte("EHLO client.example\r\n"))
	if len(rec.lines) != 1 || rec.lines[0] != "S: EHLO client.example" {
		t.Fatalf("got %v", rec.lines)
	}
}

func TestSecureModeRedactsPass(t *testing.T) {
	s, rec := newTestStream(t)
	s.SetLevel(StateSecure, StateSecure)
	s.Write([]byte("PASS hunter2\r\n"))
	if len(rec.lines) != 1 || rec.lines[0] != "S: PASS ***" {
		t.Fatalf("got %v", rec.lines)
	}
}

func TestSecureModeRedactsLoginSecondArg(t *testing.T) {
	s, rec := newTestStream(t)
	s.SetLevel(StateSecure, StateSecure)
	s.Write([]byte("a1 LOGIN alice secretpass\r\n"))
	if len(rec.lines) != 1 || rec.lines[0] != "S: a1 LOGIN alice ***" {
		t.Fatalf("got %v", rec.lines)
	}
}

func TestPayloadModeEmitsPlaceholderOnce(t *testing.T) {
	s, rec := newTestStream(t)
	s.SetLevel(StateNormal, StatePayload)
	s.Write([]byte("line one\r\nline two\r\n"))
	if len(rec.lines) != 1 || rec.lines[0] != "S: (data...)" {
		t.Fatalf("got %v", rec.lines)
	}
}

func TestSkipLenSwallowsExactBytesThenResumes(t *testing.T) {
	s, rec := newTestStream(t)
	s.SetSkipLen(DirServer, 5)
	s.Write([]byte("ab\r\n"))
	s.Write([]byte("cd\r\n"))
	s.Write([]byte("after\r\n"))
	if len(rec.lines) != 2 || rec.lines[0] != "S: d" || rec.lines[1] != "S: after" {
		t.Fatalf("got %v", rec.lines)
	}
}

func TestSetLevelReturnsPreviousState(t *testing.T) {
	s, _ := newTestStream(t)
	s.SetLevel(StateSecure, StatePayload)
	prevRead, prevWrite := s.SetLevel(StateNormal, StateNormal)
	if prevRead != StateSecure || prevWrite != StatePayload {
		t.Fatalf("got prevRead=%v prevWrite=%v", prevRead, prevWrite)
	}
}
