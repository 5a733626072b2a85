package mime

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/stream"
)

func TestParseParams(t *testing.T) {
	mt, boundary := ParseParams(`multipart/mixed; boundary="abc123"`)
	if mt != "multipart/mixed" || boundary != "abc123" {
		t.Fatalf("got (%q, %q)", mt, boundary)
	}
}

func headerValue(hdrs []mailbox.Header, name string) (string, bool) {
	for _, h := range hdrs {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func TestReadPartsTwoParts(t *testing.T) {
	raw := "--B\nContent-Type: text/plain\n\nfirst part\n--B\nContent-Type: text/html\n\n<b>second</b>\n--B--\n"
	path := filepath.Join(t.TempDir(), "body")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := stream.OpenFile(path, stream.FlagRead, stream.BufferNone, 4096)
	if err != nil {
		t.Fatal(err)
	}
	ref := stream.NewStreamRef(f, 0, int64(len(raw)), stream.FlagRead)

	parts, err := ReadParts(ref, "B")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if v, _ := headerValue(parts[0].Headers, "Content-Type"); v != "text/plain" {
		t.Fatalf("part 0 content-type = %q", v)
	}
	body0, _ := io.ReadAll(parts[0].Body)
	if string(body0) != "first part" {
		t.Fatalf("part 0 body = %q", body0)
	}
	body1, _ := io.ReadAll(parts[1].Body)
	if string(body1) != "<b>second</b>" {
		t.Fatalf("part 1 body = %q", body1)
	}
}
