package maildir

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

func newTestMaildir(t *testing.T) *Mailbox {
	t.Helper()
	dir := t.TempDir()
	mb, err := New(dir, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	return mb
}

func TestMaildirDelivery(t *testing.T) {
	mb := newTestMaildir(t)

	msg := &mailbox.Message{
		Headers: []mailbox.Header{{Name: "Subject", Value: "hello"}},
		Body:    []byte("body\n"),
	}
	ordinal, uid, err := mb.Append(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if ordinal != 1 || uid != 1 {
		t.Fatalf("got ordinal=%d uid=%d, want 1,1", ordinal, uid)
	}

	entries, err := os.ReadDir(filepath.Join(mb.dir, "new"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in new/, got %d", len(entries))
	}
	name := entries[0].Name()
	re := regexp.MustCompile(`^\d+\.R[0-9A-F]+I[0-9A-F]+V[0-9A-F]+M\d+P\d+Q\d+\..+$`)
	if !re.MatchString(strings.SplitN(name, ",", 2)[0]) {
		t.Fatalf("unique prefix %q does not match expected shape", name)
	}
	if strings.Contains(name, ":2,") {
		t.Fatalf("freshly delivered message should have no :2, suffix, got %q", name)
	}
}

func TestMaildirFlagChange(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"tmp", "new", "cur"} {
		os.MkdirAll(filepath.Join(dir, sub), 0755)
	}
	name := "NAME,u=5:2,"
	if err := os.WriteFile(filepath.Join(dir, "cur", name), []byte("Subject: x\n\nbody\n"), 0644); err != nil {
		t.Fatal(err)
	}

	mb, err := New(dir, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}

	if err := mb.SetFlags(1, attr.Seen|attr.Answered); err != nil {
		t.Fatal(err)
	}
	if err := mb.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "cur"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in cur/, got %d", len(entries))
	}
	if entries[0].Name() != "NAME,u=5:2,RS" {
		t.Fatalf("got filename %q, want %q", entries[0].Name(), "NAME,u=5:2,RS")
	}
}
