package dotmail

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

func TestDotStuffingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dm1")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	mb, err := New(path, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}

	body := []byte(".hidden\n..double\n")
	msg := &mailbox.Message{
		Headers: []mailbox.Header{{Name: "Subject", Value: "x"}},
		Body:    body,
	}
	if _, _, err := mb.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := mb.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("..hidden\n...double\n.\n")) {
		t.Fatalf("on-disk body not dot-stuffed as expected: %q", data)
	}

	mb2, err := New(path, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb2.Open(context.Background(), mailbox.OpenRead); err != nil {
		t.Fatal(err)
	}
	got, err := mb2.GetMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("round trip mismatch: got %q, want %q", got.Body, body)
	}
}

// TestFlagsSurviveReopen exercises P3: setting a subset of flags and
// flushing must read back as the same bitset from a fresh Mailbox
// instance opened over the same file, not just the one that set them.
func TestFlagsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dm2")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	mb, err := New(path, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}

	msg := &mailbox.Message{
		Headers: []mailbox.Header{{Name: "Subject", Value: "x"}},
		Body:    []byte("hi\n"),
	}
	if _, _, err := mb.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	want := attr.Seen | attr.Deleted | attr.Draft
	if err := mb.SetFlags(1, want); err != nil {
		t.Fatal(err)
	}
	if err := mb.Close(); err != nil {
		t.Fatal(err)
	}

	mb2, err := New(path, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb2.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	defer mb2.Close()

	got, err := mb2.GetMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Flags&(attr.Seen|attr.Answered|attr.Flagged|attr.Deleted|attr.Draft|attr.Forwarded) != want {
		t.Fatalf("got flags %v after reopen, want %v", got.Flags, want)
	}
	if got.Flags.Has(attr.Recent) {
		t.Fatal("expected Recent to be cleared once Status header is present")
	}
}
