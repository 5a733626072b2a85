package mbox

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

func newTestMailbox(t *testing.T) (*Mailbox, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mbox1")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Config{Locker: locker.Config{Type: "null"}}
	mb, err := New(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return mb, path
}

func TestMinimalAppend(t *testing.T) {
	mb, path := newTestMailbox(t)
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}

	msg := &mailbox.Message{
		Headers: []mailbox.Header{{Name: "From", Value: "a@x"}, {Name: "Subject", Value: "s"}},
		Body:    []byte("hi\n"),
		Envelope: mailbox.Envelope{
			Sender: "a@x",
			Date:   time.Now(),
		},
	}
	ordinal, uid, err := mb.Append(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if ordinal != 1 || uid != 1 {
		t.Fatalf("got ordinal=%d uid=%d, want 1,1", ordinal, uid)
	}
	if err := mb.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("From a@x ")) {
		t.Fatalf("file does not start with a From_ line: %q", data[:min(40, len(data))])
	}
	if !bytes.Contains(data, []byte("X-IMAPbase:")) {
		t.Fatalf("file missing X-IMAPbase header: %q", data)
	}
}

func TestFromEscapeRoundTrip(t *testing.T) {
	mb, _ := newTestMailbox(t)
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}

	body := []byte("From the start\nOK\n")
	msg := &mailbox.Message{
		Headers:  []mailbox.Header{{Name: "Subject", Value: "x"}},
		Body:     body,
		Envelope: mailbox.Envelope{Sender: "a@x", Date: time.Now()},
	}
	if _, _, err := mb.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := mb.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := mb.GetMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("round trip mismatch: got %q, want %q", got.Body, body)
	}
}

func TestUIDMonotonicity(t *testing.T) {
	mb, _ := newTestMailbox(t)
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		msg := &mailbox.Message{
			Body:     []byte("body\n"),
			Envelope: mailbox.Envelope{Sender: "a@x", Date: time.Now()},
		}
		if _, _, err := mb.Append(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	var last uint32
	for i := 1; i <= mb.Count(); i++ {
		m, err := mb.GetMessage(i)
		if err != nil {
			t.Fatal(err)
		}
		if m.UID <= last {
			t.Fatalf("UIDs not strictly increasing: %d after %d", m.UID, last)
		}
		if m.UID >= mb.UIDNext() {
			t.Fatalf("uid %d >= uidnext %d", m.UID, mb.UIDNext())
		}
		last = m.UID
	}
}

// TestMessageInvalidatedOnClose exercises design §3: a handle obtained
// from GetMessage before Close must not keep reading the message's
// content afterward.
func TestMessageInvalidatedOnClose(t *testing.T) {
	mb, _ := newTestMailbox(t)
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	msg := &mailbox.Message{
		Headers:  []mailbox.Header{{Name: "Subject", Value: "s"}},
		Body:     []byte("hi\n"),
		Envelope: mailbox.Envelope{Sender: "a@x", Date: time.Now()},
	}
	if _, _, err := mb.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	got, err := mb.GetMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Header("Subject"); !ok {
		t.Fatal("expected Subject header before Close")
	}

	if err := mb.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := got.Header("Subject"); ok {
		t.Fatal("expected handle to be invalidated once the mailbox is closed")
	}
}

// TestFlagsSurviveReopen exercises P3: setting a subset of flags and
// flushing must read back as the same bitset from a fresh Mailbox
// instance opened over the same file, not just the one that set them.
func TestFlagsSurviveReopen(t *testing.T) {
	mb, path := newTestMailbox(t)
	if err := mb.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	msg := &mailbox.Message{
		Headers:  []mailbox.Header{{Name: "Subject", Value: "s"}},
		Body:     []byte("hi\n"),
		Envelope: mailbox.Envelope{Sender: "a@x", Date: time.Now()},
	}
	if _, _, err := mb.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	want := attr.Seen | attr.Flagged | attr.Answered
	if err := mb.SetFlags(1, want); err != nil {
		t.Fatal(err)
	}
	if err := mb.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path, Config{Locker: locker.Config{Type: "null"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Open(context.Background(), mailbox.OpenRead|mailbox.OpenWrite); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetMessage(1)
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
