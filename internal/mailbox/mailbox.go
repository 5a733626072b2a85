// Package mailbox defines the common trait every on-disk engine
// (mbox, maildir, dotmail) implements, plus the public Message handle
// and header representation shared across them (design §3-4).
package mailbox

import (
	"context"
	"time"

	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

// OpenFlag controls how Open acquires the backing stream and lock.
type OpenFlag int

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenCreate
)

// Header is one name/value field record, preserving the original field
// order and any folding whitespace a strict round trip requires.
type Header struct {
	Name  string
	Value string
}

// Envelope is the sender/date pair used for the mbox From_ line and
// dotmail's synthetic equivalent; distinct from the header block.
type Envelope struct {
	Sender string
	Date   time.Time
}

// Message is the public, lazily materialized handle returned by
// GetMessage. It references the engine's physical record by ordinal; it
// must not be used after the owning Mailbox is closed (Detach is called
// at that point and zeroes the back-pointer).
type Message struct {
	Ordinal int
	UID     uint32

	Headers  []Header
	Body     []byte
	Envelope Envelope
	Flags    attr.Flags

	refs   int
	detach func()
	closed bool
}

// SetDetach registers the callback an engine's GetMessage invokes to
// release whatever state it holds on this handle's behalf, either when
// the caller's ref count reaches zero or when Invalidate forces it.
func (m *Message) SetDetach(fn func()) { m.detach = fn }

// Ref increments the reference count; Unref decrements it and, on
// reaching zero, invokes the detach callback registered by the engine
// that produced this handle.
func (m *Message) Ref() { m.refs++ }

func (m *Message) Unref() {
	if m.refs > 0 {
		m.refs--
	}
	if m.refs == 0 && m.detach != nil {
		m.detach()
		m.detach = nil
	}
}

// Invalidate forcibly detaches the handle regardless of outstanding
// refs. Engines call this from Close/Scan on every handle they have
// issued, so a Message obtained before the owning Mailbox's session
// ends cannot be read afterward (design §3): the back-pointer an
// engine's detach closure holds is nulled, and the handle reports
// itself closed to every subsequent Header lookup.
func (m *Message) Invalidate() {
	if m.closed {
		return
	}
	m.closed = true
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
}

// Header looks up the first header with the given name, case-insensitively.
// It reports false once the handle has been invalidated, even if the
// underlying slice has not been released yet.
func (m *Message) Header(name string) (string, bool) {
	if m.closed {
		return "", false
	}
	for _, h := range m.Headers {
		if eqFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Mailbox is the uniform API every storage engine implements (design
// §2/§3): open/close/scan/append/expunge/sync/get_message/uid*/count/
// recent/unseen.
type Mailbox interface {
	// Open acquires the backing stream and lock and performs the initial
	// scan.
	Open(ctx context.Context, flags OpenFlag) error
	// Close flushes pending changes and releases the lock.
	Close() error

	// Scan re-reads the backing store, merging in messages appended by
	// another process since the last scan.
	Scan(ctx context.Context) error

	// Append adds msg at the end of the mailbox. The returned ordinal and
	// uid reflect the newly created message.
	Append(ctx context.Context, msg *Message) (ordinal int, uid uint32, err error)

	// Expunge removes every message flagged Deleted, renumbering
	// survivors 1..n' while preserving order and UIDs (P4).
	Expunge(ctx context.Context) error

	// Sync flushes any dirty message (UID change, flag change, deletion)
	// to disk atomically (P5, P6).
	Sync(ctx context.Context) error

	// GetMessage materializes the public handle for ordinal (1-based).
	GetMessage(ordinal int) (*Message, error)

	// SetFlags replaces ordinal's attribute flags and marks it dirty.
	SetFlags(ordinal int, flags attr.Flags) error

	Count() int
	UIDValidity() uint32
	UIDNext() uint32
	Recent() int
	Unseen() int
}
