package maildir

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
	"github.com/mailutils-go/mailutils/internal/muerr"
)

type record struct {
	subdir   string // "new" or "cur"
	filename string
	uniq     string
	uid      uint32
	flags    attr.Flags
	modified bool
	deleted  bool
}

// Mailbox implements mailbox.Mailbox for the maildir format (design §4.6).
type Mailbox struct {
	dir    string
	obs    *mailbox.Observable
	locker *locker.Locker
	logger *slog.Logger

	messages []*record
	liveMu   sync.Mutex
	live     []*mailbox.Message

	uidvalidity uint32
	uidnext     uint32

	writable bool
}

type Config struct {
	Locker locker.Config
}

func New(dir string, cfg Config, logger *slog.Logger) (*Mailbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := locker.New(filepath.Join(dir, "maildirfolder"), cfg.Locker, logger)
	if err != nil {
		return nil, err
	}
	return &Mailbox{dir: dir, obs: mailbox.NewObservable("maildir"), locker: l, logger: logger}, nil
}

func (m *Mailbox) Open(ctx context.Context, flags mailbox.OpenFlag) error {
	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(m.dir, sub), 0755); err != nil {
			return fmt.Errorf("maildir: mkdir %s: %w", sub, err)
		}
	}
	if flags&mailbox.OpenWrite != 0 {
		m.writable = true
		if err := m.locker.Lock(locker.ModeExclusive); err != nil {
			return err
		}
		m.flushStaleTmp()
	}
	m.obs.Opened()
	return m.Scan(ctx)
}

func (m *Mailbox) Close() error {
	if err := m.Sync(context.Background()); err != nil {
		return err
	}
	if m.writable {
		m.locker.Unlock()
	}
	m.invalidateLive()
	m.obs.Closed()
	return nil
}

// invalidateLive detaches every handle GetMessage has issued: none of
// them may outlive this mailbox's open session (design §3).
func (m *Mailbox) invalidateLive() {
	m.liveMu.Lock()
	live := m.live
	m.live = nil
	m.liveMu.Unlock()
	for _, msg := range live {
		msg.Invalidate()
	}
}

// flushStaleTmp removes files left behind in tmp/ by a crashed
// delivery, per design §4.6 ("tmp/ is flushed of stale files on open
// in write mode").
func (m *Mailbox) flushStaleTmp() {
	entries, err := os.ReadDir(filepath.Join(m.dir, "tmp"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-36 * time.Hour)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(m.dir, "tmp", e.Name()))
		}
	}
}

// Scan reads cur/ then new/, parses each filename, sorts by the stable
// key seconds→M-counter→Q-counter→lexicographic, applies the attribute
// and UID fixups, and assigns sequential ordinals (design §4.6).
func (m *Mailbox) Scan(ctx context.Context) error {
	m.obs.Lock()
	defer m.obs.Unlock()

	m.invalidateLive()

	prop, err := mailbox.ReadMuProp(m.dir)
	if err != nil {
		return err
	}
	legacy := prop.IsLegacyVersion()

	var records []*record
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(m.dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			name := e.Name()
			p := parseFilename(name)
			r := &record{subdir: sub, filename: name, uniq: p.uniq, uid: p.uid, flags: p.flags}
			if legacy && attr.NeedsLegacyFixup(p.info) {
				r.modified = true
			}
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		ki, kj := sortKey(records[i].filename), sortKey(records[j].filename)
		return ki < kj
	})

	m.messages = records
	m.fixupUIDs()

	if legacy && m.writable {
		m.renameFixedUp()
		prop.Version = currentVersion
		prop.Write(m.dir)
	}
	return nil
}

const currentVersion = "3.99.0"

// sortKey extracts "<sec>.<...>M<usec>...Q<count>..." into a
// lexicographically-comparable string: seconds, M-counter, Q-counter,
// then the raw name as a tiebreaker (design §4.6).
func sortKey(name string) string {
	sec := leadingDigits(name)
	m := afterMarker(name, 'M')
	q := afterMarker(name, 'Q')
	return fmt.Sprintf("%020s.%020s.%020s.%s", sec, m, q, name)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func afterMarker(s string, marker byte) string {
	i := strings.IndexByte(s, marker)
	if i < 0 {
		return ""
	}
	j := i + 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	return s[i+1 : j]
}

// fixupUIDs reassigns UIDs 1..n and a fresh uidvalidity whenever any
// parsed UID is zero or out of order (design §4.6).
func (m *Mailbox) fixupUIDs() {
	valid := true
	var last uint32
	for _, r := range m.messages {
		if r.uid == 0 || r.uid <= last {
			valid = false
			break
		}
		last = r.uid
	}
	if valid {
		if len(m.messages) > 0 {
			m.uidnext = last + 1
		} else {
			m.uidnext = 1
		}
		return
	}
	m.uidvalidity = uint32(time.Now().Unix())
	for i, r := range m.messages {
		r.uid = uint32(i + 1)
		r.modified = true
	}
	m.uidnext = uint32(len(m.messages) + 1)
}

// renameFixedUp applies the pending attribute/UID renames computed by
// Scan.
func (m *Mailbox) renameFixedUp() {
	for _, r := range m.messages {
		if !r.modified {
			continue
		}
		m.renameRecord(r)
	}
}

func (m *Mailbox) renameRecord(r *record) {
	newName := formatFilename(r.uniq, r.uid, r.flags)
	if newName == r.filename {
		r.modified = false
		return
	}
	oldPath := filepath.Join(m.dir, r.subdir, r.filename)
	newPath := filepath.Join(m.dir, r.subdir, newName)
	if err := os.Rename(oldPath, newPath); err != nil {
		m.logger.Warn("maildir: rename failed", "old", oldPath, "new", newPath, "error", err)
		return
	}
	r.filename = newName
	r.modified = false
}

func (m *Mailbox) Count() int          { return len(m.messages) }
func (m *Mailbox) UIDValidity() uint32 { return m.uidvalidity }
func (m *Mailbox) UIDNext() uint32     { return m.uidnext }

func (m *Mailbox) Recent() int {
	n := 0
	for _, r := range m.messages {
		if r.subdir == "new" {
			n++
		}
	}
	return n
}

func (m *Mailbox) Unseen() int {
	n := 0
	for _, r := range m.messages {
		if !r.flags.Has(attr.Seen) {
			n++
		}
	}
	return n
}

func (m *Mailbox) record(ordinal int) (*record, error) {
	if ordinal < 1 || ordinal > len(m.messages) {
		return nil, muerr.ErrNoEnt
	}
	return m.messages[ordinal-1], nil
}

// SetFlags renames the message's file to encode its new flags, moving
// it from new/ to cur/ if it is gaining its first flag touch (design
// §4.6's "flag change: rename() from cur/name to cur/new-name").
func (m *Mailbox) SetFlags(ordinal int, flags attr.Flags) error {
	m.obs.Lock()
	defer m.obs.Unlock()
	r, err := m.record(ordinal)
	if err != nil {
		return err
	}
	r.flags = flags
	if flags.Has(attr.Deleted) {
		r.deleted = true
	}
	if r.subdir == "new" {
		if err := m.moveToCur(r); err != nil {
			return err
		}
	}
	m.renameRecord(r)
	return nil
}

func (m *Mailbox) moveToCur(r *record) error {
	oldPath := filepath.Join(m.dir, "new", r.filename)
	newPath := filepath.Join(m.dir, "cur", r.filename)
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	r.subdir = "cur"
	return nil
}

func (m *Mailbox) GetMessage(ordinal int) (*mailbox.Message, error) {
	m.obs.RLock()
	defer m.obs.RUnlock()
	r, err := m.record(ordinal)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(m.dir, r.subdir, r.filename))
	if err != nil {
		return nil, fmt.Errorf("maildir: read %s: %w", r.filename, err)
	}
	headers, body := splitHeaderBody(data)
	msg := &mailbox.Message{
		Ordinal: ordinal,
		UID:     r.uid,
		Headers: headers,
		Body:    body,
		Flags:   r.flags,
	}
	msg.SetDetach(func() {
		msg.Headers = nil
		msg.Body = nil
	})
	msg.Ref()

	m.liveMu.Lock()
	m.live = append(m.live, msg)
	m.liveMu.Unlock()

	return msg, nil
}

func splitHeaderBody(msg []byte) ([]mailbox.Header, []byte) {
	idx := bytes.Index(msg, []byte("\n\n"))
	if idx < 0 {
		return parseHeaders(msg), nil
	}
	return parseHeaders(msg[:idx]), msg[idx+2:]
}

func parseHeaders(block []byte) []mailbox.Header {
	var hdrs []mailbox.Header
	for _, line := range bytes.Split(block, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(hdrs) > 0 {
			hdrs[len(hdrs)-1].Value += "\n" + string(line)
			continue
		}
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		hdrs = append(hdrs, mailbox.Header{Name: string(name), Value: string(bytes.TrimLeft(value, " \t"))})
	}
	return hdrs
}

// Append delivers msg: write to tmp/<unique> with O_EXCL, link() it to
// new/ or cur/ depending on whether the caller already marked it Seen,
// then unlink the tmp copy (design §4.6's "hard-link then rename" rule,
// shared with the on-disk invariant P5 in spec.md §3).
func (m *Mailbox) Append(ctx context.Context, msg *mailbox.Message) (int, uint32, error) {
	m.obs.Lock()
	if !m.writable {
		m.obs.Unlock()
		return 0, 0, muerr.ErrNotWritable
	}

	uid := m.uidnext
	m.uidnext++

	uniq := m.generateUnique()
	tmpPath := filepath.Join(m.dir, "tmp", uniq)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		m.obs.Unlock()
		return 0, 0, fmt.Errorf("maildir: create tmp: %w", err)
	}

	var w bytes.Buffer
	for _, h := range msg.Headers {
		fmt.Fprintf(&w, "%s: %s\n", h.Name, h.Value)
	}
	w.WriteByte('\n')
	w.Write(msg.Body)
	if _, err := f.Write(w.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		m.obs.Unlock()
		return 0, 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		m.obs.Unlock()
		return 0, 0, err
	}

	subdir := "new"
	if msg.Flags.Has(attr.Seen) {
		subdir = "cur"
	}
	name := formatFilename(uniq, uid, msg.Flags)
	if subdir == "new" {
		// a fresh delivery to new/ carries no ":2," info suffix
		name = fmt.Sprintf("%s,u=%d", uniq, uid)
	}
	destPath := filepath.Join(m.dir, subdir, name)
	if err := os.Link(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		m.obs.Unlock()
		return 0, 0, fmt.Errorf("maildir: link into %s: %w", subdir, err)
	}
	os.Remove(tmpPath)

	r := &record{subdir: subdir, filename: name, uniq: uniq, uid: uid, flags: msg.Flags}
	m.messages = append(m.messages, r)
	ordinal := len(m.messages)
	m.obs.Unlock()

	m.obs.Notify(mailbox.Event{Kind: mailbox.EventMessageAppend})
	return ordinal, uid, nil
}

// generateUnique builds the unique prefix (design §4.6). Random bytes
// stand in for the inode/dev hex fields rather than stat'ing the tmp
// file after creation, since entropy plus pid/time/counter is already
// sufficient to avoid collisions.
func (m *Mailbox) generateUnique() string {
	var buf [8]byte
	rand.Read(buf[:])
	randomHex := strings.ToUpper(hex.EncodeToString(buf[:4]))
	inodeHex := strings.ToUpper(hex.EncodeToString(buf[4:6]))
	devHex := strings.ToUpper(hex.EncodeToString(buf[6:8]))
	now := time.Now()
	return newUniqueName(now.Unix(), int64(now.Nanosecond()/1000), randomHex, inodeHex, devHex, os.Getpid())
}

// Expunge unlinks every Deleted message's file (design §4.6).
func (m *Mailbox) Expunge(ctx context.Context) error {
	m.obs.Lock()
	var survivors []*record
	expunged := 0
	for _, r := range m.messages {
		if r.deleted || r.flags.Has(attr.Deleted) {
			os.Remove(filepath.Join(m.dir, r.subdir, r.filename))
			expunged++
			continue
		}
		survivors = append(survivors, r)
	}
	m.messages = survivors
	m.obs.Unlock()
	if expunged > 0 {
		m.obs.Notify(mailbox.Event{Kind: mailbox.EventMessageExpunge, ExpungeN: expunged})
	}
	return nil
}

// Sync applies any pending renames (UID/flag fixups not yet written
// back) — maildir has no file-level flush beyond these renames. Sync does
// not write .mu-prop; only Scan does.
func (m *Mailbox) Sync(ctx context.Context) error {
	m.obs.Lock()
	defer m.obs.Unlock()
	for _, r := range m.messages {
		if r.modified {
			m.renameRecord(r)
		}
	}
	return nil
}

// Size returns the sum of regular-file sizes in new/ and cur/ (design §4.6).
func (m *Mailbox) Size() (int64, error) {
	var total int64
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(m.dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			total += info.Size()
		}
	}
	return total, nil
}

// DetectLevel implements the registrar's autodetection hook: a path is
// a maildir if it is a directory containing tmp/, new/ and cur/.
func DetectLevel(path string, level int) bool {
	for _, sub := range []string{"tmp", "new", "cur"} {
		fi, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}
