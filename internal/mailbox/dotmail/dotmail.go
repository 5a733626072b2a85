// Package dotmail implements the dot-terminated mailbox format (design
// §4.7): messages separated by lines containing only ".", with bodies
// dot-stuffed and per-message UIDs carried in an X-UID header.
package dotmail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mailutils-go/mailutils/internal/critsec"
	"github.com/mailutils-go/mailutils/internal/filter"
	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
	"github.com/mailutils-go/mailutils/internal/muerr"
)

type record struct {
	messageStart int64
	bodyStart    int64
	messageEnd   int64 // last byte before the "." terminator line

	uid      uint32
	uidSet   bool
	flags    attr.Flags
	modified bool
	deleted  bool
}

// Mailbox implements mailbox.Mailbox for the dotmail format.
type Mailbox struct {
	path   string
	obs    *mailbox.Observable
	locker *locker.Locker
	logger *slog.Logger

	f *os.File

	messages []*record
	liveMu   sync.Mutex
	live     []*mailbox.Message

	uidvalidity uint32
	uidnext     uint32
	uidsInit    bool

	imapBaseOff   int64
	imapBaseLen   int
	imapBaseWidth int

	writable bool
}

type Config struct {
	AutodetectLevel int
	Locker          locker.Config
}

func New(path string, cfg Config, logger *slog.Logger) (*Mailbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := locker.New(path, cfg.Locker, logger)
	if err != nil {
		return nil, err
	}
	return &Mailbox{path: path, obs: mailbox.NewObservable("dotmail"), locker: l, logger: logger}, nil
}

func (m *Mailbox) Open(ctx context.Context, flags mailbox.OpenFlag) error {
	perm := os.O_RDONLY
	if flags&mailbox.OpenWrite != 0 {
		perm = os.O_RDWR
		m.writable = true
	}
	if flags&mailbox.OpenCreate != 0 {
		perm |= os.O_CREATE
	}
	f, err := os.OpenFile(m.path, perm, 0644)
	if err != nil {
		return fmt.Errorf("dotmail: open %s: %w", m.path, err)
	}
	m.f = f
	if m.writable {
		if err := m.locker.Lock(locker.ModeExclusive); err != nil {
			f.Close()
			return err
		}
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
	return m.f.Close()
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

// scanState names six states of the design §4.7 scanner: init, header,
// header_newline, body, body_newline, dot (header_expect has no
// constant). Scan only ever enters init, header, body and dot.
type scanState int

const (
	stInit scanState = iota
	stHeader
	stHeaderNewline
	stBody
	stBodyNewline
	stDot
)

// Scan walks the file splitting on lines containing only "." and
// extracts Status/X-IMAPbase/X-UID header values along the way (design
// §4.7).
func (m *Mailbox) Scan(ctx context.Context) error {
	m.obs.Lock()
	defer m.obs.Unlock()

	m.invalidateLive()

	if _, err := m.f.Seek(0, 0); err != nil {
		return err
	}
	r := bufio.NewReaderSize(m.f, 64*1024)

	var records []*record
	var cur *record
	var pos int64
	state := stInit
	first := true
	imapBaseOff, imapBaseLen := int64(-1), 0

	for {
		lineStart := pos
		line, err := r.ReadBytes('\n')
		pos += int64(len(line))
		trimmed := bytes.TrimSuffix(line, []byte("\n"))

		switch state {
		case stInit, stDot:
			cur = &record{messageStart: lineStart, flags: attr.Recent}
			state = stHeader
			fallthrough
		case stHeader:
			if len(trimmed) == 0 {
				cur.bodyStart = pos
				state = stBody
			} else {
				if first && bytes.HasPrefix(line, []byte("X-IMAPbase:")) {
					imapBaseOff = lineStart
					imapBaseLen = len(trimmed)
					if !m.uidsInit {
						fmt.Sscanf(string(trimmed[len("X-IMAPbase:"):]), "%d", &m.uidvalidity)
					}
				}
				if bytes.HasPrefix(line, []byte("X-UID:")) {
					var v int
					if n, _ := fmt.Sscanf(string(trimmed), "X-UID: %d", &v); n == 1 {
						cur.uid = uint32(v)
						cur.uidSet = true
					}
				}
				scanHeaderLine(cur, trimmed)
			}
		case stBody:
			if string(trimmed) == "." {
				cur.messageEnd = lineStart - 1
				records = append(records, cur)
				first = false
				state = stDot
			}
		}
		if err != nil {
			break
		}
	}

	m.messages = records
	m.imapBaseOff = imapBaseOff
	m.imapBaseLen = imapBaseLen
	return m.initUIDs()
}

func (m *Mailbox) initUIDs() error {
	if m.uidsInit {
		return nil
	}
	valid := m.imapBaseOff >= 0
	var last uint32
	if valid {
		for _, r := range m.messages {
			if !r.uidSet || r.uid <= last {
				valid = false
				break
			}
			last = r.uid
		}
	}
	if !valid {
		m.uidvalidity = uint32(time.Now().Unix())
		for i, r := range m.messages {
			r.uid = uint32(i + 1)
			r.uidSet = true
			r.modified = true
		}
		m.uidnext = uint32(len(m.messages) + 1)
		m.imapBaseWidth = 10
	} else {
		m.uidnext = last + 1
	}
	m.uidsInit = true
	return nil
}

func (m *Mailbox) Count() int          { return len(m.messages) }
func (m *Mailbox) UIDValidity() uint32 { return m.uidvalidity }
func (m *Mailbox) UIDNext() uint32     { return m.uidnext }

func (m *Mailbox) Recent() int {
	n := 0
	for _, r := range m.messages {
		if r.flags.Has(attr.Recent) {
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

func (m *Mailbox) SetFlags(ordinal int, flags attr.Flags) error {
	m.obs.Lock()
	defer m.obs.Unlock()
	r, err := m.record(ordinal)
	if err != nil {
		return err
	}
	r.flags = flags | attr.Modified
	r.modified = true
	return nil
}

func (m *Mailbox) GetMessage(ordinal int) (*mailbox.Message, error) {
	m.obs.RLock()
	defer m.obs.RUnlock()
	r, err := m.record(ordinal)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, r.messageEnd-r.messageStart+1)
	if _, err := m.f.ReadAt(buf, r.messageStart); err != nil {
		return nil, fmt.Errorf("dotmail: read message %d: %w", ordinal, err)
	}
	headers, body := splitHeaderBody(buf)
	body = undotStuff(body)

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
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		hdrs = append(hdrs, mailbox.Header{Name: string(name), Value: string(bytes.TrimLeft(value, " \t"))})
	}
	return hdrs
}

func dotStuff(body []byte) []byte {
	codec := filter.Dot{}
	var out bytes.Buffer
	for _, line := range splitKeepNL(body) {
		out.Write(codec.EncodeLine(line))
	}
	return out.Bytes()
}

func undotStuff(body []byte) []byte {
	codec := filter.Dot{}
	var out bytes.Buffer
	for _, line := range splitKeepNL(body) {
		decoded, done := codec.DecodeLine(line)
		if done {
			break
		}
		out.Write(decoded)
	}
	return out.Bytes()
}

func splitKeepNL(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			lines = append(lines, b)
			break
		}
		lines = append(lines, b[:i+1])
		b = b[i+1:]
	}
	return lines
}

func isUIDHeader(name string) bool {
	switch name {
	case "X-IMAPbase", "X-UID", "Status", "X-Status":
		return true
	}
	return false
}

// scanHeaderLine folds a Status/X-Status header line encountered in
// stHeader into cur's flags (design §4.7, P3), so a mailbox reopened
// after a flush reports the same bitset it was last synced with.
func scanHeaderLine(cur *record, trimmed []byte) {
	name, value, ok := bytes.Cut(trimmed, []byte(":"))
	if !ok {
		return
	}
	value = bytes.TrimLeft(value, " \t")
	switch string(name) {
	case "Status":
		cur.flags = attr.ParseStatus(cur.flags, string(value))
	case "X-Status":
		cur.flags = attr.ParseXStatus(cur.flags, string(value))
	}
}

// Append writes msg followed by a "." terminator line, mirroring mbox's
// append protocol but with dot-stuffing instead of From_ escaping
// (design §4.7).
func (m *Mailbox) Append(ctx context.Context, msg *mailbox.Message) (int, uint32, error) {
	m.obs.Lock()
	if !m.writable {
		m.obs.Unlock()
		return 0, 0, muerr.ErrNotWritable
	}

	off, err := m.f.Seek(0, os.SEEK_END)
	if err != nil {
		m.obs.Unlock()
		return 0, 0, err
	}

	uid := m.uidnext
	m.uidnext++

	var w bytes.Buffer
	if len(m.messages) == 0 {
		fmt.Fprintf(&w, "X-IMAPbase: %s\n", m.formatIMAPBase())
	}
	fmt.Fprintf(&w, "X-UID: %d\n", uid)
	for _, h := range msg.Headers {
		if isUIDHeader(h.Name) {
			continue
		}
		fmt.Fprintf(&w, "%s: %s\n", h.Name, h.Value)
	}
	w.WriteByte('\n')
	w.Write(dotStuff(msg.Body))
	if len(msg.Body) == 0 || msg.Body[len(msg.Body)-1] != '\n' {
		w.WriteByte('\n')
	}
	w.WriteString(".\n")

	n, err := m.f.Write(w.Bytes())
	if err != nil {
		m.obs.Unlock()
		return 0, 0, err
	}

	r := &record{
		messageStart: off,
		uid:          uid,
		uidSet:       true,
		flags:        attr.Recent,
		messageEnd:   off + int64(n) - 3,
	}
	m.messages = append(m.messages, r)
	ordinal := len(m.messages)
	m.obs.Unlock()

	m.obs.Notify(mailbox.Event{Kind: mailbox.EventMessageAppend, Offset: off})
	return ordinal, uid, nil
}

func (m *Mailbox) formatIMAPBase() string {
	if m.imapBaseWidth == 0 {
		m.imapBaseWidth = 10
	}
	return fmt.Sprintf("%*d %*d", m.imapBaseWidth, m.uidvalidity, m.imapBaseWidth, m.uidnext)
}

func (m *Mailbox) Expunge(ctx context.Context) error {
	m.obs.Lock()
	expunged := 0
	for _, r := range m.messages {
		if r.deleted || r.flags.Has(attr.Deleted) {
			r.deleted = true
			expunged++
		}
	}
	m.obs.Unlock()
	if expunged > 0 {
		m.obs.Notify(mailbox.Event{Kind: mailbox.EventMessageExpunge, ExpungeN: expunged})
	}
	return m.Sync(ctx)
}

// Sync performs the same atomic temp+rename flush as mbox (design
// §4.7: "flush and append protocols mirror mbox").
func (m *Mailbox) Sync(ctx context.Context) error {
	m.obs.Lock()
	defer m.obs.Unlock()

	dirty := false
	for _, r := range m.messages {
		if r.modified || r.deleted {
			dirty = true
			break
		}
	}
	if !dirty {
		return nil
	}
	return m.fullRewrite()
}

func (m *Mailbox) fullRewrite() error {
	defer critsec.Enter()()

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".dotmail-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var newRecords []*record
	for _, r := range m.messages {
		if r.deleted {
			continue
		}
		nr := *r
		start, _ := tmp.Seek(0, os.SEEK_CUR)
		nr.messageStart = start

		raw := make([]byte, r.messageEnd-r.messageStart+1)
		if _, err := m.f.ReadAt(raw, r.messageStart); err != nil {
			tmp.Close()
			return err
		}
		headers, rawBody := splitHeaderBody(raw)

		var hdr bytes.Buffer
		if len(newRecords) == 0 {
			fmt.Fprintf(&hdr, "X-IMAPbase: %s\n", m.formatIMAPBase())
		}
		fmt.Fprintf(&hdr, "X-UID: %d\n", r.uid)
		if s := attr.Status(r.flags); s != "" {
			fmt.Fprintf(&hdr, "Status: %s\n", s)
		}
		if xs := attr.XStatus(r.flags); xs != "" {
			fmt.Fprintf(&hdr, "X-Status: %s\n", xs)
		}
		for _, h := range headers {
			if isUIDHeader(h.Name) {
				continue
			}
			fmt.Fprintf(&hdr, "%s: %s\n", h.Name, h.Value)
		}
		hdr.WriteByte('\n')

		if _, err := tmp.Write(hdr.Bytes()); err != nil {
			tmp.Close()
			return err
		}
		nr.bodyStart, _ = tmp.Seek(0, os.SEEK_CUR)
		body := undotStuff(rawBody)
		stuffed := dotStuff(body)
		if _, err := tmp.Write(stuffed); err != nil {
			tmp.Close()
			return err
		}
		end, _ := tmp.Seek(0, os.SEEK_CUR)
		if _, err := tmp.WriteString(".\n"); err != nil {
			tmp.Close()
			return err
		}
		nr.messageEnd = end - 1
		nr.modified = false
		nr.flags &^= attr.Modified
		newRecords = append(newRecords, &nr)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	backup := m.path + ".bak"
	if err := os.Rename(m.path, backup); err != nil {
		return fmt.Errorf("dotmail: backup rename: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Rename(backup, m.path)
		return fmt.Errorf("dotmail: final rename: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	m.f.Close()
	m.f = f
	m.messages = newRecords
	os.Remove(backup)
	return nil
}

// DetectLevel implements the registrar's autodetection hook: a dotmail
// file is recognized by a lone "." line appearing before EOF.
func DetectLevel(path string, level int) bool {
	if level <= 0 {
		_, err := os.Stat(path)
		return err == nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() == "." {
			return true
		}
	}
	return false
}
