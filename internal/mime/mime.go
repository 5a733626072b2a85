// Package mime implements the multipart reader/writer the mailbox
// engines use when a message's Content-Type is multipart/* (design
// §4.8): a boundary-driven state-machine parser and a writer that
// interleaves an ordered vector of parts.
package mime

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/stream"
)

// Part is one body part of a multipart message: its own header block
// plus a streamref-bounded body into the parent stream.
type Part struct {
	Headers []mailbox.Header
	Body    *stream.StreamRef
}

// ParseParams extracts the boundary parameter from a Content-Type
// header value such as `multipart/mixed; boundary="abc"`.
func ParseParams(contentType string) (mediaType string, boundary string) {
	fields := strings.Split(contentType, ";")
	mediaType = strings.TrimSpace(fields[0])
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "boundary" {
			boundary = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return mediaType, boundary
}

type scanState int

const (
	stScanBoundary scanState = iota
	stHeaders
)

// ReadParts walks body line by line with a scan_boundary<->headers
// state machine, splitting it into parts bounded by "--<boundary>"
// lines and closed by "--<boundary>--" (design §4.8). The CRLF
// immediately preceding a boundary line belongs to the boundary per
// RFC 1521, not to the preceding part, so each part's body is trimmed
// of exactly one trailing line terminator when the next boundary closes
// it.
func ReadParts(parent *stream.StreamRef, boundary string) ([]Part, error) {
	data, err := io.ReadAll(parent)
	if err != nil {
		return nil, fmt.Errorf("mime: read body: %w", err)
	}

	open := []byte("--" + boundary)
	closeTag := []byte("--" + boundary + "--")

	var parts []Part
	state := stScanBoundary
	var headerBuf bytes.Buffer
	var bodyStart int
	pos := 0

	commitPart := func(headerBlock []byte, bodyEnd int) {
		hdrs := parseHeaders(headerBlock)
		length := int64(bodyEnd - bodyStart)
		if length < 0 {
			length = 0
		}
		ref := stream.NewStreamRef(parent, int64(bodyStart), length, stream.FlagRead)
		parts = append(parts, Part{Headers: hdrs, Body: ref})
	}

	r := bufio.NewReader(bytes.NewReader(data))
	for {
		lineStart := pos
		line, rerr := r.ReadBytes('\n')
		pos += len(line)
		trimmed := bytes.TrimRight(line, "\r\n")

		switch state {
		case stScanBoundary:
			if bytes.Equal(trimmed, closeTag) {
				if len(parts) > 0 || headerBuf.Len() > 0 {
					end := lineStart
					if end > 0 && data[end-1] == '\n' {
						end--
					}
					commitPart(headerBuf.Bytes(), end)
				}
				return parts, nil
			}
			if bytes.Equal(trimmed, open) {
				if headerBuf.Len() > 0 || len(parts) > 0 {
					end := lineStart
					if end > 0 && data[end-1] == '\n' {
						end--
					}
					commitPart(headerBuf.Bytes(), end)
				}
				headerBuf.Reset()
				state = stHeaders
			}
		case stHeaders:
			if len(trimmed) == 0 {
				bodyStart = pos
				state = stScanBoundary
			} else {
				headerBuf.Write(line)
			}
		}
		if rerr != nil {
			break
		}
	}
	return parts, nil
}

func parseHeaders(block []byte) []mailbox.Header {
	var hdrs []mailbox.Header
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
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

// Writer builds a composite multipart body stream from an ordered
// vector of parts (design §4.8).
type Writer struct {
	boundary string
	parts    []Part
	buf      *bytes.Reader
	pos      int64
}

func NewWriter(boundary string, parts []Part) *Writer {
	return &Writer{boundary: boundary, parts: parts}
}

// render materializes the composite body into memory, interleaving
// "--boundary", headers, blank line and body for each part, and closing
// with "--boundary--".
func (w *Writer) render() ([]byte, error) {
	var out bytes.Buffer
	for _, p := range w.parts {
		fmt.Fprintf(&out, "--%s\n", w.boundary)
		for _, h := range p.Headers {
			fmt.Fprintf(&out, "%s: %s\n", h.Name, h.Value)
		}
		out.WriteByte('\n')
		if p.Body != nil {
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, err
			}
			out.Write(body)
			if len(body) == 0 || body[len(body)-1] != '\n' {
				out.WriteByte('\n')
			}
		}
	}
	fmt.Fprintf(&out, "--%s--\n", w.boundary)
	return out.Bytes(), nil
}

func (w *Writer) ensureRendered() error {
	if w.buf != nil {
		return nil
	}
	data, err := w.render()
	if err != nil {
		return err
	}
	w.buf = bytes.NewReader(data)
	return nil
}

func (w *Writer) Read(p []byte) (int, error) {
	if err := w.ensureRendered(); err != nil {
		return 0, err
	}
	n, err := w.buf.ReadAt(p, w.pos)
	w.pos += int64(n)
	return n, err
}

// Seek resets the internal cursor for seek(0); any non-zero seek is
// implemented by discarding bytes up to the target offset — O(n) but
// correct and seekable from the caller's perspective, matching the
// deliberate policy choice recorded in design §4.8/§9.
func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	if err := w.ensureRendered(); err != nil {
		return 0, err
	}
	if offset == 0 && whence == io.SeekStart {
		w.pos = 0
		return 0, nil
	}
	null := stream.NewNull()
	target := offset
	if whence == io.SeekCurrent {
		target += w.pos
	}
	if whence == io.SeekEnd {
		target = int64(w.buf.Len()) + offset
	}
	w.pos = 0
	io.CopyN(null, w, target)
	return w.pos, nil
}
