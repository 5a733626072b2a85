package filter

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
)

// Base64 and QuotedPrintable give the two RFC 2045 content transfer
// encodings a streaming, bufio-friendly shape consistent with the other
// filters, on top of the standard library's encoders/decoders — no pack
// example carries its own base64/QP codec, and the standard library's
// implementation is already the canonical RFC 2045 byte semantics, so
// there is nothing an external dependency would add here.

// Base64Encode base64-encodes the whole of src, wrapped at the standard
// 76-column line length with CRLF.
func Base64Encode(dst *bytes.Buffer, src []byte) {
	enc := base64.StdEncoding.EncodeToString(src)
	for len(enc) > 76 {
		dst.WriteString(enc[:76])
		dst.WriteString("\r\n")
		enc = enc[76:]
	}
	dst.WriteString(enc)
	dst.WriteString("\r\n")
}

// Base64Decode decodes a base64 body (whitespace-tolerant) from r.
func Base64Decode(r io.Reader) ([]byte, error) {
	dec := base64.NewDecoder(base64.StdEncoding, &lineStrippingReader{r: r})
	return io.ReadAll(dec)
}

// lineStrippingReader removes CR/LF so base64.NewDecoder doesn't choke on
// encoded lines.
type lineStrippingReader struct{ r io.Reader }

func (s *lineStrippingReader) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	n, err := s.r.Read(buf)
	out := buf[:0]
	for _, b := range buf[:n] {
		if b != '\r' && b != '\n' {
			out = append(out, b)
		}
	}
	copy(p, out)
	return len(out), err
}

// QuotedPrintableEncode writes the RFC 2045 quoted-printable encoding of
// src to dst.
func QuotedPrintableEncode(dst io.Writer, src []byte) error {
	w := quotedprintable.NewWriter(dst)
	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}

// QuotedPrintableDecode decodes a quoted-printable body from r.
func QuotedPrintableDecode(r io.Reader) ([]byte, error) {
	return io.ReadAll(quotedprintable.NewReader(r))
}
