package filter

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// FallbackPolicy controls what RFC2047 does with an encoded word it
// cannot decode (unknown charset, truncated data) — design §4.2.
type FallbackPolicy int

const (
	// FallbackNone drops the encoded word entirely.
	FallbackNone FallbackPolicy = iota
	// FallbackCopyPass copies the raw encoded-word text through unchanged.
	FallbackCopyPass
	// FallbackCopyOctal copies through with unprintable bytes escaped as \NNN.
	FallbackCopyOctal
	// FallbackReplace substitutes U+FFFD for the whole word.
	FallbackReplace
)

// RFC2047 decodes/encodes header "encoded words" (=?charset?Q|B?...?=).
// It is not line-oriented like the other filters — callers invoke
// DecodeHeader/EncodeWord directly against a header field value — but it
// implements Codec so it is registered in the same registry.
type RFC2047 struct {
	DefaultCharset string
	Fallback       FallbackPolicy
}

func NewRFC2047(defaultCharset string, fallback FallbackPolicy) *RFC2047 {
	if defaultCharset == "" {
		defaultCharset = "us-ascii"
	}
	return &RFC2047{DefaultCharset: defaultCharset, Fallback: fallback}
}

func (r *RFC2047) Name() string { return "RFC2047" }

// not a line-oriented codec; present to satisfy registry expectations.
func (r *RFC2047) EncodeLine(line []byte) []byte { return line }
func (r *RFC2047) DecodeLine(line []byte) ([]byte, bool) { return line, false }

// DecodeHeader decodes every =?charset?{Q,B}?text?= token in value,
// applying r.Fallback to any token it cannot decode.
func (r *RFC2047) DecodeHeader(value string) string {
	var out strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "=?")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		end := findEncodedWordEnd(rest[start:])
		if end < 0 {
			out.WriteString(rest[start:])
			break
		}
		word := rest[start : start+end]
		decoded, ok := r.decodeWord(word)
		if ok {
			out.WriteString(decoded)
		} else {
			out.WriteString(r.applyFallback(word))
		}
		rest = rest[start+end:]
	}
	return out.String()
}

// findEncodedWordEnd returns the length of the leading "=?c?e?t?=" token in
// s (which must start with "=?"), or -1 if s is not well formed.
func findEncodedWordEnd(s string) int {
	parts := strings.SplitN(s, "?", 4)
	if len(parts) != 4 {
		return -1
	}
	end := strings.Index(parts[3], "?=")
	if end < 0 {
		return -1
	}
	return len("=?") + len(parts[1]) + 1 + len(parts[2]) + 1 + end + len("?=")
}

func (r *RFC2047) decodeWord(word string) (string, bool) {
	parts := strings.SplitN(word, "?", 4)
	if len(parts) != 4 {
		return "", false
	}
	charset := parts[1]
	enc := strings.ToUpper(parts[2])
	text := strings.TrimSuffix(parts[3], "?=")

	var raw []byte
	var err error
	switch enc {
	case "B":
		raw, err = base64.StdEncoding.DecodeString(text)
	case "Q":
		raw, err = decodeQEncoding(text)
	default:
		return "", false
	}
	if err != nil {
		return "", false
	}

	if strings.EqualFold(charset, "us-ascii") || strings.EqualFold(charset, "utf-8") {
		return string(raw), true
	}
	enc2, err := htmlindex.Get(charset)
	if err != nil {
		return "", false
	}
	decoded, err := enc2.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// decodeQEncoding implements the header "Q" variant of quoted-printable:
// '_' means a literal space, otherwise it's identical to RFC 2045 QP.
func decodeQEncoding(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "_", " ")
	r := quotedprintable.NewReader(strings.NewReader(s))
	return io.ReadAll(r)
}

func (r *RFC2047) applyFallback(word string) string {
	switch r.Fallback {
	case FallbackCopyPass:
		return word
	case FallbackCopyOctal:
		var b strings.Builder
		for _, c := range []byte(word) {
			if c < 0x20 || c > 0x7e {
				fmt.Fprintf(&b, "\\%03o", c)
			} else {
				b.WriteByte(c)
			}
		}
		return b.String()
	case FallbackReplace:
		return "�"
	default: // FallbackNone
		return ""
	}
}

// EncodeWord produces a single =?UTF-8?B?...?= encoded word for text,
// used when writing out a non-ASCII header value.
func EncodeWord(text string) string {
	if isASCII(text) {
		return text
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(text)) + "?="
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

