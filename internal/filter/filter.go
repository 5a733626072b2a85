// Package filter implements the line-oriented codecs the mailbox engines
// and the transcript stream need: CRLF transport encoding, SMTP dot
// stuffing, the mbox "From " escape, RFC 2047 encoded words, and the two
// MIME content transfer encodings (design §4.2).
//
// Each codec is keyed by name in a small registry, mirroring the
// original library's filter registration table.
package filter

// Codec transforms one line at a time. Decode signals the logical end of
// the underlying stream (the DOT codec's lone "." terminator line) by
// returning done=true; other codecs never do.
type Codec interface {
	Name() string
	EncodeLine(line []byte) []byte
	DecodeLine(line []byte) (out []byte, done bool)
}

// Factory builds a fresh Codec instance; filters are stateful (DOT tracks
// "has the terminator been seen", RFC2047 carries a charset), so the
// registry hands out constructors rather than shared values.
type Factory func() Codec

var registry = map[string]Factory{
	"CRLF":   func() Codec { return NewCRLF(false) },
	"DOT":    func() Codec { return NewDot() },
	"FROMRB": func() Codec { return NewFromRB() },
	"RFC2047": func() Codec { return NewRFC2047("", FallbackNone) },
}

// Register adds or replaces a named codec factory.
func Register(name string, f Factory) { registry[name] = f }

// New looks up a codec by name, returning nil if unknown.
func New(name string) Codec {
	f, ok := registry[name]
	if !ok {
		return nil
	}
	return f()
}
