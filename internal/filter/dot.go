package filter

import "bytes"

// Dot implements the SMTP literal transform: encode prefixes every line
// beginning with "." by an extra ".", decode reverses it and signals done
// on a line containing only "." (design §4.2).
type Dot struct {
	seenTerminator bool
}

func NewDot() *Dot { return &Dot{} }

func (d *Dot) Name() string { return "DOT" }

func (d *Dot) EncodeLine(line []byte) []byte {
	if len(line) > 0 && line[0] == '.' {
		out := make([]byte, 0, len(line)+1)
		out = append(out, '.')
		out = append(out, line...)
		return out
	}
	return line
}

func (d *Dot) DecodeLine(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if bytes.Equal(trimmed, []byte(".")) {
		d.seenTerminator = true
		return nil, true
	}
	if len(line) > 0 && line[0] == '.' {
		return line[1:], false
	}
	return line, false
}

func (d *Dot) Done() bool { return d.seenTerminator }
