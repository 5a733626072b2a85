package maildir

import (
	"strconv"
	"strings"

	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

// parsed is the decomposition of one maildir filename:
// uniq[,attr=val,...][:2,flags].
type parsed struct {
	uniq  string // the unique prefix, without any comma-attributes
	uid   uint32
	flags attr.Flags
	info  string // raw info-letter suffix, for legacy-fixup detection
}

// parseFilename recovers flags, UID and the unique prefix from name,
// defaulting each to zero/unset on parse failure (design §4.6's scan
// step never rejects a file outright: malformed fields just come back
// zeroed).
func parseFilename(name string) parsed {
	uniqAndAttrs := name
	info := ""
	if i := strings.Index(name, ":2,"); i >= 0 {
		uniqAndAttrs = name[:i]
		info = name[i+3:]
	}

	parts := strings.Split(uniqAndAttrs, ",")
	p := parsed{uniq: parts[0], info: info}
	p.flags = attr.DecodeMaildirInfo(info)

	for _, kv := range parts[1:] {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch name {
		case "u":
			if n, err := strconv.ParseUint(val, 10, 32); err == nil {
				p.uid = uint32(n)
			}
		case "a":
			p.flags |= attr.DecodeMaildirInfo(val)
		}
	}
	return p
}

// formatFilename renders uniq/uid/flags back into a maildir filename:
// uniq,u=<uid>:2,<info>. All six standard flags have info letters, so
// the mailutils-specific "a=" attribute (historically reserved for
// flags with no info-letter equivalent) is never emitted by this
// implementation — every flag this engine tracks already round-trips
// through the info suffix.
func formatFilename(uniq string, uid uint32, flags attr.Flags) string {
	var b strings.Builder
	b.WriteString(uniq)
	b.WriteString(",u=")
	b.WriteString(strconv.FormatUint(uint64(uid), 10))
	b.WriteString(":2,")
	b.WriteString(attr.EncodeMaildirInfo(flags))
	return b.String()
}
