// Package maildir implements the Qmail-derived tmp/new/cur mailbox
// format (design §4.6): filename-encoded attributes and UIDs,
// rename-based state transitions, and the legacy attribute fixup.
package maildir

import (
	"fmt"
	"os"
	"strings"
)

// uniqueCounter disambiguates names created within the same
// microsecond by the same process, mirroring maildir_uniq_create's
// static counter.
var uniqueCounter int

// newUniqueName builds the unique-prefix part of a maildir filename:
// <sec>.R<hex-random>I<hex-inode>V<hex-dev>M<usec>P<pid>Q<count>.<host>
// (design §4.6, grounded on libproto/maildir/mbox.c:maildir_uniq_create).
func newUniqueName(sec, usec int64, randomHex, inodeHex, devHex string, pid int) string {
	uniqueCounter++
	return fmt.Sprintf("%d.R%sI%sV%sM%dP%dQ%d.%s",
		sec, randomHex, inodeHex, devHex, usec, pid, uniqueCounter, encodeHostname(hostname()))
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// encodeHostname escapes '/', ':', ',' as \NNN octal triplets, the way
// the original string_buffer_escape_char does.
func encodeHostname(h string) string {
	var b strings.Builder
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch c {
		case '/', ':', ',':
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
