package mbox

import "strings"

// parseFromLine recognizes a mbox "From_" envelope line and locates the
// start of its time token by scanning backward from the trailing
// newline, the way libproto/mbox/mboxrb.c's parse_from_line does,
// re-expressed as readable index arithmetic rather than pointer walking.
// It accepts the documented shapes:
//
//	From user Wed Dec  2 05:53 1992
//	From user Wed Dec  2 05:53:22 1992
//	From user Wed Dec  2 05:53 PST 1992
//	From user Wed Dec  2 05:53:22 PST 1992
//	From user Wed Dec  2 05:53 -0700 1992
//	From user Wed Dec  2 05:53:22 -0700 1992
//	From user Wed Dec  2 05:53 1992 PST
//	From user Wed Dec  2 05:53:22 1992 PST
//	From user Wed Dec  2 05:53 1992 -0700
//	From user Wed Dec  2 05:53:22 1992 -0700
//
// optionally followed by " remote from <host>". line must include its
// trailing '\n'. On success it returns the offset within line of the
// space that precedes the time token and the offset where any trailing
// zone information begins (equal to the newline offset if there is
// none); ok is false if line is not a valid From_ line.
func parseFromLine(line []byte) (timeOff, zoneOff int, ok bool) {
	if len(line) < 5 || string(line[:5]) != "From " {
		return 0, 0, false
	}
	nl := strings.IndexByte(string(line), '\n')
	if nl < 0 {
		return 0, 0, false
	}
	x := nl // x is the (exclusive) end, mirroring the C code's pointer at '\n'

	const remoteSuffix = " remote from "
	if x >= 41 {
		zn := -1
		for x+zn > 0 && line[x+zn] != ' ' {
			zn--
		}
		start := x + zn - len(remoteSuffix) + 1
		if start >= 0 && string(line[start:start+len(remoteSuffix)]) == remoteSuffix {
			x += zn - len(remoteSuffix) + 1
		}
	}

	if x < 27 {
		return 0, 0, false
	}

	at := func(off int) byte {
		i := x + off
		if i < 0 || i >= len(line) {
			return 0
		}
		return line[i]
	}

	var ti, zn int
	switch {
	case at(-5) == ' ':
		switch {
		case at(-8) == ':':
			zn, ti = 0, -5
		case at(-9) == ' ':
			ti, zn = -9, -9
		case at(-11) == ' ' && (at(-10) == '+' || at(-10) == '-'):
			ti, zn = -11, -11
		}
	case at(-4) == ' ':
		if at(-9) == ' ' {
			zn, ti = -4, -9
		}
	case at(-6) == ' ':
		if at(-11) == ' ' && (at(-5) == '+' || at(-5) == '-') {
			zn, ti = -6, -11
		}
	}

	if ti != 0 {
		if at(ti-3) == ':' {
			if at(ti-6) == ':' {
				ti -= 9
			} else {
				ti -= 6
			}
			if !(at(ti) == ' ' && at(ti-3) == ' ' && at(ti-7) == ' ' && at(ti-11) == ' ') {
				ti = 0
			}
		} else {
			ti = 0
		}
	}

	if ti == 0 {
		return 0, 0, false
	}
	return x + ti, x + zn, true
}

// envelopeSender extracts and trims the sender token between "From " and
// the time token located by parseFromLine (design §4.5).
func envelopeSender(line []byte, timeOff int) string {
	senderEnd := timeOff - 10
	for senderEnd > 6 && line[senderEnd-1] == ' ' {
		senderEnd--
	}
	if senderEnd < 5 || senderEnd > len(line) {
		return ""
	}
	return string(line[5:senderEnd])
}
