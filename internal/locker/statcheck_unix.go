//go:build unix

package locker

import (
	"os"
	"syscall"
)

// sameFile compares the device/inode/mode triple of a by-name and a by-fd
// stat, the way design §4.4's pre-lock check does, to defend against a
// symlink or hardlink swapped in between the two stats.
func sameFile(byName, byFd os.FileInfo) bool {
	sn, ok1 := byName.Sys().(*syscall.Stat_t)
	sf, ok2 := byFd.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return byName.Size() == byFd.Size()
	}
	return sn.Dev == sf.Dev && sn.Ino == sf.Ino && sn.Mode == sf.Mode
}

func linkCount(fi os.FileInfo) int {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return int(st.Nlink)
	}
	return 1
}

func devIno(fi os.FileInfo) (dev, ino uint64, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}
