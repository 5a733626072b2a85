//go:build unix

package locker

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// unixAccessWritable mirrors the access(2) check the pack's wansing-ulist
// repository uses before writing to a spool directory.
func unixAccessWritable(dir string) bool {
	return unix.Access(dir, unix.W_OK) == nil
}

// processAlive reports whether pid refers to a still-running process, by
// sending signal 0 (no-op, delivery-check only).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}
