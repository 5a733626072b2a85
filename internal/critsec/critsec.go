// Package critsec implements the "uninterruptible section" spec.md §9
// calls for around each engine's rewrite path: SIGTERM, SIGHUP, SIGTSTP,
// SIGINT, and SIGWINCH must be blocked, and any deliverable-cancellation
// point disabled, for the duration of the temp-write/rename pair, with
// both restored on exit. Go has no pthread_cancel-style cancellation
// point and no direct signal-mask syscall wrapper in the standard
// library, so this translates the requirement as golubsmtpd's main.go
// translates shutdown handling: os/signal.Notify over a channel, held
// for the section's duration, plus a process-wide mutex standing in for
// the single signal mask a POSIX process has.
package critsec

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var guarded = []os.Signal{
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGTSTP,
	syscall.SIGINT,
	syscall.SIGWINCH,
}

// mu serializes uninterruptible sections across every mailbox engine in
// the process, the same way a signal mask is a process-wide, not
// per-goroutine, property.
var mu sync.Mutex

// Enter blocks the guarded signal set and acquires the section mutex.
// The caller must defer the returned func to restore signal delivery
// and release the mutex; do not call Enter again before doing so.
func Enter() func() {
	mu.Lock()
	ch := make(chan os.Signal, len(guarded))
	signal.Notify(ch, guarded...)
	return func() {
		signal.Stop(ch)
		close(ch)
		mu.Unlock()
	}
}
