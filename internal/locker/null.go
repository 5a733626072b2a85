package locker

// nullBackend never conflicts; it backs paths like /dev/null where a
// single-process client (e.g. a throwaway test mailbox) doesn't need
// cross-process exclusion.
type nullBackend struct{}

func newNullBackend() *nullBackend { return &nullBackend{} }

func (nullBackend) TryLock(Mode) error { return nil }
func (nullBackend) Unlock() error      { return nil }
func (nullBackend) Touch() error       { return nil }
