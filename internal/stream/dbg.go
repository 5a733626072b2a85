package stream

import (
	"context"
	"log/slog"
)

// Dbg is a write-only sink that forwards the bytes of each Write call to
// a *slog.Logger at debug level — the design's "dbgstream" kind (§4.1).
type Dbg struct {
	logger *slog.Logger
	attrs  []any
}

func NewDbg(logger *slog.Logger, attrs ...any) *Dbg {
	return &Dbg{logger: logger, attrs: attrs}
}

func (d *Dbg) Read(p []byte) (int, error) { return 0, NotOpenError() }
func (d *Dbg) Write(p []byte) (int, error) {
	d.logger.Debug(string(p), d.attrs...)
	return len(p), nil
}
func (d *Dbg) Close() error { return nil }
func (d *Dbg) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSeekable
}
func (d *Dbg) Size() (int64, error)      { return 0, nil }
func (d *Dbg) Truncate(n int64) error    { return nil }
func (d *Dbg) Flush() error              { return nil }
func (d *Dbg) Wait(ctx context.Context) error { return nil }
func (d *Dbg) Err() error                { return nil }
func (d *Dbg) EOF() bool                 { return false }
func (d *Dbg) Flags() Flag               { return FlagWrite }
