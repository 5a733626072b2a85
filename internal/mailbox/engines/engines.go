// Package engines wires the three concrete storage engines (mbox,
// maildir, dotmail) into a mailbox.Registrar. It is the one place in
// the tree that imports all three engine packages together, so that
// individual engine packages stay ignorant of each other (design §9).
package engines

import (
	"log/slog"

	"github.com/mailutils-go/mailutils/internal/config"
	"github.com/mailutils-go/mailutils/internal/locker"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/dotmail"
	"github.com/mailutils-go/mailutils/internal/mailbox/maildir"
	"github.com/mailutils-go/mailutils/internal/mailbox/mbox"
)

// NewRegistrar builds a Registrar with mbox, maildir and dotmail
// registered under their scheme names, plus the autodetect predicates
// used when a bare path carries no explicit scheme (design §4.5).
func NewRegistrar(cfg *config.Config, logger *slog.Logger) *mailbox.Registrar {
	lockerCfg := locker.Config{
		Type:           cfg.Locker.Type,
		ExternalHelper: cfg.Locker.ExternalHelper,
		Retry:          cfg.Locker.RetryCount > 0,
		RetryCount:     cfg.Locker.RetryCount,
		RetrySleep:     cfg.Locker.RetrySleep,
		ExpireTime:     cfg.Locker.ExpireTime,
		CheckPID:       cfg.Locker.CheckPID,
	}

	r := mailbox.NewRegistrar()

	r.Register("mbox", func(path string) (mailbox.Mailbox, error) {
		return mbox.New(path, mbox.Config{
			AutodetectLevel: cfg.Mbox.AutodetectLevel,
			Locker:          lockerCfg,
		}, logger)
	}, func(path string, level int) bool {
		return mbox.DetectLevel(path, level)
	})

	r.Register("maildir", func(path string) (mailbox.Mailbox, error) {
		return maildir.New(path, maildir.Config{Locker: lockerCfg}, logger)
	}, func(path string, level int) bool {
		return maildir.DetectLevel(path, level)
	})

	r.Register("dotmail", func(path string) (mailbox.Mailbox, error) {
		return dotmail.New(path, dotmail.Config{
			AutodetectLevel: cfg.Dotmail.AutodetectLevel,
			Locker:          lockerCfg,
		}, logger)
	}, func(path string, level int) bool {
		return dotmail.DetectLevel(path, level)
	})

	return r
}
