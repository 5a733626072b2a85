// Package logging sets up the process-wide slog.Logger used by
// cmd/mailutil and every mailbox engine. Beyond the teacher's
// level/format selection, records passing through it are counted by
// level and component in the same Prometheus registry
// internal/mailbox/observable.go publishes its event counters to, so a
// spike in mbox/dotmail/maildir error logs shows up next to the
// events_total/open gauges rather than only in the log stream.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailutils-go/mailutils/internal/config"
)

var logRecordsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mailutils",
		Subsystem: "logging",
		Name:      "records_total",
		Help:      "Log records emitted, by level and component",
	},
	[]string{"level", "component"},
)

func init() {
	prometheus.MustRegister(logRecordsTotal)
}

// countingHandler wraps a slog.Handler and increments logRecordsTotal
// for every record that passes the level filter, tagged with the
// component this logger was set up for (engine name, or "" for the
// process-wide default).
type countingHandler struct {
	slog.Handler
	component string
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	logRecordsTotal.WithLabelValues(r.Level.String(), h.component).Inc()
	return h.Handler.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{Handler: h.Handler.WithAttrs(attrs), component: h.component}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{Handler: h.Handler.WithGroup(name), component: h.component}
}

// Setup builds a *slog.Logger from logConfig's level/format (design's
// ambient config layer) tagged with component, which becomes both the
// Prometheus label above and a "component" attribute on every record.
func Setup(logConfig *config.LoggingConfig, component string) *slog.Logger {
	var level slog.Level
	switch logConfig.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch logConfig.Format {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, opts)
	default:
		base = slog.NewTextHandler(os.Stdout, opts)
	}

	handler := slog.Handler(&countingHandler{Handler: base, component: component})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	slog.SetDefault(logger)
	return logger
}

var (
	logger *slog.Logger
	once   sync.Once
)

// InitLogging builds and installs the process-wide default logger. It
// only takes effect on the first call; later calls are no-ops, matching
// cmd/mailutil's single-invocation-per-process lifetime.
func InitLogging(logConfig *config.LoggingConfig) {
	once.Do(func() {
		logger = Setup(logConfig, "")
	})
}

func GetLogger() *slog.Logger {
	if logger == nil {
		panic("logger not initialized. Call logging.InitLogging(cfg) first.")
	}
	return logger
}

// InitTestLogging installs a quiet text logger for _test.go files,
// raised to debug by setting DEBUG=1 in the test environment.
func InitTestLogging() {
	level := "error"
	if os.Getenv("DEBUG") == "1" {
		level = "debug"
	}
	logger = Setup(&config.LoggingConfig{Level: level, Format: "text"}, "test")
}
