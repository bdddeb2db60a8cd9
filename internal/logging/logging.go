// Package logging configures the process-wide logrus sink. One sink is
// shared across the whole process; each crawl invocation announces the
// active account at the boundary via Fields rather than via a
// per-account logger instance, per the "ambient singletons" redesign
// note (spec.md §9): model an unavoidable singleton as an explicit
// service configured once at startup, not as package-level mutable state
// sprinkled through the call graph.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/manuroe/matrixminer/internal/config"
)

// Configure builds a new logrus logger with the formatter and level from
// the logging section of Config; logrus's global standard logger is left
// untouched. It returns the configured logger so callers can thread it
// explicitly instead of reaching for the global.
func Configure(opts config.LoggingOptions, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	logger := logrus.New()
	logger.SetOutput(out)

	switch opts.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// ForAccount returns a child logger carrying the active account as a
// field, used as the "session separator" at the start of each crawl
// invocation so multi-account runs remain attributable in one log
// stream.
func ForAccount(logger *logrus.Logger, userID string) *logrus.Entry {
	return logger.WithField("account", userID)
}

// ForRoom further scopes a logger entry to a single room, used
// throughout pagination and aggregation.
func ForRoom(entry *logrus.Entry, roomID string) *logrus.Entry {
	return entry.WithField("room_id", roomID)
}
