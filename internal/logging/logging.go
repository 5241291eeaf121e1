// Package logging builds the process's structured logger the way
// cmd/rule-evaluator does: a go-kit/log JSON or logfmt sink, a level
// filter, and timestamp/caller fields. It additionally wraps every log call
// in a redacting filter that scrubs credentials before they reach the sink,
// since the handshake engine's log lines otherwise carry passwords, session
// keys, and cipher blobs (spec.md §7).
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds the base logger for format ("json" or "text") and level
// ("debug", "info", "warning", "error"), wrapped with redaction.
func New(format, logLevel string) log.Logger {
	var base log.Logger
	if format == "json" {
		base = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		base = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	base = redact(base)
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return levelFiltered(base, logLevel)
}

func levelFiltered(logger log.Logger, logLevel string) log.Logger {
	switch logLevel {
	case "debug":
		return level.NewFilter(logger, level.AllowDebug())
	case "warning":
		return level.NewFilter(logger, level.AllowWarn())
	case "error":
		return level.NewFilter(logger, level.AllowError())
	default:
		return level.NewFilter(logger, level.AllowInfo())
	}
}
