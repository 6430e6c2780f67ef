package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys lists the structured-log attribute keys that must never
// reach a log sink in cleartext.
var redactedKeys = map[string]struct{}{
	"access_token":   {},
	"refresh_token":  {},
	"id_token":       {},
	"client_secret":  {},
	"code_verifier":  {},
	"encryption_key": {},
	"raw_key":        {},
}

const redactedPlaceholder = "[redacted]"

// NewLogger creates a structured logger. format is "json" or "text"; level
// is one of debug, info, warn, error. Sensitive attributes are redacted by
// a ReplaceAttr hook before they reach the handler.
func NewLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactAttr,
	}

	var w io.Writer = os.Stdout
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text", "pretty":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if _, sensitive := redactedKeys[a.Key]; sensitive {
		a.Value = slog.StringValue(redactedPlaceholder)
	}
	return a
}

// Redact returns s replaced with a fixed placeholder if key names a
// sensitive field, and s unchanged otherwise. Callers building ad hoc log
// messages (rather than structured attrs) use this to scrub values before
// interpolating them into free text.
func Redact(key, s string) string {
	if _, sensitive := redactedKeys[key]; sensitive {
		return redactedPlaceholder
	}
	return s
}
