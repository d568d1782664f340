// Package logging builds the process logger and hands the same logger to
// the Temporal client.
//
//	logger := logging.New("info", "json", os.Stderr)
//	c, err := client.Dial(client.Options{Logger: logging.Temporal(logger)})
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/masq"
	tlog "go.temporal.io/sdk/log"
)

// New creates a configured *slog.Logger. Unrecognized levels default to
// info; any format other than "text" is JSON.
func New(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: newRedactAttr(),
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// Temporal adapts logger for client.Options.Logger.
func Temporal(logger *slog.Logger) tlog.Logger {
	return tlog.NewStructuredLogger(logger)
}

// newRedactAttr masks continuation tokens and credentials. Temporal task
// tokens let anyone holding them complete an activity.
func newRedactAttr() func([]string, slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("task_token"),
		masq.WithFieldName("TaskToken"),
		masq.WithFieldName("token"),
		masq.WithFieldName("password"),
		masq.WithFieldName("dsn"),
		masq.WithFieldName("encryption_key"),
		masq.WithFieldPrefix("secret_"),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
