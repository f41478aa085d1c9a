package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog logger.
func SetupLogger(level, format string) {
	slog.SetDefault(NewLogger(os.Stdout, level, format))
}

// NewLogger builds a JSON or text slog logger writing to w.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
