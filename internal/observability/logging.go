package observability

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs a process-wide structured logger built on
// log/slog, configured by the same {level, format} pair the config
// package reads from logging.*.
func SetupLogger(level, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
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
