package util

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger sets the global slog logger to JSON on stderr at the given
// level (debug, info, warn, error; anything else means info). Logs go to
// stderr so stdout stays free for command output.
func InitLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
