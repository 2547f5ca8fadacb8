package cli

import (
	"io"
	"log/slog"
)

// setupLogging installs the process-wide structured logger: text to w,
// Info level, Debug with --verbose.
func setupLogging(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
