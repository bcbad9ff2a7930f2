// Package logging configures structured logging for the service.
//
// Logs are JSON on stdout (journald-friendly), carry source locations
// shortened to the module-relative path, and use a level parsed from
// configuration. The configured logger is installed as the slog
// default and also returned for explicit injection.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Setup creates and installs the service logger. The level accepts
// "debug", "info", "warn", "error" (case-insensitive); unrecognized
// values fall back to info.
func Setup(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					trimSource(source)
				}
			}
			return a
		},
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}

// trimSource shortens file and function references to start at the
// internal/ (or cmd/) segment so log lines stay readable.
func trimSource(source *slog.Source) {
	for _, marker := range []string{"internal/", "cmd/"} {
		if idx := strings.Index(source.File, marker); idx != -1 {
			source.File = source.File[idx:]
			return
		}
	}
	source.File = filepath.Base(source.File)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithComponent returns a logger tagging every record with a
// component attribute, used to attribute logs to a subsystem.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
