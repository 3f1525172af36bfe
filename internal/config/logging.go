package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger logs text to stderr and, when l.File is set, JSON to that file as well.
// The returned cleanup closes the file.
func SetupLogger(l Logging, service string) (*slog.Logger, func() error) {
	level := l.SlogLevel()
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	noop := func() error { return nil }

	if l.File == "" {
		return slog.New(stderrHandler).With("service", service), noop
	}

	_ = os.MkdirAll(filepath.Dir(l.File), 0o755)
	file, err := os.OpenFile(l.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler).With("service", service)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", l.File)
		return logger, noop
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler)).With("service", service)
	return logger, file.Close
}

// SetupLoggerWithWriters fans out to two writers, text and JSON. Used by tests.
func SetupLoggerWithWriters(text, jsonOut io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: level}),
	))
}
