// Package logging builds the gateway's structured logger. Output goes to
// stdout, stderr, or a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/middleware"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Output returns the writer selected by cfg.Output. File outputs rotate by
// size and age; closing the returned writer is a no-op for stdout and stderr.
func Output(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   false,
	}, nil
}

// New returns a JSON logger writing to w at the configured level.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: middleware.ParseLogLevel(cfg.Level),
	}))
}

// Open combines Output and New. The returned closer releases the log file.
func Open(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	w, err := Output(cfg)
	if err != nil {
		return nil, nil, err
	}
	return New(w, cfg), w, nil
}
