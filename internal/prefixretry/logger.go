package prefixretry

import (
	"context"
	"log/slog"
)

// Logger receives the retry log lines. Info is called when a retry is
// attempted, Warn when the retry also found no route.
type Logger interface {
	Info(msg string)
	Warn(msg string)
}

// SlogLogger writes retry log lines to a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a Logger backed by l. A nil l yields a nil Logger so
// that no logging happens at all.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return nil
	}
	return &SlogLogger{logger: l}
}

func (s *SlogLogger) Info(msg string) {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, slog.String("component", "prefix_retry"))
}

func (s *SlogLogger) Warn(msg string) {
	s.logger.LogAttrs(context.Background(), slog.LevelWarn, msg, slog.String("component", "prefix_retry"))
}

func (m *Middleware) info(msg string) {
	if m.logger == nil {
		return
	}
	defer func() { _ = recover() }()
	m.logger.Info(msg)
}

func (m *Middleware) warn(msg string) {
	if m.logger == nil {
		return
	}
	defer func() { _ = recover() }()
	m.logger.Warn(msg)
}
