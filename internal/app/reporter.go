package app

import (
	"context"
	"log/slog"

	"memematch/internal/domain"
)

// Reporter is the error telemetry sink
type Reporter interface {
	Report(ctx context.Context, kind domain.EventKind, err error, attrs ...any)
}

// LogReporter reports to a structured logger
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter writing to logger
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs the event; warnings for integrity issues, errors otherwise
func (r *LogReporter) Report(ctx context.Context, kind domain.EventKind, err error, attrs ...any) {
	args := append([]any{"event", kind.String()}, attrs...)
	if err != nil {
		args = append(args, "error", err)
	}

	level := slog.LevelError
	switch kind {
	case domain.EventHandSizeMismatch, domain.EventTimerStalled, domain.EventCardPoolExhausted:
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "game event", args...)
}
