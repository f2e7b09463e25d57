package notifications

import (
	"context"
	"log/slog"
)

// LogSink is the default delivery: structured log lines. Deployments with a
// mail or chat hook swap in their own Sink.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Send(ctx context.Context, a Alert) error {
	if a.Severity == SeverityCritical {
		s.log.ErrorContext(ctx, "alert", "title", a.Title, "body", a.Body)
		return nil
	}
	s.log.WarnContext(ctx, "alert", "title", a.Title, "body", a.Body)
	return nil
}
