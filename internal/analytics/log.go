package analytics

import (
	"context"
	"log/slog"

	"github.com/prethora/glowly"
)

// LogSink writes each event as one structured log record.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

var _ glowly.AnalyticsSink = (*LogSink)(nil)

// NewLogSink logs events at level through logger; a nil logger uses
// slog.Default.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

func (s *LogSink) RecordEvent(name string, props map[string]any) {
	attrs := make([]slog.Attr, 0, len(props)+1)
	attrs = append(attrs, slog.String("event", name))
	for k, v := range props {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(context.Background(), s.level, "analytics", attrs...)
}
