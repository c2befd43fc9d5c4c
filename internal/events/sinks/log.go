package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/events"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{zap.String("type", string(evt.Type)), zap.Time("ts", evt.TS)}
		if evt.JobID != "" {
			fields = append(fields, zap.String("job_id", evt.JobID), zap.Int("progress", evt.Progress))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.DocumentID != "" {
			fields = append(fields, zap.String("document_id", evt.DocumentID), zap.Int("version", evt.Version))
		}
		if evt.Error != "" {
			fields = append(fields, zap.String("error", evt.Error))
		}
		s.logger.Info("pipeline event", fields...)
	}
	return nil
}

// Close implements events.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
