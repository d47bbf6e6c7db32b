package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("company", evt.Company),
			zap.String("mode", evt.Mode),
		}
		if evt.CompanyID != "" {
			fields = append(fields, zap.String("company_id", evt.CompanyID))
		}
		if evt.Step != "" {
			fields = append(fields, zap.String("step", evt.Step), zap.String("outcome", evt.Outcome))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
