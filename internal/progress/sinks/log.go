package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. High-volume
// target events are logged at debug level, lifecycle events at info.
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
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("sheet", evt.Sheet),
			zap.String("site", evt.Site),
			zap.String("outcome", evt.Outcome),
			zap.Int("rows", evt.Rows),
			zap.Int("emails", evt.Emails),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		if evt.Stage == progress.StageTargetDone {
			s.logger.Debug("progress event", fields...)
		} else {
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
