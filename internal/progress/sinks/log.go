// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/progress"
)

// LogSink surfaces the progress stream as structured logs; it is the
// default way a caller observes per-part and per-image outcomes.
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

// Consume logs one event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.Vehicle != "" {
		fields = append(fields, zap.String("vehicle", evt.Vehicle))
	}
	if evt.Part != "" {
		fields = append(fields, zap.String("part", evt.Part))
	}
	if evt.Outcome != "" {
		fields = append(fields, zap.String("outcome", evt.Outcome))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	s.logger.Info("crawl progress", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
