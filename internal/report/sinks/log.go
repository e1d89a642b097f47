package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/report"
)

// LogSink writes the run summary as one structured log line.
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

// Consume logs r at info level, or error level for failed runs.
func (s *LogSink) Consume(_ context.Context, r report.Report) error {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("status", string(r.Status)),
		zap.String("username", r.Username),
		zap.String("database_id", r.DatabaseID),
		zap.Int("fetched", r.Fetched),
		zap.Int("total", r.Total),
		zap.Int("added", r.Added),
		zap.Int("updated", r.Updated),
		zap.Int("deleted", r.Deleted),
		zap.Int("marked", r.Marked),
		zap.Int("failed", r.Failed),
		zap.Int("duplicates", r.Duplicates),
		zap.Bool("recreated", r.Recreated),
		zap.Duration("dur", r.Duration()),
	}
	if r.Status == report.StatusFailed {
		s.logger.Error("sync run failed", append(fields, zap.String("error", r.Error))...)
		return nil
	}
	s.logger.Info("sync run finished", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
