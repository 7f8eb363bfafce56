package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

// LogSink writes one structured line per run plus one per failed item.
type LogSink struct {
	logger *zap.Logger
}

var _ report.Sink = (*LogSink)(nil)

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the summary; partial and failed runs log at warn level.
func (s *LogSink) Consume(_ context.Context, summary report.Summary) error {
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
		zap.Bool("dry_run", summary.DryRun),
		zap.String("prefix", summary.Prefix),
		zap.Int("inventory", summary.Inventory),
		zap.Int("desired", summary.Desired),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("deleted", summary.Deleted),
		zap.Int("retained", summary.Retained),
		zap.Int("failed", summary.FailedCount()),
		zap.Int64("bytes", summary.BytesUploaded),
		zap.Duration("dur", summary.Duration()),
	}
	if summary.Error != "" {
		fields = append(fields, zap.String("error", summary.Error))
	}
	for _, f := range summary.Failures {
		s.logger.Warn("item failed",
			zap.String("run_id", summary.RunID),
			zap.String("op", f.Op),
			zap.String("key", f.Key),
			zap.String("url", f.URL),
			zap.String("error", f.Error),
		)
	}
	switch summary.Status {
	case report.StatusSucceeded:
		s.logger.Info("mirror run finished", fields...)
	default:
		s.logger.Warn("mirror run finished", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
