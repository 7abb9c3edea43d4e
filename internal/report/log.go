package report

import (
	"context"
	"time"

	"github.com/BartekS5/essync/internal/etl"
	"github.com/BartekS5/essync/pkg/logger"
)

// LogSink writes run reports to the application log.
type LogSink struct{}

func (LogSink) Record(_ context.Context, run *etl.RunReport) error {
	if run == nil {
		return nil
	}
	for _, r := range run.Models {
		ev := logger.L().Info()
		if r.Err != nil {
			ev = logger.L().Error().Err(r.Err)
		}
		ev.Str("task", run.TaskID).
			Str("model", r.Model).
			Str("index", r.Index).
			Str("state", r.State.String()).
			Int("pages", r.Pages).
			Int("documents", r.Documents).
			Int("failed_items", r.FailedItems).
			Int("dropped_fields", r.DroppedFields).
			Dur("extract", r.ExtractDuration).
			Dur("load", r.LoadDuration).
			Msg("Model migration report")
	}
	logger.Infof("Task %s: %d model(s), %d failed, %d document(s) in %s",
		run.TaskID, len(run.Models), len(run.Failed()), run.Documents(), run.Finished.Sub(run.Started).Round(time.Millisecond))
	return nil
}

// Multi fans a report out to several sinks and returns the first error.
type Multi []etl.ReportSink

func (m Multi) Record(ctx context.Context, run *etl.RunReport) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, run); err != nil && first == nil {
			first = err
		}
	}
	return first
}
