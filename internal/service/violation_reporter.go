package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
)

const reportTimeout = 5 * time.Second

// ViolationSender posts one report to the backend.
type ViolationSender interface {
	ReportViolation(ctx context.Context, r model.ViolationReport) error
}

// ViolationArchiver queues one report for the archive worker.
type ViolationArchiver interface {
	Push(ctx context.Context, r model.ViolationReport) error
}

// AsyncReporter sends every report to the backend in its own goroutine and
// optionally queues it for archiving. Failures are logged and dropped.
type AsyncReporter struct {
	sender  ViolationSender
	archive ViolationArchiver
	log     zerolog.Logger
}

// NewAsyncReporter creates an AsyncReporter. archive may be nil.
func NewAsyncReporter(sender ViolationSender, archive ViolationArchiver, log zerolog.Logger) *AsyncReporter {
	return &AsyncReporter{
		sender:  sender,
		archive: archive,
		log:     log.With().Str("component", "violation_reporter").Logger(),
	}
}

// Report implements ViolationReporter.
func (r *AsyncReporter) Report(ctx context.Context, report model.ViolationReport) {
	base := context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(base, reportTimeout)
		defer cancel()

		if err := r.sender.ReportViolation(ctx, report); err != nil {
			r.log.Warn().Err(err).
				Str("exam_id", report.ExamID).
				Str("kind", string(report.Type)).
				Msg("Violation report not delivered")
		}

		if r.archive == nil {
			return
		}
		if err := r.archive.Push(ctx, report); err != nil {
			r.log.Warn().Err(err).Str("exam_id", report.ExamID).Msg("Violation report not queued for archive")
		}
	}()
}
