package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ReportQueue is the Redis list the reporter pushes onto.
type ReportQueue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Requeue(ctx context.Context, reports []model.ViolationReport) error
}

// ReportArchive is the PostgreSQL table reports end up in.
type ReportArchive interface {
	CopyMany(ctx context.Context, batch []model.ViolationReport) error
	Insert(ctx context.Context, r model.ViolationReport) error
}

// ViolationWorker drains queued violation reports into the archive in
// batches, falling back to row-by-row inserts and requeueing what fails.
type ViolationWorker struct {
	queue   ReportQueue
	archive ReportArchive
	log     zerolog.Logger

	errorBackoff   time.Duration
	requeueBackoff time.Duration
}

func NewViolationWorker(queue ReportQueue, archive ReportArchive, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		queue:          queue,
		archive:        archive,
		log:            log.With().Str("component", "violation_worker").Logger(),
		errorBackoff:   3 * time.Second,
		requeueBackoff: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationReport, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age.
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Graceful shutdown.
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch. Blocks up to PollTimeout, returns at once if data exists.
		raw, err := w.queue.Pop(ctx, PollTimeout)
		if err != nil {
			if repository.IsEmpty(err) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Dur("backoff", w.errorBackoff).Msg("Queue read failed")
			sleep(ctx, w.errorBackoff)
			continue
		}

		var report model.ViolationReport
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			// Malformed JSON can never succeed; drop it.
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed violation report")
			continue
		}
		if report.ExamID == "" || !report.Type.IsViolation() {
			w.log.Warn().Str("exam_id", report.ExamID).Str("kind", string(report.Type)).Msg("Discarding incomplete violation report")
			continue
		}

		buffer = append(buffer, report)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationReport) {
	if err := w.archive.CopyMany(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violation batch archived")
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []model.ViolationReport) {
	var failed []model.ViolationReport
	for _, r := range batch {
		if err := w.archive.Insert(ctx, r); err != nil {
			w.log.Error().Err(err).Int("student_id", r.StudentID).Str("exam_id", r.ExamID).Msg("Insert failed, requeueing")
			failed = append(failed, r)
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationReport) {
	if err := w.queue.Requeue(ctx, items); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violation reports. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed reports")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.requeueBackoff)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationReport) {
	w.log.Info().Int("pending", len(buffer)).Msg("ViolationWorker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
