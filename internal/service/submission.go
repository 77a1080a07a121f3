package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

// SubmitReason names what triggered a submission.
type SubmitReason string

const (
	ReasonManual          SubmitReason = "manual"
	ReasonTimerExpired    SubmitReason = "timer_expired"
	ReasonViolationForced SubmitReason = "violation_forced"
)

// Valid reports whether r is a known reason.
func (r SubmitReason) Valid() bool {
	switch r {
	case ReasonManual, ReasonTimerExpired, ReasonViolationForced:
		return true
	default:
		return false
	}
}

// SubmitOutcome is the result of one Submit call.
type SubmitOutcome string

const (
	OutcomeCompleted SubmitOutcome = "completed"
	OutcomeFailed    SubmitOutcome = "failed"
	// OutcomeDeclined means the student did not confirm submitting with
	// unanswered questions. The exam continues.
	OutcomeDeclined SubmitOutcome = "declined"
	// OutcomeInFlight means another trigger already owns the submission.
	OutcomeInFlight SubmitOutcome = "in_flight"
)

// ErrNoAttempt is reported when no attempt id can be resolved at submit time.
var ErrNoAttempt = errors.New("no attempt to submit")

// ErrSubmitRejected wraps a success:false answer from the backend.
var ErrSubmitRejected = errors.New("submission rejected")

// ConfirmFunc asks the student whether to submit with unanswered questions.
type ConfirmFunc func(answered, total int) bool

// SubmitResult describes what Submit did.
type SubmitResult struct {
	Outcome  SubmitOutcome `json:"outcome"`
	Reason   SubmitReason  `json:"reason"`
	Answered int           `json:"answered"`
	Total    int           `json:"total"`
	Message  string        `json:"message,omitempty"`
	Err      error         `json:"-"`
}

// Finished reports whether the exam session is over after this result.
func (r SubmitResult) Finished() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomeFailed
}

const (
	msgSubmitted    = "Ujian berhasil dikumpulkan."
	msgSubmitFailed = "Gagal mengumpulkan ujian. Anda akan diarahkan ke dasbor."
	msgNoAttempt    = "Sesi ujian tidak ditemukan. Anda akan diarahkan ke dasbor."
)

// SubmissionConfig tunes retries and the failure redirect.
type SubmissionConfig struct {
	Retries       int
	RetryBackoff  time.Duration
	RedirectDelay time.Duration
}

// SubmissionCoordinator is the single funnel every termination path goes
// through. At most one submission is in flight per exam session.
type SubmissionCoordinator struct {
	exam      *repository.ExamState
	security  *repository.SecurityState
	ledger    *Ledger
	submitter ExamSubmitter
	sink      EventSink
	cfg       SubmissionConfig
	clock     func() time.Time
	log       zerolog.Logger

	attemptID string
	inFlight  atomic.Bool

	hookMu sync.Mutex
	hooks  []func(ctx context.Context, res SubmitResult)
}

// NewSubmissionCoordinator creates a coordinator for one attempt.
func NewSubmissionCoordinator(
	exam *repository.ExamState,
	security *repository.SecurityState,
	ledger *Ledger,
	submitter ExamSubmitter,
	sink EventSink,
	attemptID string,
	cfg SubmissionConfig,
	clock func() time.Time,
	log zerolog.Logger,
) *SubmissionCoordinator {
	if clock == nil {
		clock = time.Now
	}
	return &SubmissionCoordinator{
		exam:      exam,
		security:  security,
		ledger:    ledger,
		submitter: submitter,
		sink:      sink,
		cfg:       cfg,
		clock:     clock,
		attemptID: attemptID,
		log:       log.With().Str("component", "submission").Str("exam_id", exam.ExamID()).Logger(),
	}
}

// OnFinish registers a hook run after a terminal outcome, before the
// navigate event is published.
func (c *SubmissionCoordinator) OnFinish(fn func(ctx context.Context, res SubmitResult)) {
	c.hookMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hookMu.Unlock()
}

// InFlight reports whether a submission holds the guard.
func (c *SubmissionCoordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Submit ends the exam. Concurrent callers get OutcomeInFlight; only a
// declined confirmation releases the guard.
func (c *SubmissionCoordinator) Submit(ctx context.Context, reason SubmitReason, confirm ConfirmFunc) SubmitResult {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug().Str("reason", string(reason)).Msg("Submission already in flight")
		return SubmitResult{Outcome: OutcomeInFlight, Reason: reason}
	}

	log := c.log.With().Str("reason", string(reason)).Logger()

	attemptID := c.attemptID
	if attemptID == "" {
		attemptID, _ = c.exam.AttemptID(ctx)
	}
	if attemptID == "" {
		log.Error().Msg("No attempt id at submit time")
		res := SubmitResult{Outcome: OutcomeFailed, Reason: reason, Message: msgNoAttempt, Err: ErrNoAttempt}
		c.finish(ctx, res, false)
		return res
	}
	log = log.With().Str("attempt_id", attemptID).Logger()

	req := c.ledger.Submission(attemptID)
	res := SubmitResult{
		Reason:   reason,
		Answered: c.ledger.AnsweredCount(),
		Total:    c.ledger.Total(),
	}

	if reason == ReasonManual && res.Answered < res.Total {
		if confirm == nil || !confirm(res.Answered, res.Total) {
			c.inFlight.Store(false)
			log.Info().Int("answered", res.Answered).Int("total", res.Total).Msg("Submission not confirmed")
			res.Outcome = OutcomeDeclined
			return res
		}
	}

	if err := c.send(ctx, req); err != nil {
		log.Error().Err(err).Int("answers", len(req.Answers)).Msg("Submission failed")
		res.Outcome = OutcomeFailed
		res.Message = msgSubmitFailed
		res.Err = err
		c.finish(ctx, res, false)
		return res
	}

	log.Info().Int("answers", len(req.Answers)).Msg("Exam submitted")
	res.Outcome = OutcomeCompleted
	res.Message = msgSubmitted
	c.finish(ctx, res, true)
	return res
}

// send retries transport errors only; a rejection from the server is final.
func (c *SubmissionCoordinator) send(ctx context.Context, req model.SubmitExamRequest) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.cfg.RetryBackoff
			c.log.Warn().Err(err).Int("retry", attempt).Dur("wait", wait).Msg("Retrying submission")
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(wait):
			}
		}

		var res *model.SubmitExamResponse
		res, err = c.submitter.SubmitExam(ctx, req)
		if err != nil {
			continue
		}
		if !res.Success {
			msg := res.Message
			if msg == "" {
				msg = "backend reported failure"
			}
			return errors.Join(ErrSubmitRejected, errors.New(msg))
		}
		return nil
	}
	return err
}

// finish performs cleanup in the order that keeps a concurrent re-mount
// from recreating the attempt: marker, purge, hooks, then navigation.
func (c *SubmissionCoordinator) finish(ctx context.Context, res SubmitResult, completed bool) {
	if completed {
		if err := c.exam.MarkCompleted(ctx); err != nil {
			c.log.Error().Err(err).Msg("Write completion marker")
		}
	}
	if err := c.exam.Purge(ctx); err != nil {
		c.log.Error().Err(err).Msg("Purge session state")
	}
	if err := c.security.Clear(ctx); err != nil {
		c.log.Error().Err(err).Msg("Clear security state")
	}

	c.hookMu.Lock()
	hooks := append([]func(context.Context, SubmitResult){}, c.hooks...)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn(ctx, res)
	}

	if c.sink == nil {
		return
	}

	now := c.clock()
	examID := c.exam.ExamID()
	if completed {
		c.sink.Publish(model.SessionEvent{
			Type:    model.SessionEventSubmitted,
			ExamID:  examID,
			Outcome: string(res.Outcome),
			Reason:  string(res.Reason),
			Message: res.Message,
			At:      now,
		})
		c.sink.Publish(model.SessionEvent{
			Type:   model.SessionEventNavigate,
			ExamID: examID,
			To:     model.DestinationDashboard,
			At:     now,
		})
		return
	}

	c.sink.Publish(model.SessionEvent{
		Type:    model.SessionEventError,
		ExamID:  examID,
		Outcome: string(res.Outcome),
		Reason:  string(res.Reason),
		Message: res.Message,
		At:      now,
	})
	c.sink.Publish(model.SessionEvent{
		Type:    model.SessionEventNavigate,
		ExamID:  examID,
		To:      model.DestinationDashboard,
		DelayMS: c.cfg.RedirectDelay.Milliseconds(),
		Message: res.Message,
		At:      now,
	})
}
