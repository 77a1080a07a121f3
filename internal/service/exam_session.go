package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

var (
	ErrSessionNotFound      = errors.New("no open exam session")
	ErrSessionFinished      = errors.New("exam session has finished")
	ErrQuestionsUnavailable = errors.New("exam questions unavailable")
)

// SessionConfig carries the tunables of an exam session.
type SessionConfig struct {
	DefaultDuration time.Duration
	StrictDuration  bool
	MaxViolations   int
	RedirectDelay   time.Duration
	SubmitRetries   int
	RetryBackoff    time.Duration
}

// SessionDeps are the collaborators shared by every session on the agent.
type SessionDeps struct {
	Backend  Backend
	Reporter ViolationReporter
	Config   SessionConfig
	Clock    func() time.Time
	Log      zerolog.Logger
}

// ExamSession is one student's open exam: attempt, ledger, timer, monitor
// and submission funnel wired together.
type ExamSession struct {
	examID    string
	studentID int
	attemptID string
	decision  AttemptDecision

	exam       *repository.ExamState
	ledger     *Ledger
	countdown  *Countdown
	monitor    *ViolationMonitor
	submission *SubmissionCoordinator
	log        zerolog.Logger

	cancel   context.CancelFunc
	finished atomic.Bool
	closeMu  sync.Once
}

// OpenSession settles the attempt and starts the runtime. A redirect is
// returned as a resolution with a nil session; the navigate event has
// already been published to sink.
func OpenSession(ctx context.Context, deps SessionDeps, store *repository.StateStore, sink EventSink, examID string, studentID int) (*ExamSession, AttemptResolution, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Log.With().Str("exam_id", examID).Int("student_id", studentID).Logger()
	exam := store.Exam(examID)
	security := store.Security()

	// 1. Attempt.
	attempts := NewAttemptService(deps.Backend, deps.Config.RedirectDelay, deps.Log)
	res := attempts.Resolve(ctx, exam, studentID)
	if res.Redirected() {
		if sink != nil {
			sink.Publish(model.SessionEvent{
				Type:    model.SessionEventNavigate,
				ExamID:  examID,
				To:      res.Destination,
				DelayMS: res.Delay.Milliseconds(),
				Reason:  string(res.Reason),
				Message: res.Message,
				At:      clock(),
			})
		}
		return nil, res, nil
	}

	// 2. Questions and duration.
	questions, err := deps.Backend.FetchQuestions(ctx, examID)
	if err != nil {
		log.Error().Err(err).Msg("Fetch questions")
		return nil, res, fmt.Errorf("%w: %w", ErrQuestionsUnavailable, err)
	}
	duration, err := ExamDuration(questions, deps.Config.DefaultDuration, deps.Config.StrictDuration)
	if err != nil {
		log.Error().Err(err).Int("questions", len(questions)).Msg("Refusing to open exam without duration")
		return nil, res, err
	}
	if !hasDuration(questions) {
		log.Warn().Dur("duration", duration).Msg("Questions carry no duration, using default")
	}

	// 3. Components.
	s := &ExamSession{
		examID:    examID,
		studentID: studentID,
		attemptID: res.AttemptID,
		decision:  res.Decision,
		exam:      exam,
		log:       log.With().Str("attempt_id", res.AttemptID).Logger(),
	}

	s.ledger = NewLedger(exam, questions, deps.Log)
	s.ledger.Restore(ctx)

	s.submission = NewSubmissionCoordinator(exam, security, s.ledger, deps.Backend, sink, res.AttemptID, SubmissionConfig{
		Retries:       deps.Config.SubmitRetries,
		RetryBackoff:  deps.Config.RetryBackoff,
		RedirectDelay: deps.Config.RedirectDelay,
	}, clock, deps.Log)

	s.countdown = NewCountdown(exam, sink, func(ctx context.Context) {
		s.submission.Submit(ctx, ReasonTimerExpired, nil)
	}, clock, deps.Log)

	s.monitor = NewViolationMonitor(exam, security, deps.Reporter, sink, func(ctx context.Context, reason SubmitReason) SubmitResult {
		return s.submission.Submit(ctx, reason, nil)
	}, MonitorConfig{
		StudentID:     studentID,
		AttemptID:     res.AttemptID,
		MaxViolations: deps.Config.MaxViolations,
	}, clock, deps.Log)

	s.submission.OnFinish(func(_ context.Context, r SubmitResult) {
		s.finished.Store(true)
		if r.Outcome == OutcomeCompleted {
			s.monitor.MarkCompleted()
		}
		s.stop()
	})

	// 4. Arm and start.
	if _, err := s.countdown.Arm(ctx, duration, res.Decision == AttemptContinued); err != nil {
		s.log.Warn().Err(err).Msg("Persist deadline")
	}
	s.monitor.Load(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	// A deadline already in the past submits right here, before Open returns.
	s.countdown.Tick(runCtx)
	if !s.finished.Load() {
		go s.countdown.Run(runCtx)
	}

	s.log.Info().
		Str("decision", string(res.Decision)).
		Int("questions", len(questions)).
		Int("time_left", s.countdown.TimeLeft()).
		Msg("Exam session opened")
	return s, res, nil
}

func hasDuration(questions []model.Question) bool {
	for _, q := range questions {
		if q.DurationMinutes > 0 {
			return true
		}
	}
	return false
}

func (s *ExamSession) stop() {
	s.closeMu.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Close stops the timer without touching stored state.
func (s *ExamSession) Close() {
	s.stop()
}

// ExamID returns the exam this session belongs to.
func (s *ExamSession) ExamID() string { return s.examID }

// StudentID returns the student taking the exam.
func (s *ExamSession) StudentID() int { return s.studentID }

// AttemptID returns the backend attempt the session submits to.
func (s *ExamSession) AttemptID() string { return s.attemptID }

// Decision reports whether the attempt was resumed or created on open.
func (s *ExamSession) Decision() AttemptDecision { return s.decision }

// Finished reports whether the session has submitted or failed to.
func (s *ExamSession) Finished() bool { return s.finished.Load() }

// Monitor returns the session's violation monitor.
func (s *ExamSession) Monitor() *ViolationMonitor { return s.monitor }

func (s *ExamSession) active() error {
	if s.finished.Load() {
		return ErrSessionFinished
	}
	return nil
}

// Snapshot returns the state the exam view renders from.
func (s *ExamSession) Snapshot(ctx context.Context) model.SessionSnapshot {
	return model.SessionSnapshot{
		ExamID:        s.examID,
		AttemptID:     s.attemptID,
		Questions:     s.ledger.Questions(),
		Answers:       s.ledger.Answers(),
		Flags:         s.ledger.Flags(),
		Languages:     s.ledger.Languages(),
		Statuses:      s.ledger.Statuses(),
		AnsweredCount: s.ledger.AnsweredCount(),
		TimeLeft:      s.countdown.TimeLeft(),
		EndTime:       s.countdown.EndTime(),
		Monitor:       s.monitor.Status(ctx),
		Finished:      s.finished.Load(),
	}
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// RecordAnswer replaces the answer to one question.
func (s *ExamSession) RecordAnswer(ctx context.Context, questionID int, answer model.Answer) error {
	if err := s.active(); err != nil {
		return err
	}
	return s.ledger.RecordAnswer(ctx, questionID, answer)
}

// Answered reports whether a question counts as answered for its type.
func (s *ExamSession) Answered(questionID int) bool {
	return s.ledger.Answered(questionID)
}

// ToggleFlag flips a question's review flag and returns the new value.
func (s *ExamSession) ToggleFlag(ctx context.Context, questionID int) (bool, error) {
	if err := s.active(); err != nil {
		return false, err
	}
	return s.ledger.ToggleFlag(ctx, questionID)
}

// SelectLanguage records the language of a code question.
func (s *ExamSession) SelectLanguage(ctx context.Context, questionID int, language string) error {
	if err := s.active(); err != nil {
		return err
	}
	return s.ledger.SelectLanguage(ctx, questionID, language)
}

// Flush re-mirrors the ledger and the remaining time.
func (s *ExamSession) Flush(ctx context.Context) error {
	if err := s.active(); err != nil {
		return err
	}
	err := s.ledger.Flush(ctx)
	if left := s.countdown.TimeLeft(); left > 0 {
		err = errors.Join(err, s.exam.SaveTimeLeft(ctx, left))
	}
	return err
}

// ─── Submission ─────────────────────────────────────────────────────────────

// Submit is the manual submit button. confirmUnanswered is the student's
// answer to the unanswered-questions prompt.
func (s *ExamSession) Submit(ctx context.Context, confirmUnanswered bool) (SubmitResult, error) {
	if err := s.active(); err != nil {
		return SubmitResult{}, err
	}
	ctx = context.WithoutCancel(ctx)
	return s.submission.Submit(ctx, ReasonManual, func(_, _ int) bool { return confirmUnanswered }), nil
}

// ─── Security ───────────────────────────────────────────────────────────────

// AcceptSecurity passes the security consent gate.
func (s *ExamSession) AcceptSecurity(ctx context.Context) (model.MonitorView, error) {
	if err := s.active(); err != nil {
		return model.MonitorView{}, err
	}
	return s.monitor.Accept(ctx)
}

// ObserveEvent feeds a security event from the UI to the monitor.
func (s *ExamSession) ObserveEvent(ctx context.Context, ev model.SecurityEvent) (model.MonitorView, error) {
	if err := s.active(); err != nil {
		return model.MonitorView{}, err
	}
	return s.monitor.Observe(ctx, ev)
}

// Acknowledge closes the violation warning. The result is non-nil when the
// acknowledgement forced a submission.
func (s *ExamSession) Acknowledge(ctx context.Context, fullscreen bool) (model.MonitorView, *SubmitResult, error) {
	if err := s.active(); err != nil {
		return model.MonitorView{}, nil, err
	}
	view, res := s.monitor.Acknowledge(context.WithoutCancel(ctx), fullscreen)
	return view, res, nil
}
