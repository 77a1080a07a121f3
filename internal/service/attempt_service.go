package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

// AttemptDecision is the outcome of settling on an attempt.
type AttemptDecision string

const (
	AttemptContinued AttemptDecision = "continued"
	AttemptCreated   AttemptDecision = "created"
	AttemptRedirect  AttemptDecision = "redirect"
)

// RedirectReason explains why no attempt was settled.
type RedirectReason string

const (
	RedirectMissingIdentity RedirectReason = "missing_identity"
	RedirectCompleted       RedirectReason = "completed"
	RedirectNotStarted      RedirectReason = "not_started"
	RedirectCreateFailed    RedirectReason = "create_failed"
)

// Messages shown to the student on redirect.
const (
	msgMissingIdentity = "Data ujian atau siswa tidak ditemukan."
	msgAttemptDone     = "Ujian ini sudah selesai dikerjakan."
	msgNotStarted      = "Silakan mulai ujian dari dasbor."
	msgCreateFailed    = "Gagal memulai ujian. Silakan coba lagi dari dasbor."
)

// AttemptResolution is exactly one of continue, create or redirect.
type AttemptResolution struct {
	Decision    AttemptDecision
	AttemptID   string
	Reason      RedirectReason
	Message     string
	Destination model.Destination
	Delay       time.Duration
}

// Redirected reports whether the student must leave the exam view.
func (r AttemptResolution) Redirected() bool {
	return r.Decision == AttemptRedirect
}

// AttemptService decides, from stored ids and server status, which attempt
// an exam view runs against.
type AttemptService struct {
	backend       AttemptBackend
	redirectDelay time.Duration
	log           zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(backend AttemptBackend, redirectDelay time.Duration, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		backend:       backend,
		redirectDelay: redirectDelay,
		log:           log.With().Str("component", "attempt_service").Logger(),
	}
}

// Resolve settles on one attempt for the exam or tells the caller to leave.
// Any verification error counts as an invalid attempt; an exam is never
// resumed on ambiguous state.
func (s *AttemptService) Resolve(ctx context.Context, state *repository.ExamState, studentID int) AttemptResolution {
	examID := state.ExamID()
	if examID == "" || studentID <= 0 {
		return AttemptResolution{
			Decision:    AttemptRedirect,
			Reason:      RedirectMissingIdentity,
			Message:     msgMissingIdentity,
			Destination: model.DestinationDashboard,
		}
	}

	log := s.log.With().Str("exam_id", examID).Int("student_id", studentID).Logger()

	// 1. Try the stored attempt.
	if stored, ok := state.AttemptID(ctx); ok {
		res, err := s.backend.VerifyAttempt(ctx, stored)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("attempt_id", stored).Msg("Attempt verification failed, discarding stored attempt")
		case res.Valid && res.Status == model.AttemptStatusInProgress:
			log.Info().Str("attempt_id", stored).Msg("Resuming attempt")
			return AttemptResolution{Decision: AttemptContinued, AttemptID: stored}
		case res.Valid && res.Status == model.AttemptStatusCompleted:
			if err := state.Purge(ctx); err != nil {
				log.Error().Err(err).Msg("Purge completed exam state")
			}
			log.Info().Str("attempt_id", stored).Msg("Stored attempt already completed")
			return AttemptResolution{
				Decision:    AttemptRedirect,
				Reason:      RedirectCompleted,
				Message:     msgAttemptDone,
				Destination: model.DestinationDashboard,
			}
		default:
			log.Info().Str("attempt_id", stored).Bool("valid", res.Valid).Str("status", string(res.Status)).Msg("Stored attempt rejected")
		}

		if err := state.ClearAttemptID(ctx); err != nil {
			log.Error().Err(err).Msg("Clear stored attempt")
		}
	}

	// 2. Only the dashboard's start action may create an attempt.
	if !state.HasExplicitStart(ctx) {
		log.Info().Msg("No start marker, refusing to create attempt")
		return AttemptResolution{
			Decision:    AttemptRedirect,
			Reason:      RedirectNotStarted,
			Message:     msgNotStarted,
			Destination: model.DestinationDashboard,
		}
	}

	// 3. Create.
	res, err := s.backend.CreateAttempt(ctx, examID, studentID)
	if err == nil && (!res.Success || res.AttemptID == "") {
		msg := res.Message
		if msg == "" {
			msg = "backend refused to create attempt"
		}
		err = errors.New(msg)
	}
	if err != nil {
		log.Error().Err(err).Msg("Create attempt failed")
		return AttemptResolution{
			Decision:    AttemptRedirect,
			Reason:      RedirectCreateFailed,
			Message:     msgCreateFailed,
			Destination: model.DestinationDashboard,
			Delay:       s.redirectDelay,
		}
	}

	// Progress and violations left over from an earlier attempt must not
	// leak into this one. The new attempt starts behind the consent gate.
	if err := state.ResetProgress(ctx); err != nil {
		log.Error().Err(err).Msg("Reset stale progress")
	}
	if err := state.Security().Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Clear stale security flags")
	}
	if err := state.SetAttemptID(ctx, res.AttemptID); err != nil {
		log.Error().Err(err).Str("attempt_id", res.AttemptID).Msg("Persist attempt id")
	}
	if err := state.ClearExplicitStart(ctx); err != nil {
		log.Error().Err(err).Msg("Clear start marker")
	}

	log.Info().Str("attempt_id", res.AttemptID).Msg("Attempt created")
	return AttemptResolution{Decision: AttemptCreated, AttemptID: res.AttemptID}
}

// MarkExplicitStart records the dashboard's "Start Exam" action. A completed
// marker from an earlier sitting is lifted so the security gate shows again.
func (s *AttemptService) MarkExplicitStart(ctx context.Context, state *repository.ExamState) error {
	if err := state.MarkExplicitStart(ctx); err != nil {
		return err
	}
	return state.ClearCompleted(ctx)
}

// Abandon drops all session state of an exam and the security flags when
// the student goes back to the dashboard. The completion marker is kept.
func (s *AttemptService) Abandon(ctx context.Context, state *repository.ExamState) error {
	return errors.Join(state.Purge(ctx), state.Security().Clear(ctx))
}
