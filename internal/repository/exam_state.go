package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/model"
)

// ExamState is the per-exam slice of client-side state. Every key it touches
// is namespaced by the exam id.
type ExamState struct {
	store  *StateStore
	examID string
}

// ExamID returns the exam this view is bound to.
func (e *ExamState) ExamID() string {
	return e.examID
}

// AttemptID returns the stored attempt id, if any.
func (e *ExamState) AttemptID(ctx context.Context) (string, bool) {
	var id string
	if !e.store.Get(ctx, ScopeSession, config.StorageKey.AttemptKey(e.examID), &id) || id == "" {
		return "", false
	}
	return id, true
}

func (e *ExamState) SetAttemptID(ctx context.Context, attemptID string) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.AttemptKey(e.examID), attemptID)
}

func (e *ExamState) ClearAttemptID(ctx context.Context) error {
	return e.store.Remove(ctx, ScopeSession, config.StorageKey.AttemptKey(e.examID))
}

// Answers returns the stored ledger, or an empty map.
func (e *ExamState) Answers(ctx context.Context) map[int]model.Answer {
	var answers map[int]model.Answer
	// A stored null decodes to a nil map.
	if !e.store.Get(ctx, ScopeSession, config.StorageKey.AnswersKey(e.examID), &answers) || answers == nil {
		return make(map[int]model.Answer)
	}
	return answers
}

func (e *ExamState) SaveAnswers(ctx context.Context, answers map[int]model.Answer) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.AnswersKey(e.examID), answers)
}

// Flags returns the flagged question ids in ascending order.
func (e *ExamState) Flags(ctx context.Context) []int {
	var flags []int
	if !e.store.Get(ctx, ScopeSession, config.StorageKey.FlagsKey(e.examID), &flags) {
		return nil
	}
	sort.Ints(flags)
	return flags
}

func (e *ExamState) SaveFlags(ctx context.Context, flags []int) error {
	if flags == nil {
		flags = []int{}
	}
	return e.store.Set(ctx, ScopeSession, config.StorageKey.FlagsKey(e.examID), flags)
}

// Languages returns the per-question language choices, or an empty map.
func (e *ExamState) Languages(ctx context.Context) map[int]string {
	var langs map[int]string
	if !e.store.Get(ctx, ScopeSession, config.StorageKey.LanguagesKey(e.examID), &langs) || langs == nil {
		return make(map[int]string)
	}
	return langs
}

func (e *ExamState) SaveLanguages(ctx context.Context, langs map[int]string) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.LanguagesKey(e.examID), langs)
}

// TimeLeft returns the cached remaining seconds. Advisory only.
func (e *ExamState) TimeLeft(ctx context.Context) (int, bool) {
	var left int
	ok := e.store.Get(ctx, ScopeSession, config.StorageKey.TimeLeftKey(e.examID), &left)
	return left, ok
}

func (e *ExamState) SaveTimeLeft(ctx context.Context, left int) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.TimeLeftKey(e.examID), left)
}

// EndTime returns the stored deadline in epoch seconds.
func (e *ExamState) EndTime(ctx context.Context) (int64, bool) {
	var end int64
	if !e.store.Get(ctx, ScopeSession, config.StorageKey.EndTimeKey(e.examID), &end) || end <= 0 {
		return 0, false
	}
	return end, true
}

func (e *ExamState) SaveEndTime(ctx context.Context, end int64) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.EndTimeKey(e.examID), end)
}

// HasExplicitStart reports whether the dashboard's start action ran for this exam.
func (e *ExamState) HasExplicitStart(ctx context.Context) bool {
	var marked bool
	return e.store.Get(ctx, ScopeSession, config.StorageKey.TransitionKey(e.examID), &marked) && marked
}

func (e *ExamState) MarkExplicitStart(ctx context.Context) error {
	return e.store.Set(ctx, ScopeSession, config.StorageKey.TransitionKey(e.examID), true)
}

func (e *ExamState) ClearExplicitStart(ctx context.Context) error {
	return e.store.Remove(ctx, ScopeSession, config.StorageKey.TransitionKey(e.examID))
}

// Completed reports the sticky durable completion marker.
func (e *ExamState) Completed(ctx context.Context) bool {
	var done bool
	return e.store.Get(ctx, ScopeDurable, config.StorageKey.CompletedKey(e.examID), &done) && done
}

func (e *ExamState) MarkCompleted(ctx context.Context) error {
	return e.store.Set(ctx, ScopeDurable, config.StorageKey.CompletedKey(e.examID), true)
}

func (e *ExamState) ClearCompleted(ctx context.Context) error {
	return e.store.Remove(ctx, ScopeDurable, config.StorageKey.CompletedKey(e.examID))
}

// ResetProgress drops the ledger and timer keys of a previous attempt while
// keeping the attempt id and start marker.
func (e *ExamState) ResetProgress(ctx context.Context) error {
	k := config.StorageKey
	return e.store.Remove(ctx, ScopeSession,
		k.AnswersKey(e.examID),
		k.FlagsKey(e.examID),
		k.LanguagesKey(e.examID),
		k.TimeLeftKey(e.examID),
		k.EndTimeKey(e.examID),
	)
}

// Security returns the security flags of the store this exam lives in.
func (e *ExamState) Security() *SecurityState {
	return e.store.Security()
}

// Purge removes every session key of this exam.
func (e *ExamState) Purge(ctx context.Context) error {
	return e.store.Remove(ctx, ScopeSession, config.StorageKey.SessionKeys(e.examID)...)
}

// SecurityState is the global security flag set plus helpers. The flags are
// shared across exams because only one exam runs client-side at a time.
type SecurityState struct {
	store *StateStore
}

func (s *SecurityState) Accepted(ctx context.Context) bool {
	var v bool
	return s.store.Get(ctx, ScopeDurable, config.StorageKey.Accepted, &v) && v
}

func (s *SecurityState) SetAccepted(ctx context.Context, v bool) error {
	return s.store.Set(ctx, ScopeDurable, config.StorageKey.Accepted, v)
}

// Violations returns the durable violation counter.
func (s *SecurityState) Violations(ctx context.Context) int {
	var n int
	if !s.store.Get(ctx, ScopeDurable, config.StorageKey.Violations, &n) || n < 0 {
		return 0
	}
	return n
}

func (s *SecurityState) SetViolations(ctx context.Context, n int) error {
	return s.store.Set(ctx, ScopeDurable, config.StorageKey.Violations, n)
}

func (s *SecurityState) ShowWarning(ctx context.Context) bool {
	var v bool
	return s.store.Get(ctx, ScopeDurable, config.StorageKey.ShowWarning, &v) && v
}

func (s *SecurityState) SetShowWarning(ctx context.Context, v bool) error {
	return s.store.Set(ctx, ScopeDurable, config.StorageKey.ShowWarning, v)
}

// BrowserFocused defaults to true when nothing is stored.
func (s *SecurityState) BrowserFocused(ctx context.Context) bool {
	v := true
	if !s.store.Get(ctx, ScopeDurable, config.StorageKey.BrowserFocused, &v) {
		return true
	}
	return v
}

func (s *SecurityState) SetBrowserFocused(ctx context.Context, v bool) error {
	return s.store.Set(ctx, ScopeDurable, config.StorageKey.BrowserFocused, v)
}

// Clear removes the global security flags. Completion markers are kept.
func (s *SecurityState) Clear(ctx context.Context) error {
	return s.store.Remove(ctx, ScopeDurable, config.StorageKey.SecurityKeys()...)
}

// Reset writes a clean state for a fresh acceptance.
func (s *SecurityState) Reset(ctx context.Context) error {
	return errors.Join(
		s.SetViolations(ctx, 0),
		s.SetShowWarning(ctx, false),
		s.SetBrowserFocused(ctx, true),
	)
}
