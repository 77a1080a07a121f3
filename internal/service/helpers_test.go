package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

const testExamID = "6f1c2b7e-3d4a-4b5c-9e8f-0a1b2c3d4e5f"

var errTransport = errors.New("connection refused")

// ─── Clock ──────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── Backend ────────────────────────────────────────────────────────────────

// fakeBackend keeps attempts in memory the way the REST API would.
type fakeBackend struct {
	mu sync.Mutex

	attempts     map[string]model.AttemptStatus
	verifyErr    error
	createErr    error
	createReject bool
	questions    []model.Question
	questionsErr error
	// submitFn overrides the default successful submit when set.
	submitFn func(call int, req model.SubmitExamRequest) (*model.SubmitExamResponse, error)

	verifies  int
	creates   int
	submits   int
	submitted []model.SubmitExamRequest
}

func newFakeBackend(questions ...model.Question) *fakeBackend {
	return &fakeBackend{
		attempts:  make(map[string]model.AttemptStatus),
		questions: questions,
	}
}

func (b *fakeBackend) VerifyAttempt(_ context.Context, attemptID string) (*model.VerifyAttemptResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies++
	if b.verifyErr != nil {
		return nil, b.verifyErr
	}
	status, ok := b.attempts[attemptID]
	if !ok {
		return &model.VerifyAttemptResponse{Valid: false}, nil
	}
	return &model.VerifyAttemptResponse{Valid: true, Status: status}, nil
}

func (b *fakeBackend) CreateAttempt(_ context.Context, examID string, studentID int) (*model.CreateAttemptResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return nil, b.createErr
	}
	if b.createReject {
		return &model.CreateAttemptResponse{Success: false, Message: "exam closed"}, nil
	}
	id := fmt.Sprintf("attempt-%d-%d", studentID, b.creates)
	b.attempts[id] = model.AttemptStatusInProgress
	return &model.CreateAttemptResponse{Success: true, AttemptID: id}, nil
}

func (b *fakeBackend) FetchQuestions(_ context.Context, _ string) ([]model.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.questionsErr != nil {
		return nil, b.questionsErr
	}
	return b.questions, nil
}

func (b *fakeBackend) SubmitExam(_ context.Context, req model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
	b.mu.Lock()
	b.submits++
	call := b.submits
	b.submitted = append(b.submitted, req)
	fn := b.submitFn
	b.mu.Unlock()

	if fn != nil {
		res, err := fn(call, req)
		if err == nil && res.Success {
			b.complete(req.AttemptID)
		}
		return res, err
	}
	b.complete(req.AttemptID)
	return &model.SubmitExamResponse{Success: true}, nil
}

func (b *fakeBackend) complete(attemptID string) {
	b.mu.Lock()
	b.attempts[attemptID] = model.AttemptStatusCompleted
	b.mu.Unlock()
}

func (b *fakeBackend) counts() (verifies, creates, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verifies, b.creates, b.submits
}

func (b *fakeBackend) lastSubmission(t *testing.T) model.SubmitExamRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.submitted) == 0 {
		t.Fatal("nothing was submitted")
	}
	return b.submitted[len(b.submitted)-1]
}

// ─── Sink and reporter ──────────────────────────────────────────────────────

type recordingSink struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (s *recordingSink) Publish(ev model.SessionEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(t model.EventType) []model.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SessionEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []model.ViolationReport
}

func (r *recordingReporter) Report(_ context.Context, report model.ViolationReport) {
	r.mu.Lock()
	r.reports = append(r.reports, report)
	r.mu.Unlock()
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// ─── Storage ────────────────────────────────────────────────────────────────

// failingBackend refuses every write.
type failingBackend struct {
	repository.Backend
}

func (failingBackend) Set(context.Context, string, string) error {
	return errors.New("quota exceeded")
}

func newTestStore() *repository.StateStore {
	return repository.NewStateStore(repository.NewMemoryBackend(), repository.NewMemoryBackend(), zerolog.Nop())
}

func text(s string) *string { return &s }

func sampleQuestions() []model.Question {
	return []model.Question{
		{ID: 1, QuestionText: "2+2?", QuestionType: model.QuestionTypeMCQ, Points: 5, DurationMinutes: 10},
		{ID: 2, QuestionText: "Explain TCP", QuestionType: model.QuestionTypeOpen, Points: 10, DurationMinutes: 20},
		{ID: 3, QuestionText: "Reverse a list", QuestionType: model.QuestionTypeCode, Points: 15, DurationMinutes: 30},
	}
}
