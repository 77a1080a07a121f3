package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

type submissionFixture struct {
	store   *repository.StateStore
	exam    *repository.ExamState
	ledger  *Ledger
	backend *fakeBackend
	sink    *recordingSink
	coord   *SubmissionCoordinator
}

func newSubmissionFixture(t *testing.T, cfg SubmissionConfig) *submissionFixture {
	t.Helper()
	ctx := context.Background()

	f := &submissionFixture{
		store:   newTestStore(),
		backend: newFakeBackend(sampleQuestions()...),
		sink:    &recordingSink{},
	}
	f.backend.attempts["attempt-A"] = model.AttemptStatusInProgress
	f.exam = f.store.Exam(testExamID)
	_ = f.exam.SetAttemptID(ctx, "attempt-A")
	_ = f.store.Security().SetAccepted(ctx, true)
	_ = f.store.Security().SetViolations(ctx, 2)

	f.ledger = NewLedger(f.exam, sampleQuestions(), zerolog.Nop())
	f.coord = NewSubmissionCoordinator(f.exam, f.store.Security(), f.ledger, f.backend, f.sink, "attempt-A", cfg, nil, zerolog.Nop())
	return f
}

func (f *submissionFixture) answerAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_ = f.ledger.RecordAnswer(ctx, 1, model.Answer{SelectedOptions: []int{1}})
	_ = f.ledger.RecordAnswer(ctx, 2, model.Answer{AnswerText: text("flow control")})
	_ = f.ledger.RecordAnswer(ctx, 3, model.Answer{AnswerText: text("x[::-1]")})
}

func TestSubmitCompleted(t *testing.T) {
	ctx := context.Background()
	f := newSubmissionFixture(t, SubmissionConfig{RedirectDelay: time.Second})
	f.answerAll(t)

	var hooked []SubmitOutcome
	f.coord.OnFinish(func(_ context.Context, r SubmitResult) { hooked = append(hooked, r.Outcome) })

	res := f.coord.Submit(ctx, ReasonManual, nil)
	if res.Outcome != OutcomeCompleted || res.Err != nil {
		t.Fatalf("result = %+v, want completed", res)
	}
	if res.Answered != 3 || res.Total != 3 {
		t.Errorf("answered %d/%d, want 3/3", res.Answered, res.Total)
	}
	if !res.Finished() {
		t.Error("completed result not finished")
	}

	if !f.exam.Completed(ctx) {
		t.Error("completion marker missing")
	}
	if _, ok := f.exam.AttemptID(ctx); ok {
		t.Error("attempt id survived submission")
	}
	if f.store.Security().Accepted(ctx) || f.store.Security().Violations(ctx) != 0 {
		t.Error("security state survived submission")
	}
	if len(hooked) != 1 || hooked[0] != OutcomeCompleted {
		t.Errorf("hooks saw %v", hooked)
	}

	if len(f.sink.ofType(model.SessionEventSubmitted)) != 1 {
		t.Error("no submitted event")
	}
	nav := f.sink.ofType(model.SessionEventNavigate)
	if len(nav) != 1 || nav[0].To != model.DestinationDashboard || nav[0].DelayMS != 0 {
		t.Errorf("navigate events = %+v", nav)
	}

	req := f.backend.lastSubmission(t)
	if req.AttemptID != "attempt-A" || len(req.Answers) != 3 {
		t.Errorf("submitted %+v", req)
	}
}

func TestSubmitAtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := newSubmissionFixture(t, SubmissionConfig{})

	release := make(chan struct{})
	f.backend.submitFn = func(int, model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
		<-release
		return &model.SubmitExamResponse{Success: true}, nil
	}

	first := make(chan SubmitResult, 1)
	go func() { first <- f.coord.Submit(ctx, ReasonTimerExpired, nil) }()

	// Wait until the first submission holds the guard.
	deadline := time.Now().Add(2 * time.Second)
	for !f.coord.InFlight() {
		if time.Now().After(deadline) {
			t.Fatal("first submission never started")
		}
		time.Sleep(time.Millisecond)
	}

	var wg sync.WaitGroup
	results := make([]SubmitResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.Submit(ctx, ReasonViolationForced, nil)
		}(i)
	}
	wg.Wait()
	close(release)

	for i, r := range results {
		if r.Outcome != OutcomeInFlight {
			t.Errorf("concurrent submit %d = %q, want in_flight", i, r.Outcome)
		}
	}
	if r := <-first; r.Outcome != OutcomeCompleted {
		t.Errorf("first submit = %q, want completed", r.Outcome)
	}
	if _, _, submits := f.backend.counts(); submits != 1 {
		t.Errorf("backend saw %d submissions, want 1", submits)
	}

	// The guard is never released after a terminal outcome.
	if r := f.coord.Submit(ctx, ReasonManual, nil); r.Outcome != OutcomeInFlight {
		t.Errorf("submit after completion = %q, want in_flight", r.Outcome)
	}
}

func TestSubmitDeclinedReleasesGuard(t *testing.T) {
	ctx := context.Background()
	f := newSubmissionFixture(t, SubmissionConfig{})
	_ = f.ledger.RecordAnswer(ctx, 1, model.Answer{SelectedOptions: []int{1}})

	var asked [2]int
	res := f.coord.Submit(ctx, ReasonManual, func(answered, total int) bool {
		asked = [2]int{answered, total}
		return false
	})
	if res.Outcome != OutcomeDeclined || res.Finished() {
		t.Fatalf("result = %+v, want declined", res)
	}
	if asked != [2]int{1, 3} {
		t.Errorf("confirm asked with %v, want [1 3]", asked)
	}
	if f.coord.InFlight() {
		t.Error("guard held after decline")
	}
	if _, ok := f.exam.AttemptID(ctx); !ok {
		t.Error("state purged after decline")
	}
	if _, _, submits := f.backend.counts(); submits != 0 {
		t.Errorf("backend saw %d submissions", submits)
	}

	res = f.coord.Submit(ctx, ReasonManual, func(int, int) bool { return true })
	if res.Outcome != OutcomeCompleted {
		t.Errorf("confirmed submit = %q, want completed", res.Outcome)
	}
}

func TestSubmitAutomaticSkipsConfirmation(t *testing.T) {
	for _, reason := range []SubmitReason{ReasonTimerExpired, ReasonViolationForced} {
		t.Run(string(reason), func(t *testing.T) {
			f := newSubmissionFixture(t, SubmissionConfig{})
			res := f.coord.Submit(context.Background(), reason, func(int, int) bool {
				t.Error("automatic submission asked for confirmation")
				return false
			})
			if res.Outcome != OutcomeCompleted {
				t.Errorf("outcome = %q, want completed", res.Outcome)
			}
			if got := f.backend.lastSubmission(t); len(got.Answers) != 0 {
				t.Errorf("answers = %d, want 0", len(got.Answers))
			}
		})
	}
}

func TestSubmitRetriesTransportErrors(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{Retries: 2})
	f.backend.submitFn = func(call int, _ model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
		if call < 3 {
			return nil, errTransport
		}
		return &model.SubmitExamResponse{Success: true}, nil
	}

	res := f.coord.Submit(context.Background(), ReasonTimerExpired, nil)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q (%v), want completed", res.Outcome, res.Err)
	}
	if _, _, submits := f.backend.counts(); submits != 3 {
		t.Errorf("submits = %d, want 3", submits)
	}
}

func TestSubmitFailureAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newSubmissionFixture(t, SubmissionConfig{Retries: 1, RedirectDelay: 3 * time.Second})
	f.backend.submitFn = func(int, model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
		return nil, errTransport
	}

	res := f.coord.Submit(ctx, ReasonManual, func(int, int) bool { return true })
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, errTransport) {
		t.Fatalf("result = %+v, want failed with transport error", res)
	}
	if _, _, submits := f.backend.counts(); submits != 2 {
		t.Errorf("submits = %d, want 2", submits)
	}

	// Failure still ends the session, without a completion marker.
	if f.exam.Completed(ctx) {
		t.Error("completion marker written on failure")
	}
	if _, ok := f.exam.AttemptID(ctx); ok {
		t.Error("state not purged on failure")
	}
	if len(f.sink.ofType(model.SessionEventError)) != 1 {
		t.Error("no error event")
	}
	nav := f.sink.ofType(model.SessionEventNavigate)
	if len(nav) != 1 || nav[0].DelayMS != 3000 {
		t.Errorf("navigate = %+v, want delay 3000ms", nav)
	}
}

func TestSubmitRejectionIsNotRetried(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{Retries: 3})
	f.backend.submitFn = func(int, model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
		return &model.SubmitExamResponse{Success: false, Message: "attempt expired"}, nil
	}

	res := f.coord.Submit(context.Background(), ReasonTimerExpired, nil)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, ErrSubmitRejected) {
		t.Fatalf("result = %+v, want rejected failure", res)
	}
	if _, _, submits := f.backend.counts(); submits != 1 {
		t.Errorf("submits = %d, want 1", submits)
	}
}

func TestSubmitWithoutAttempt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	exam := store.Exam(testExamID)
	backend := newFakeBackend()
	ledger := NewLedger(exam, nil, zerolog.Nop())
	coord := NewSubmissionCoordinator(exam, store.Security(), ledger, backend, nil, "", SubmissionConfig{}, nil, zerolog.Nop())

	res := coord.Submit(ctx, ReasonTimerExpired, nil)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, ErrNoAttempt) {
		t.Fatalf("result = %+v, want ErrNoAttempt", res)
	}
	if _, _, submits := backend.counts(); submits != 0 {
		t.Errorf("backend saw %d submissions", submits)
	}
}

func TestSubmitReasonValid(t *testing.T) {
	if !ReasonManual.Valid() || !ReasonTimerExpired.Valid() || !ReasonViolationForced.Valid() {
		t.Error("known reason reported invalid")
	}
	if SubmitReason("closed_tab").Valid() {
		t.Error("unknown reason reported valid")
	}
}
