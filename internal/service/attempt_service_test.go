package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
)

func TestResolveMissingIdentity(t *testing.T) {
	svc := NewAttemptService(newFakeBackend(), time.Second, zerolog.Nop())
	store := newTestStore()

	cases := []struct {
		name      string
		examID    string
		studentID int
	}{
		{"no exam", "", 7},
		{"no student", testExamID, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := svc.Resolve(context.Background(), store.Exam(tc.examID), tc.studentID)
			if !res.Redirected() || res.Reason != RedirectMissingIdentity {
				t.Fatalf("got %+v, want missing_identity redirect", res)
			}
			if res.Destination != model.DestinationDashboard {
				t.Errorf("destination = %q", res.Destination)
			}
		})
	}
}

func TestResolveContinuesInProgressAttempt(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.attempts["attempt-A"] = model.AttemptStatusInProgress
	svc := NewAttemptService(backend, time.Second, zerolog.Nop())

	exam := newTestStore().Exam(testExamID)
	_ = exam.SetAttemptID(ctx, "attempt-A")

	res := svc.Resolve(ctx, exam, 7)
	if res.Decision != AttemptContinued || res.AttemptID != "attempt-A" {
		t.Fatalf("got %+v, want continued attempt-A", res)
	}
	if _, creates, _ := backend.counts(); creates != 0 {
		t.Errorf("CreateAttempt called %d times", creates)
	}
}

func TestResolveCompletedAttemptRedirects(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.attempts["attempt-A"] = model.AttemptStatusCompleted
	svc := NewAttemptService(backend, time.Second, zerolog.Nop())

	exam := newTestStore().Exam(testExamID)
	_ = exam.SetAttemptID(ctx, "attempt-A")
	_ = exam.SaveAnswers(ctx, map[int]model.Answer{1: {SelectedOptions: []int{2}}})
	_ = exam.MarkExplicitStart(ctx)

	res := svc.Resolve(ctx, exam, 7)
	if res.Reason != RedirectCompleted {
		t.Fatalf("reason = %q, want completed", res.Reason)
	}
	if _, ok := exam.AttemptID(ctx); ok {
		t.Error("attempt id survived a completed attempt")
	}
	if len(exam.Answers(ctx)) != 0 {
		t.Error("answers survived a completed attempt")
	}
	if _, creates, _ := backend.counts(); creates != 0 {
		t.Errorf("CreateAttempt called %d times", creates)
	}
}

func TestResolveRejectedAttemptWithoutStartMarker(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	svc := NewAttemptService(backend, time.Second, zerolog.Nop())

	exam := newTestStore().Exam(testExamID)
	_ = exam.SetAttemptID(ctx, "attempt-gone")

	res := svc.Resolve(ctx, exam, 7)
	if res.Reason != RedirectNotStarted {
		t.Fatalf("reason = %q, want not_started", res.Reason)
	}
	if _, ok := exam.AttemptID(ctx); ok {
		t.Error("rejected attempt id was kept")
	}
	if _, creates, _ := backend.counts(); creates != 0 {
		t.Errorf("CreateAttempt called %d times without start marker", creates)
	}
}

func TestResolveVerifyErrorFallsBackToCreate(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.verifyErr = errTransport
	svc := NewAttemptService(backend, time.Second, zerolog.Nop())

	exam := newTestStore().Exam(testExamID)
	_ = exam.SetAttemptID(ctx, "attempt-old")
	_ = exam.SaveAnswers(ctx, map[int]model.Answer{1: {SelectedOptions: []int{1}}})
	_ = exam.SaveEndTime(ctx, 100)
	_ = exam.MarkExplicitStart(ctx)

	res := svc.Resolve(ctx, exam, 7)
	if res.Decision != AttemptCreated {
		t.Fatalf("decision = %q, want created", res.Decision)
	}

	stored, ok := exam.AttemptID(ctx)
	if !ok || stored != res.AttemptID {
		t.Errorf("stored attempt = %q, want %q", stored, res.AttemptID)
	}
	if exam.HasExplicitStart(ctx) {
		t.Error("start marker not cleared after create")
	}
	if len(exam.Answers(ctx)) != 0 {
		t.Error("progress of the old attempt leaked into the new one")
	}
	if _, ok := exam.EndTime(ctx); ok {
		t.Error("deadline of the old attempt leaked into the new one")
	}
}

func TestResolveCreateFailure(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(b *fakeBackend)
	}{
		{"transport error", func(b *fakeBackend) { b.createErr = errTransport }},
		{"success false", func(b *fakeBackend) { b.createReject = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := newFakeBackend()
			tc.prepare(backend)
			svc := NewAttemptService(backend, 3*time.Second, zerolog.Nop())

			exam := newTestStore().Exam(testExamID)
			_ = exam.MarkExplicitStart(ctx)

			res := svc.Resolve(ctx, exam, 7)
			if res.Reason != RedirectCreateFailed {
				t.Fatalf("reason = %q, want create_failed", res.Reason)
			}
			if res.Delay != 3*time.Second {
				t.Errorf("delay = %v, want 3s", res.Delay)
			}
			if _, ok := exam.AttemptID(ctx); ok {
				t.Error("attempt id stored after failed create")
			}
		})
	}
}

func TestMarkExplicitStartLiftsCompletion(t *testing.T) {
	ctx := context.Background()
	svc := NewAttemptService(newFakeBackend(), time.Second, zerolog.Nop())
	exam := newTestStore().Exam(testExamID)
	_ = exam.MarkCompleted(ctx)

	if err := svc.MarkExplicitStart(ctx, exam); err != nil {
		t.Fatalf("MarkExplicitStart: %v", err)
	}
	if !exam.HasExplicitStart(ctx) {
		t.Error("start marker not set")
	}
	if exam.Completed(ctx) {
		t.Error("completion marker not cleared")
	}
}

func TestResolveCreateClearsSecurityFlags(t *testing.T) {
	ctx := context.Background()
	svc := NewAttemptService(newFakeBackend(), time.Second, zerolog.Nop())
	store := newTestStore()
	exam := store.Exam(testExamID)
	sec := store.Security()

	_ = sec.SetAccepted(ctx, true)
	_ = sec.SetViolations(ctx, 5)
	_ = sec.SetShowWarning(ctx, true)
	_ = exam.MarkExplicitStart(ctx)

	res := svc.Resolve(ctx, exam, 7)
	if res.Decision != AttemptCreated {
		t.Fatalf("decision = %q, want created", res.Decision)
	}
	if sec.Accepted(ctx) || sec.Violations(ctx) != 0 || sec.ShowWarning(ctx) {
		t.Errorf("security flags leaked into the new attempt: accepted=%v violations=%d warning=%v",
			sec.Accepted(ctx), sec.Violations(ctx), sec.ShowWarning(ctx))
	}
}

func TestResolveContinueKeepsSecurityFlags(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.attempts["attempt-A"] = model.AttemptStatusInProgress
	svc := NewAttemptService(backend, time.Second, zerolog.Nop())
	store := newTestStore()
	exam := store.Exam(testExamID)
	_ = exam.SetAttemptID(ctx, "attempt-A")
	_ = store.Security().SetAccepted(ctx, true)
	_ = store.Security().SetViolations(ctx, 2)

	if res := svc.Resolve(ctx, exam, 7); res.Decision != AttemptContinued {
		t.Fatalf("decision = %q, want continued", res.Decision)
	}
	if !store.Security().Accepted(ctx) || store.Security().Violations(ctx) != 2 {
		t.Error("reload lost the violation count of a running attempt")
	}
}

func TestAbandonClearsSecurityFlags(t *testing.T) {
	ctx := context.Background()
	svc := NewAttemptService(newFakeBackend(), time.Second, zerolog.Nop())
	store := newTestStore()
	exam := store.Exam(testExamID)
	sec := store.Security()

	_ = exam.SetAttemptID(ctx, "attempt-A")
	_ = exam.MarkCompleted(ctx)
	_ = sec.SetAccepted(ctx, true)
	_ = sec.SetViolations(ctx, 4)
	_ = sec.SetShowWarning(ctx, true)

	if err := svc.Abandon(ctx, exam); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, ok := exam.AttemptID(ctx); ok {
		t.Error("attempt id kept")
	}
	if sec.Accepted(ctx) || sec.Violations(ctx) != 0 || sec.ShowWarning(ctx) {
		t.Error("security flags kept after abandon")
	}
	if !exam.Completed(ctx) {
		t.Error("abandon removed the completion marker")
	}
}
