package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

type monitorFixture struct {
	store    *repository.StateStore
	reporter *recordingReporter
	sink     *recordingSink
	monitor  *ViolationMonitor
	forced   []SubmitReason
}

func newMonitorFixture(t *testing.T, limit int) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		store:    newTestStore(),
		reporter: &recordingReporter{},
		sink:     &recordingSink{},
	}
	submit := func(_ context.Context, reason SubmitReason) SubmitResult {
		f.forced = append(f.forced, reason)
		return SubmitResult{Outcome: OutcomeCompleted, Reason: reason}
	}
	f.monitor = NewViolationMonitor(f.store.Exam(testExamID), f.store.Security(), f.reporter, f.sink, submit, MonitorConfig{
		StudentID:     7,
		AttemptID:     "attempt-A",
		MaxViolations: limit,
	}, nil, zerolog.Nop())
	f.monitor.Load(context.Background())
	return f
}

func (f *monitorFixture) violate(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.monitor.Observe(context.Background(), model.SecurityEvent{Kind: model.EventVisibilityHidden}); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
}

func TestMonitorGatedIgnoresViolations(t *testing.T) {
	f := newMonitorFixture(t, 5)
	if f.monitor.State() != MonitorGated {
		t.Fatalf("initial state = %q, want gated", f.monitor.State())
	}

	f.violate(t, 3)
	if got := f.store.Security().Violations(context.Background()); got != 0 {
		t.Errorf("violations counted while gated: %d", got)
	}
	if f.reporter.count() != 0 {
		t.Errorf("reports sent while gated: %d", f.reporter.count())
	}
}

func TestMonitorAcceptStartsMonitoring(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_ = f.store.Security().SetViolations(ctx, 4)

	view, err := f.monitor.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if view.State != string(MonitorActive) || !view.Accepted {
		t.Errorf("view = %+v, want accepted active", view)
	}
	if view.Violations != 0 || view.Remaining != 5 {
		t.Errorf("stale violations kept: %+v", view)
	}
	if len(f.sink.ofType(model.SessionEventFullscreenRequest)) != 1 {
		t.Error("no fullscreen request")
	}
	if !f.store.Security().Accepted(ctx) {
		t.Error("acceptance not persisted")
	}
}

func TestMonitorWarnsBelowLimit(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(ctx)

	f.violate(t, 4)
	view, res := f.monitor.Acknowledge(ctx, true)
	if res != nil {
		t.Fatalf("submitted at 4 violations: %+v", res)
	}
	if view.State != string(MonitorActive) || view.Violations != 4 || view.Remaining != 1 {
		t.Errorf("view = %+v", view)
	}
	if len(f.forced) != 0 {
		t.Errorf("forced submissions: %v", f.forced)
	}
	if f.reporter.count() != 4 {
		t.Errorf("reports = %d, want 4", f.reporter.count())
	}
}

func TestMonitorForcesSubmissionOnAcknowledgeAtLimit(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(ctx)

	f.violate(t, 5)
	// Counting alone never submits.
	if len(f.forced) != 0 {
		t.Fatal("submitted before acknowledgement")
	}
	if f.monitor.State() != MonitorWarning {
		t.Fatalf("state = %q, want warning", f.monitor.State())
	}

	_, res := f.monitor.Acknowledge(ctx, true)
	if res == nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("acknowledge result = %+v, want completed submission", res)
	}
	if len(f.forced) != 1 || f.forced[0] != ReasonViolationForced {
		t.Errorf("forced = %v, want one violation_forced", f.forced)
	}
	if f.monitor.State() != MonitorForcedSubmit {
		t.Errorf("state = %q, want forced_submit", f.monitor.State())
	}
}

func TestMonitorAcknowledgeWithoutFullscreenKeepsWarning(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(ctx)
	f.violate(t, 1)

	view, _ := f.monitor.Acknowledge(ctx, false)
	if view.State != string(MonitorWarning) || !view.ShowWarning {
		t.Errorf("view = %+v, want warning kept", view)
	}

	view, _ = f.monitor.Acknowledge(ctx, true)
	if view.State != string(MonitorActive) || view.ShowWarning {
		t.Errorf("view = %+v, want active", view)
	}
	if f.store.Security().ShowWarning(ctx) {
		t.Error("warning flag still stored")
	}
}

func TestMonitorFocusEvents(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(ctx)

	view, _ := f.monitor.Observe(ctx, model.SecurityEvent{Kind: model.EventWindowBlur})
	if view.Focused || view.Violations != 1 {
		t.Errorf("after blur: %+v", view)
	}

	view, _ = f.monitor.Observe(ctx, model.SecurityEvent{Kind: model.EventFocus})
	if !view.Focused || view.Violations != 1 {
		t.Errorf("after focus: %+v", view)
	}
	if f.reporter.count() != 1 {
		t.Errorf("reports = %d, want 1", f.reporter.count())
	}
}

func TestMonitorUnknownEvent(t *testing.T) {
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(context.Background())

	_, err := f.monitor.Observe(context.Background(), model.SecurityEvent{Kind: "devtools_open"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestMonitorReportCarriesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	_, _ = f.monitor.Accept(ctx)
	f.violate(t, 1)

	r := f.reporter.reports[0]
	if r.ExamID != testExamID || r.AttemptID != "attempt-A" || r.StudentID != 7 || r.Type != model.EventVisibilityHidden {
		t.Errorf("report = %+v", r)
	}
	if r.Timestamp.IsZero() {
		t.Error("report without timestamp")
	}
}

func TestMonitorLoadRestoresWarning(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	sec := f.store.Security()
	_ = sec.SetAccepted(ctx, true)
	_ = sec.SetViolations(ctx, 2)
	_ = sec.SetShowWarning(ctx, true)

	view := f.monitor.Load(ctx)
	if view.State != string(MonitorWarning) || view.Violations != 2 {
		t.Errorf("view = %+v, want warning with 2 violations", view)
	}

	_ = f.store.Exam(testExamID).MarkCompleted(ctx)
	if view := f.monitor.Load(ctx); view.State != string(MonitorCompleted) {
		t.Errorf("state = %q, want completed", view.State)
	}
}

func TestViolationMessage(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{0, ""},
		{1, "(1/5)"},
		{3, "(3/5)"},
		{4, "Peringatan terakhir"},
		{5, "Batas pelanggaran"},
		{7, "Batas pelanggaran"},
	}
	for _, tc := range cases {
		got := ViolationMessage(tc.count, 5)
		if tc.want == "" && got != "" {
			t.Errorf("count %d: got %q, want empty", tc.count, got)
			continue
		}
		if !strings.Contains(got, tc.want) {
			t.Errorf("count %d: got %q, want it to contain %q", tc.count, got, tc.want)
		}
	}
}

func TestMonitorLoadAfterClearIsGated(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, 5)
	sec := f.store.Security()
	_ = sec.SetAccepted(ctx, true)
	_ = sec.SetViolations(ctx, 5)
	_ = sec.SetShowWarning(ctx, true)
	if view := f.monitor.Load(ctx); view.State != string(MonitorWarning) {
		t.Fatalf("state before clear = %q, want warning", view.State)
	}

	if err := sec.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	view := f.monitor.Load(ctx)
	if view.State != string(MonitorGated) || view.Violations != 0 || view.Remaining != 5 {
		t.Errorf("view = %+v, want gated with no violations", view)
	}
	if _, res := f.monitor.Acknowledge(ctx, true); res != nil || len(f.forced) != 0 {
		t.Errorf("acknowledge on a gated monitor forced %v", f.forced)
	}
}

func TestMonitorLogsPersistFailures(t *testing.T) {
	ctx := context.Background()
	session, durable := repository.NewMemoryBackend(), repository.NewMemoryBackend()
	seed := repository.NewStateStore(session, durable, zerolog.Nop())
	_ = seed.Security().SetAccepted(ctx, true)
	_ = seed.Security().SetViolations(ctx, 5)
	_ = seed.Security().SetShowWarning(ctx, true)

	store := repository.NewStateStore(session, failingBackend{durable}, zerolog.Nop())
	var buf bytes.Buffer
	var forced []SubmitReason
	submit := func(_ context.Context, reason SubmitReason) SubmitResult {
		forced = append(forced, reason)
		return SubmitResult{Outcome: OutcomeCompleted, Reason: reason}
	}
	m := NewViolationMonitor(store.Exam(testExamID), store.Security(), nil, nil, submit,
		MonitorConfig{StudentID: 7, AttemptID: "attempt-A", MaxViolations: 5}, nil, zerolog.New(&buf))
	if view := m.Load(ctx); view.State != string(MonitorWarning) {
		t.Fatalf("state = %q, want warning", view.State)
	}

	if _, err := m.Observe(ctx, model.SecurityEvent{Kind: model.EventFocus}); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if _, res := m.Acknowledge(ctx, true); res == nil {
		t.Fatal("limit reached but no submission forced")
	}
	if len(forced) != 1 || forced[0] != ReasonViolationForced {
		t.Errorf("forced = %v", forced)
	}

	logs := buf.String()
	for _, msg := range []string{"Persist browser focus", "Persist warning dismissal"} {
		if !strings.Contains(logs, msg) {
			t.Errorf("log missing %q:\n%s", msg, logs)
		}
	}
}
