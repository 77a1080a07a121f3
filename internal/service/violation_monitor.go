package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

// MonitorState is a state of the violation monitor.
type MonitorState string

const (
	MonitorGated        MonitorState = "gated"
	MonitorActive       MonitorState = "active"
	MonitorWarning      MonitorState = "warning"
	MonitorForcedSubmit MonitorState = "forced_submit"
	MonitorCompleted    MonitorState = "completed"
)

// DefaultMaxViolations is the count at which acknowledgement forces submission.
const DefaultMaxViolations = 5

// ErrUnknownEvent is returned for an event kind the monitor does not know.
var ErrUnknownEvent = errors.New("unknown security event")

// ViolationMonitor is the security state machine of one exam session.
// Violations are counted on the event; forced submission only ever happens
// on the acknowledgement that follows, so the student sees the warning once
// more before it fires.
type ViolationMonitor struct {
	exam      *repository.ExamState
	security  *repository.SecurityState
	reporter  ViolationReporter
	sink      EventSink
	submit    func(ctx context.Context, reason SubmitReason) SubmitResult
	studentID int
	attemptID string
	max       int
	clock     func() time.Time
	log       zerolog.Logger

	mu    sync.Mutex
	state MonitorState
}

// MonitorConfig identifies the session a monitor governs.
type MonitorConfig struct {
	StudentID     int
	AttemptID     string
	MaxViolations int
}

// NewViolationMonitor creates a monitor in the gated state. Call Load to
// pick up persisted state.
func NewViolationMonitor(
	exam *repository.ExamState,
	security *repository.SecurityState,
	reporter ViolationReporter,
	sink EventSink,
	submit func(ctx context.Context, reason SubmitReason) SubmitResult,
	cfg MonitorConfig,
	clock func() time.Time,
	log zerolog.Logger,
) *ViolationMonitor {
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = DefaultMaxViolations
	}
	if clock == nil {
		clock = time.Now
	}
	return &ViolationMonitor{
		exam:      exam,
		security:  security,
		reporter:  reporter,
		sink:      sink,
		submit:    submit,
		studentID: cfg.StudentID,
		attemptID: cfg.AttemptID,
		max:       cfg.MaxViolations,
		clock:     clock,
		log:       log.With().Str("component", "violation_monitor").Str("exam_id", exam.ExamID()).Logger(),
		state:     MonitorGated,
	}
}

// Load derives the state from durable storage.
func (m *ViolationMonitor) Load(ctx context.Context) model.MonitorView {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.exam.Completed(ctx):
		m.state = MonitorCompleted
	case !m.security.Accepted(ctx):
		m.state = MonitorGated
	case m.security.ShowWarning(ctx):
		m.state = MonitorWarning
	default:
		m.state = MonitorActive
	}

	m.log.Debug().Str("state", string(m.state)).Msg("Monitor loaded")
	return m.view(ctx)
}

// State returns the current state.
func (m *ViolationMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the UI view of the monitor.
func (m *ViolationMonitor) Status(ctx context.Context) model.MonitorView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view(ctx)
}

// Accept passes the consent gate: stale violation state is cleared, the UI is
// asked to enter full screen and monitoring starts.
func (m *ViolationMonitor) Accept(ctx context.Context) (model.MonitorView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != MonitorGated {
		return m.view(ctx), nil
	}

	if err := errors.Join(m.security.Reset(ctx), m.security.SetAccepted(ctx, true)); err != nil {
		return m.view(ctx), fmt.Errorf("accept security gate: %w", err)
	}
	m.state = MonitorActive
	m.log.Info().Msg("Security gate accepted")

	m.emit(model.SessionEvent{Type: model.SessionEventFullscreenRequest})
	v := m.view(ctx)
	m.emitView(v)
	return v, nil
}

// Observe feeds one event from the exam UI into the state machine.
func (m *ViolationMonitor) Observe(ctx context.Context, ev model.SecurityEvent) (model.MonitorView, error) {
	if !ev.Kind.Known() {
		return m.Status(ctx), ErrUnknownEvent
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.clock()
	}

	m.mu.Lock()

	switch ev.Kind {
	case model.EventFocus, model.EventWindowBlur:
		if err := m.security.SetBrowserFocused(ctx, ev.Kind == model.EventFocus); err != nil {
			m.log.Error().Err(err).Msg("Persist browser focus")
		}
	}

	if !ev.Kind.IsViolation() || (m.state != MonitorActive && m.state != MonitorWarning) {
		v := m.view(ctx)
		m.mu.Unlock()
		return v, nil
	}

	count := m.security.Violations(ctx) + 1
	err := errors.Join(
		m.security.SetViolations(ctx, count),
		m.security.SetShowWarning(ctx, true),
	)
	m.state = MonitorWarning
	v := m.view(ctx)
	m.mu.Unlock()

	m.log.Warn().Str("kind", string(ev.Kind)).Int("violations", count).Msg("Violation recorded")
	if err != nil {
		m.log.Error().Err(err).Msg("Persist violation")
	}

	if m.reporter != nil {
		m.reporter.Report(ctx, model.ViolationReport{
			ExamID:    m.exam.ExamID(),
			AttemptID: m.attemptID,
			StudentID: m.studentID,
			Type:      ev.Kind,
			Timestamp: ev.Timestamp,
		})
	}
	m.emitView(v)
	return v, nil
}

// Acknowledge closes the warning. At the threshold it forces submission;
// otherwise monitoring resumes once full screen is back.
func (m *ViolationMonitor) Acknowledge(ctx context.Context, fullscreen bool) (model.MonitorView, *SubmitResult) {
	m.mu.Lock()
	if m.state != MonitorWarning {
		v := m.view(ctx)
		m.mu.Unlock()
		return v, nil
	}

	count := m.security.Violations(ctx)
	if count >= m.max {
		m.state = MonitorForcedSubmit
		if err := m.security.SetShowWarning(ctx, false); err != nil {
			m.log.Error().Err(err).Msg("Persist warning dismissal")
		}
		v := m.view(ctx)
		m.mu.Unlock()

		m.log.Warn().Int("violations", count).Msg("Violation limit reached, forcing submission")
		m.emitView(v)
		if m.submit == nil {
			return v, nil
		}
		res := m.submit(ctx, ReasonViolationForced)
		return m.Status(ctx), &res
	}

	if fullscreen {
		if err := m.security.SetShowWarning(ctx, false); err != nil {
			m.log.Error().Err(err).Msg("Persist warning dismissal")
		}
		m.state = MonitorActive
	}
	v := m.view(ctx)
	m.mu.Unlock()

	m.emitView(v)
	return v, nil
}

// MarkCompleted moves the monitor to its terminal state.
func (m *ViolationMonitor) MarkCompleted() {
	m.mu.Lock()
	m.state = MonitorCompleted
	m.mu.Unlock()
}

// view must be called with mu held.
func (m *ViolationMonitor) view(ctx context.Context) model.MonitorView {
	if m.state == MonitorCompleted {
		return model.MonitorView{State: string(m.state), Remaining: m.max, Focused: true}
	}

	count := m.security.Violations(ctx)
	remaining := m.max - count
	if remaining < 0 {
		remaining = 0
	}
	return model.MonitorView{
		State:       string(m.state),
		Accepted:    m.state != MonitorGated,
		Violations:  count,
		Remaining:   remaining,
		ShowWarning: m.state == MonitorWarning,
		Focused:     m.security.BrowserFocused(ctx),
		Message:     ViolationMessage(count, m.max),
	}
}

func (m *ViolationMonitor) emit(ev model.SessionEvent) {
	if m.sink == nil {
		return
	}
	ev.ExamID = m.exam.ExamID()
	ev.At = m.clock()
	m.sink.Publish(ev)
}

func (m *ViolationMonitor) emitView(v model.MonitorView) {
	m.emit(model.SessionEvent{Type: model.SessionEventMonitor, Monitor: &v})
}

// ViolationMessage is the warning text for a violation count.
func ViolationMessage(count, limit int) string {
	switch {
	case count <= 0:
		return ""
	case count >= limit:
		return "Batas pelanggaran tercapai. Ujian akan dikumpulkan secara otomatis."
	case count == limit-1:
		return "Peringatan terakhir: pelanggaran berikutnya akan mengumpulkan ujian secara otomatis."
	default:
		return fmt.Sprintf("Pelanggaran terdeteksi (%d/%d). Tetap berada di mode layar penuh.", count, limit)
	}
}
