package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

// SinkFactory returns the event sink of one student's exam view.
type SinkFactory func(examID string, studentID int) EventSink

// SessionManager keeps at most one open exam per student.
type SessionManager struct {
	stores   *repository.StateStores
	deps     SessionDeps
	sinks    SinkFactory
	attempts *AttemptService
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[int]*ExamSession
	opening  map[int]*sync.Mutex
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(stores *repository.StateStores, deps SessionDeps, sinks SinkFactory) *SessionManager {
	return &SessionManager{
		stores:   stores,
		deps:     deps,
		sinks:    sinks,
		attempts: NewAttemptService(deps.Backend, deps.Config.RedirectDelay, deps.Log),
		log:      deps.Log.With().Str("component", "session_manager").Logger(),
		sessions: make(map[int]*ExamSession),
		opening:  make(map[int]*sync.Mutex),
	}
}

// studentLock serializes Open per student without blocking other students
// on backend calls.
func (m *SessionManager) studentLock(studentID int) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.opening[studentID]
	if !ok {
		l = &sync.Mutex{}
		m.opening[studentID] = l
	}
	return l
}

func (m *SessionManager) sink(examID string, studentID int) EventSink {
	if m.sinks == nil {
		return nil
	}
	return m.sinks(examID, studentID)
}

// StartExam records the dashboard's start action for an exam.
func (m *SessionManager) StartExam(ctx context.Context, studentID int, examID string) error {
	store := m.stores.ForStudent(studentID)
	return m.attempts.MarkExplicitStart(ctx, store.Exam(examID))
}

// Open mounts the exam view. A live session of the same exam is reused;
// a session of another exam is closed first.
func (m *SessionManager) Open(ctx context.Context, studentID int, examID string) (*ExamSession, AttemptResolution, error) {
	lock := m.studentLock(studentID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	cur, ok := m.sessions[studentID]
	if ok && cur.ExamID() == examID && !cur.Finished() {
		m.mu.Unlock()
		return cur, AttemptResolution{Decision: AttemptContinued, AttemptID: cur.AttemptID()}, nil
	}
	if ok {
		cur.Close()
		delete(m.sessions, studentID)
		m.log.Info().Int("student_id", studentID).Str("exam_id", cur.ExamID()).Msg("Closed previous session")
	}
	m.mu.Unlock()

	store := m.stores.ForStudent(studentID)
	s, res, err := OpenSession(ctx, m.deps, store, m.sink(examID, studentID), examID, studentID)
	if err != nil || s == nil {
		return nil, res, err
	}

	m.mu.Lock()
	m.sessions[studentID] = s
	m.mu.Unlock()
	return s, res, nil
}

// Get returns the student's open session of examID.
func (m *SessionManager) Get(studentID int, examID string) (*ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[studentID]
	if !ok || s.ExamID() != examID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Abandon leaves the exam for the dashboard and drops its session state.
func (m *SessionManager) Abandon(ctx context.Context, studentID int, examID string) error {
	m.mu.Lock()
	if s, ok := m.sessions[studentID]; ok && s.ExamID() == examID {
		s.Close()
		delete(m.sessions, studentID)
	}
	m.mu.Unlock()

	store := m.stores.ForStudent(studentID)
	if err := m.attempts.Abandon(ctx, store.Exam(examID)); err != nil {
		return err
	}
	m.log.Info().Int("student_id", studentID).Str("exam_id", examID).Msg("Exam abandoned")
	return nil
}

// Shutdown stops every session's timer. Stored state is kept so students
// resume after the agent restarts.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
