package model

import "time"

// SecurityEventKind is the type of an event emitted by the exam UI's input
// event source.
type SecurityEventKind string

const (
	EventVisibilityHidden SecurityEventKind = "visibility_hidden"
	EventWindowBlur       SecurityEventKind = "window_blur"
	EventFullscreenExit   SecurityEventKind = "fullscreen_exit"
	EventBlockedShortcut  SecurityEventKind = "blocked_shortcut"
	EventContextMenu      SecurityEventKind = "context_menu"
	// EventFocus records the window regaining focus. It is not a violation.
	EventFocus SecurityEventKind = "focus"
)

// IsViolation reports whether the event counts toward forced submission.
func (k SecurityEventKind) IsViolation() bool {
	switch k {
	case EventVisibilityHidden, EventWindowBlur, EventFullscreenExit, EventBlockedShortcut, EventContextMenu:
		return true
	default:
		return false
	}
}

// Known reports whether k is any recognized event kind.
func (k SecurityEventKind) Known() bool {
	return k == EventFocus || k.IsViolation()
}

// SecurityEvent is a typed event from the exam UI.
type SecurityEvent struct {
	Kind      SecurityEventKind `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
}

// ViolationReport is sent, best effort, to the backend for every violation.
type ViolationReport struct {
	ExamID    string            `json:"exam_id"`
	AttemptID string            `json:"attempt_id,omitempty"`
	StudentID int               `json:"student_id"`
	Type      SecurityEventKind `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
}
