package model

import "time"

// EventType names a message pushed from the agent to the exam UI.
type EventType string

const (
	SessionEventTick              EventType = "tick"
	SessionEventMonitor           EventType = "monitor"
	SessionEventFullscreenRequest EventType = "fullscreen_request"
	SessionEventNavigate          EventType = "navigate"
	SessionEventSubmitted         EventType = "submitted"
	SessionEventError             EventType = "error"
)

// Destination is where the UI must navigate.
type Destination string

const (
	DestinationDashboard Destination = "/student/dashboard"
	DestinationLogin     Destination = "/login"
)

// SessionEvent is the envelope of every pushed message. Only the fields
// relevant to Type are set.
type SessionEvent struct {
	Type     EventType    `json:"event"`
	ExamID   string       `json:"exam_id"`
	TimeLeft *int         `json:"time_left,omitempty"`
	Monitor  *MonitorView `json:"monitor,omitempty"`
	To       Destination  `json:"to,omitempty"`
	DelayMS  int64        `json:"delay_ms,omitempty"`
	Outcome  string       `json:"outcome,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Message  string       `json:"message,omitempty"`
	At       time.Time    `json:"at"`
}

// MonitorView is the UI-facing state of the violation monitor.
type MonitorView struct {
	State       string `json:"state"`
	Accepted    bool   `json:"accepted"`
	Violations  int    `json:"violations"`
	Remaining   int    `json:"remaining"`
	ShowWarning bool   `json:"show_warning"`
	Focused     bool   `json:"browser_focused"`
	Message     string `json:"message,omitempty"`
}

// SessionSnapshot is everything the exam view needs to render after a
// mount or reload.
type SessionSnapshot struct {
	ExamID        string           `json:"exam_id"`
	AttemptID     string           `json:"attempt_id"`
	Questions     []Question       `json:"questions"`
	Answers       map[int]Answer   `json:"answers"`
	Flags         []int            `json:"flags"`
	Languages     map[int]string   `json:"languages"`
	Statuses      []QuestionStatus `json:"statuses"`
	AnsweredCount int              `json:"answered_count"`
	TimeLeft      int              `json:"time_left"`
	EndTime       int64            `json:"end_time"`
	Monitor       MonitorView      `json:"monitor"`
	Finished      bool             `json:"finished"`
}
