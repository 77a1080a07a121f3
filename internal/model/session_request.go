package model

import "time"

// RecordAnswerRequest is the body of PUT .../answers/:question_id.
type RecordAnswerRequest struct {
	AnswerText      *string `json:"answer_text" binding:"omitempty,max=65536"`
	SelectedOptions []int   `json:"selected_options" binding:"omitempty,max=64,dive,gte=0"`
	Language        *string `json:"language" binding:"omitempty,max=32"`
}

// Answer converts the request into a ledger entry.
func (r RecordAnswerRequest) Answer() Answer {
	return Answer{
		AnswerText:      r.AnswerText,
		SelectedOptions: r.SelectedOptions,
		Language:        r.Language,
	}
}

// SelectLanguageRequest is the body of PUT .../languages/:question_id.
type SelectLanguageRequest struct {
	Language string `json:"language" binding:"required,max=32"`
}

// SubmitRequest is the body of POST .../submit.
type SubmitRequest struct {
	ConfirmUnanswered bool `json:"confirm_unanswered"`
}

// SecurityEventRequest is the body of POST .../security/events.
type SecurityEventRequest struct {
	Kind      SecurityEventKind `json:"kind" binding:"required,security_kind"`
	Timestamp *time.Time        `json:"timestamp"`
}

// Event converts the request, stamping it with now when the UI sent no time.
func (r SecurityEventRequest) Event(now time.Time) SecurityEvent {
	ev := SecurityEvent{Kind: r.Kind, Timestamp: now}
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ev.Timestamp = *r.Timestamp
	}
	return ev
}

// AcknowledgeRequest is the body of POST .../security/acknowledge.
type AcknowledgeRequest struct {
	Fullscreen bool `json:"fullscreen"`
}

// Redirect tells the UI where to go and when.
type Redirect struct {
	To      Destination `json:"to"`
	DelayMS int64       `json:"delay_ms"`
	Reason  string      `json:"reason,omitempty"`
}
