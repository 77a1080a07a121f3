package model

import (
	"encoding/json"
)

// QuestionType tags the variant of a question. Every switch over it must
// handle all three variants.
type QuestionType string

const (
	QuestionTypeMCQ  QuestionType = "mcq"
	QuestionTypeOpen QuestionType = "open"
	QuestionTypeCode QuestionType = "code"
)

// Valid reports whether t is one of the known variants.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeOpen, QuestionTypeCode:
		return true
	default:
		return false
	}
}

// Question is a single exam question as served to students.
type Question struct {
	ID              int             `json:"id"`
	QuestionText    string          `json:"question_text"`
	QuestionType    QuestionType    `json:"question_type"`
	Points          int             `json:"points"`
	DurationMinutes int             `json:"duration_minutes"`
	Options         json.RawMessage `json:"options,omitempty"`
	ImageData       *string         `json:"image_data,omitempty"`
}

// QuestionsResponse is the backend payload for an exam's questions.
type QuestionsResponse struct {
	Success   bool       `json:"success"`
	Questions []Question `json:"questions"`
	Message   string     `json:"message,omitempty"`
}
