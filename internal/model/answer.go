package model

// Answer is the ledger entry for one question. Which field is meaningful
// depends on the question type; both may be empty for an unanswered question.
type Answer struct {
	AnswerText      *string `json:"answer_text"`
	SelectedOptions []int   `json:"selected_options"`
	Language        *string `json:"language"`
}

// Answered reports whether the entry carries a non-empty answer of any kind.
// Use AnsweredAs when the question type is known.
func (a Answer) Answered() bool {
	return a.hasText() || len(a.SelectedOptions) > 0
}

// AnsweredAs reports whether the entry answers a question of type t. Only
// the field the variant submits counts: options for mcq, text otherwise.
func (a Answer) AnsweredAs(t QuestionType) bool {
	switch t {
	case QuestionTypeMCQ:
		return len(a.SelectedOptions) > 0
	case QuestionTypeOpen, QuestionTypeCode:
		return a.hasText()
	default:
		return a.Answered()
	}
}

func (a Answer) hasText() bool {
	return a.AnswerText != nil && *a.AnswerText != ""
}

// SubmissionAnswer is one answered question in the final payload.
type SubmissionAnswer struct {
	AttemptID       string  `json:"attempt_id"`
	QuestionID      int     `json:"question_id"`
	AnswerText      *string `json:"answer_text"`
	SelectedOptions []int   `json:"selected_options"`
	Language        *string `json:"language,omitempty"`
}

// SubmitExamRequest is sent to the backend to complete an attempt.
type SubmitExamRequest struct {
	AttemptID string             `json:"attempt_id"`
	Answers   []SubmissionAnswer `json:"answers"`
}

// SubmitExamResponse is the backend's acknowledgement of a submission.
type SubmitExamResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// QuestionStatus drives the question navigator.
type QuestionStatus struct {
	QuestionID int    `json:"question_id"`
	Answered   bool   `json:"answered"`
	Flagged    bool   `json:"flagged"`
	Language   string `json:"language,omitempty"`
}
