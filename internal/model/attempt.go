package model

// AttemptStatus enumerates the server-reported states of an exam attempt.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// ExamAttempt is one student's timed try at an exam. The server owns it;
// the client only keeps its id.
type ExamAttempt struct {
	ID     string        `json:"attempt_id"`
	Status AttemptStatus `json:"status"`
}

// VerifyAttemptRequest asks the backend whether a stored attempt is still usable.
type VerifyAttemptRequest struct {
	AttemptID string `json:"attempt_id"`
}

// VerifyAttemptResponse is the backend's verdict on a stored attempt.
type VerifyAttemptResponse struct {
	Valid  bool          `json:"valid"`
	Status AttemptStatus `json:"status"`
}

// CreateAttemptRequest starts a new attempt for a student.
type CreateAttemptRequest struct {
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
}

// CreateAttemptResponse carries the id of a freshly created attempt.
type CreateAttemptResponse struct {
	Success   bool   `json:"success"`
	AttemptID string `json:"attempt_id"`
	Message   string `json:"message,omitempty"`
}
