package service

import (
	"context"

	"github.com/stemsi/exstem-examclient/internal/model"
)

// AttemptBackend verifies and creates attempts on the server.
type AttemptBackend interface {
	VerifyAttempt(ctx context.Context, attemptID string) (*model.VerifyAttemptResponse, error)
	CreateAttempt(ctx context.Context, examID string, studentID int) (*model.CreateAttemptResponse, error)
}

// QuestionSource loads an exam's questions.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, examID string) ([]model.Question, error)
}

// ExamSubmitter completes an attempt on the server.
type ExamSubmitter interface {
	SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResponse, error)
}

// ViolationReporter records a violation. Implementations must not block the
// caller on the network and must swallow their own errors. ctx carries the
// student's token; its cancellation must not abort the report.
type ViolationReporter interface {
	Report(ctx context.Context, r model.ViolationReport)
}

// EventSink receives the events pushed to the exam UI.
type EventSink interface {
	Publish(ev model.SessionEvent)
}

// Backend is everything the exam session needs from the REST API.
type Backend interface {
	AttemptBackend
	QuestionSource
	ExamSubmitter
}
