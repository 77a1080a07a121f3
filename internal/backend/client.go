// Package backend is the HTTP client for the ExStem REST API, which owns
// attempts, questions, scoring and the violation log.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stemsi/exstem-examclient/internal/model"
)

// ErrUnexpectedStatus wraps every non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected backend status")

type tokenKey struct{}

// WithToken returns a context whose backend calls carry the student's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token stored by WithToken.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Client talks JSON to the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. A zero timeout falls back to 10 seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// VerifyAttempt asks whether a stored attempt is still valid.
func (c *Client) VerifyAttempt(ctx context.Context, attemptID string) (*model.VerifyAttemptResponse, error) {
	var out model.VerifyAttemptResponse
	if err := c.do(ctx, http.MethodPost, "/attempts/verify", model.VerifyAttemptRequest{AttemptID: attemptID}, &out); err != nil {
		return nil, fmt.Errorf("verify attempt: %w", err)
	}
	return &out, nil
}

// CreateAttempt starts a new attempt.
func (c *Client) CreateAttempt(ctx context.Context, examID string, studentID int) (*model.CreateAttemptResponse, error) {
	var out model.CreateAttemptResponse
	req := model.CreateAttemptRequest{ExamID: examID, StudentID: studentID}
	if err := c.do(ctx, http.MethodPost, "/attempts", req, &out); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return &out, nil
}

// FetchQuestions loads the student-facing questions of an exam.
func (c *Client) FetchQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	var out model.QuestionsResponse
	if err := c.do(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID)+"/questions", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	if !out.Success {
		if out.Message == "" {
			out.Message = "backend reported failure"
		}
		return nil, fmt.Errorf("fetch questions: %s", out.Message)
	}
	return out.Questions, nil
}

// SubmitExam completes an attempt with the given answers.
func (c *Client) SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResponse, error) {
	var out model.SubmitExamResponse
	if err := c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(req.AttemptID)+"/submit", req, &out); err != nil {
		return nil, fmt.Errorf("submit exam: %w", err)
	}
	return &out, nil
}

// ReportViolation records one violation. The response body is ignored.
func (c *Client) ReportViolation(ctx context.Context, r model.ViolationReport) error {
	if err := c.do(ctx, http.MethodPost, "/violations", r, nil); err != nil {
		return fmt.Errorf("report violation: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrUnexpectedStatus, method, res.Status, bytes.TrimSpace(snippet))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
