package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/middleware"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/response"
	"github.com/stemsi/exstem-examclient/internal/service"
	"github.com/stemsi/exstem-examclient/internal/validator"
)

// ExamSessionHandler exposes the exam-taking session to the exam UI.
type ExamSessionHandler struct {
	sessions      *service.SessionManager
	redirectDelay time.Duration
	log           zerolog.Logger
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessions *service.SessionManager, redirectDelay time.Duration, log zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessions:      sessions,
		redirectDelay: redirectDelay,
		log:           log.With().Str("component", "exam_session_handler").Logger(),
	}
}

// identity returns the student and exam of the request, or writes the error.
func identity(c *gin.Context) (int, string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, "", false
	}

	// Exam ids are UUIDs on the backend; rejecting anything else keeps
	// arbitrary text out of storage keys.
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, "", false
	}
	return claims.UserID, examID.String(), true
}

func questionID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("question_id"))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

func (h *ExamSessionHandler) openSession(c *gin.Context) (*service.ExamSession, bool) {
	studentID, examID, ok := identity(c)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(studentID, examID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

// fail maps service errors onto response codes. Raw errors never reach the UI.
func (h *ExamSessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotOpen)
	case errors.Is(err, service.ErrSessionFinished):
		response.Fail(c, http.StatusConflict, response.ErrSessionFinished)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrQuestionNotInExam)
	case errors.Is(err, service.ErrLanguageNotCoding):
		response.Fail(c, http.StatusBadRequest, response.ErrLanguageNotAllowed)
	case errors.Is(err, service.ErrUnknownEvent):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownSecurityKind)
	case errors.Is(err, service.ErrQuestionsUnavailable):
		response.Fail(c, http.StatusBadGateway, response.ErrQuestionsUnavail)
	case errors.Is(err, service.ErrDurationUnavailable):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrDurationUnavailable)
	case errors.Is(err, service.ErrPersist):
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Progress not saved")
		response.Fail(c, http.StatusInternalServerError, response.ErrProgressNotSaved)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled session error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Records the dashboard's "Start Exam" action. Only after this may the
// session create a new attempt.
func (h *ExamSessionHandler) StartExam(c *gin.Context) {
	studentID, examID, ok := identity(c)
	if !ok {
		return
	}

	if err := h.sessions.StartExam(c.Request.Context(), studentID, examID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "started": true})
}

// OpenSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Mounts the exam view: resumes or creates the attempt and returns the
// snapshot, or tells the UI to leave.
func (h *ExamSessionHandler) OpenSession(c *gin.Context) {
	studentID, examID, ok := identity(c)
	if !ok {
		return
	}

	s, res, err := h.sessions.Open(c.Request.Context(), studentID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Redirected() {
		response.FailWithMessage(c, http.StatusConflict, response.ErrAttemptRedirect, res.Message, gin.H{
			"redirect": model.Redirect{
				To:      res.Destination,
				DelayMS: res.Delay.Milliseconds(),
				Reason:  string(res.Reason),
			},
		})
		return
	}

	status := http.StatusOK
	if res.Decision == service.AttemptCreated {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{
		"decision": res.Decision,
		"session":  s.Snapshot(c.Request.Context()),
	})
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
func (h *ExamSessionHandler) GetSession(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": s.Snapshot(c.Request.Context())})
}

// AbandonSession godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Back to the dashboard without submitting. Session state is dropped.
func (h *ExamSessionHandler) AbandonSession(c *gin.Context) {
	studentID, examID, ok := identity(c)
	if !ok {
		return
	}

	if err := h.sessions.Abandon(c.Request.Context(), studentID, examID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"redirect": model.Redirect{To: model.DestinationDashboard},
	})
}

// RecordAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers/:question_id
func (h *ExamSessionHandler) RecordAnswer(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer := req.Answer()
	if err := s.RecordAnswer(c.Request.Context(), qid, answer); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"question_id": qid,
		"answered":    s.Answered(qid),
	})
}

// ToggleFlag godoc
// POST /api/v1/student/exams/:exam_id/flags/:question_id
func (h *ExamSessionHandler) ToggleFlag(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}

	flagged, err := s.ToggleFlag(c.Request.Context(), qid)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": qid, "flagged": flagged})
}

// SelectLanguage godoc
// PUT /api/v1/student/exams/:exam_id/languages/:question_id
func (h *ExamSessionHandler) SelectLanguage(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}

	var req model.SelectLanguageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := s.SelectLanguage(c.Request.Context(), qid, req.Language); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": qid, "language": req.Language})
}

// Flush godoc
// POST /api/v1/student/exams/:exam_id/flush
// Sent on page hide and before unload.
func (h *ExamSessionHandler) Flush(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	if err := s.Flush(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"flushed": true})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
func (h *ExamSessionHandler) Submit(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := s.Submit(c.Request.Context(), req.ConfirmUnanswered)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeSubmitResult(c, res)
}

func (h *ExamSessionHandler) writeSubmitResult(c *gin.Context, res service.SubmitResult) {
	switch res.Outcome {
	case service.OutcomeCompleted:
		response.Success(c, http.StatusOK, gin.H{
			"result":   res,
			"redirect": model.Redirect{To: model.DestinationDashboard},
		})
	case service.OutcomeDeclined:
		response.FailWithMessage(c, http.StatusConflict, response.ErrUnansweredConfirm, "", gin.H{"result": res})
	case service.OutcomeInFlight:
		response.Fail(c, http.StatusConflict, response.ErrSubmitInFlight)
	default:
		response.FailWithMessage(c, http.StatusBadGateway, response.ErrSubmitFailed, res.Message, gin.H{
			"result": res,
			"redirect": model.Redirect{
				To:      model.DestinationDashboard,
				DelayMS: h.redirectDelay.Milliseconds(),
				Reason:  string(res.Reason),
			},
		})
	}
}

// AcceptSecurity godoc
// POST /api/v1/student/exams/:exam_id/security/accept
func (h *ExamSessionHandler) AcceptSecurity(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	view, err := s.AcceptSecurity(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"monitor": view})
}

// SecurityEvent godoc
// POST /api/v1/student/exams/:exam_id/security/events
func (h *ExamSessionHandler) SecurityEvent(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}

	var req model.SecurityEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := s.ObserveEvent(c.Request.Context(), req.Event(time.Now()))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"monitor": view})
}

// Acknowledge godoc
// POST /api/v1/student/exams/:exam_id/security/acknowledge
func (h *ExamSessionHandler) Acknowledge(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}

	var req model.AcknowledgeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, res, err := s.Acknowledge(c.Request.Context(), req.Fullscreen)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res != nil {
		h.writeSubmitResult(c, *res)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"monitor": view})
}
