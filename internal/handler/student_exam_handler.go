package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smadigital/cbt-backend/internal/middleware"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/response"
	"github.com/smadigital/cbt-backend/internal/service"
	"github.com/smadigital/cbt-backend/internal/validator"
)

// StudentExamHandler handles the student-facing attempt lifecycle.
type StudentExamHandler struct {
	attemptService *service.AttemptService
}

// NewStudentExamHandler creates a new StudentExamHandler.
func NewStudentExamHandler(attemptService *service.AttemptService) *StudentExamHandler {
	return &StudentExamHandler{attemptService: attemptService}
}

// ListExams godoc
// GET /api/v1/student/exams
// Lists visible exams with the student's own attempt state overlaid.
func (h *StudentExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	exams, err := h.attemptService.ListStudentExams(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// Start godoc
// POST /api/v1/student/exams/:examId/start
// Token-gated entry into an attempt. Retrying against an open attempt
// returns the same attempt; the error cases map 1:1 to the error codes so
// the client can show a precise message.
func (h *StudentExamHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenMismatch):
			response.Fail(c, http.StatusForbidden, response.ErrTokenMismatch)
		case errors.Is(err, service.ErrWindowClosed):
			response.Fail(c, http.StatusForbidden, response.ErrWindowClosed)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// SaveAnswer godoc
// PUT /api/v1/student/exams/:examId/answers
// Buffers one answer. Valid only while the attempt is in progress.
func (h *StudentExamHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err = h.attemptService.SaveAnswer(c.Request.Context(), examID, claims.UserID, req.QuestionID, req.Answer)
	if err != nil {
		if errors.Is(err, service.ErrNotInProgress) {
			response.Fail(c, http.StatusConflict, response.ErrNotInProgress)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ReportViolation godoc
// POST /api/v1/student/exams/:examId/violation
// Fire-and-forget proctoring event. Downstream persistence failures never
// reach the student; only a dead attempt produces an error.
func (h *StudentExamHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	count, err := h.attemptService.ReportViolation(c.Request.Context(), examID, claims.UserID, req.Kind)
	if err != nil {
		if errors.Is(err, service.ErrNotInProgress) {
			response.Fail(c, http.StatusConflict, response.ErrNotInProgress)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"violation_count": count})
}

// Submit godoc
// POST /api/v1/student/exams/:examId/submit
// Closes the attempt with the full answer set. The response says whether
// the score is final or the attempt awaits manual correction.
func (h *StudentExamHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), examID, claims.UserID, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotInProgress):
			response.Fail(c, http.StatusConflict, response.ErrNotInProgress)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		case errors.Is(err, service.ErrSubmitInFlight):
			response.Fail(c, http.StatusConflict, response.ErrSubmitInFlight)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetState godoc
// GET /api/v1/student/exams/:examId/state
// Reload support: buffered answers plus remaining seconds.
func (h *StudentExamHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.GetState(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, state)
}
