package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smadigital/cbt-backend/internal/middleware"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/response"
	"github.com/smadigital/cbt-backend/internal/service"
	"github.com/smadigital/cbt-backend/internal/validator"
)

// ExamAdminHandler handles exam schedule management and proctor actions.
type ExamAdminHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
}

// NewExamAdminHandler creates a new ExamAdminHandler.
func NewExamAdminHandler(examService *service.ExamService, attemptService *service.AttemptService) *ExamAdminHandler {
	return &ExamAdminHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

// Create godoc
// POST /api/v1/admin/exams
func (h *ExamAdminHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// List godoc
// GET /api/v1/admin/exams?page=1&per_page=20
func (h *ExamAdminHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	exams, total, err := h.examService.List(c.Request.Context(), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	})
}

// Get godoc
// GET /api/v1/admin/exams/:examId
func (h *ExamAdminHandler) Get(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// Delete godoc
// DELETE /api/v1/admin/exams/:examId
func (h *ExamAdminHandler) Delete(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.examService.Delete(c.Request.Context(), examID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// RefreshToken godoc
// PUT /api/v1/admin/exams/:examId/refresh-token
// Rotates the entry token. In-progress attempts are untouched.
func (h *ExamAdminHandler) RefreshToken(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	token, err := h.examService.RefreshToken(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entry_token": token})
}

// ForceClose godoc
// POST /api/v1/admin/exams/:examId/force-close
// Closes every in-progress attempt of the exam with its buffered answers.
func (h *ExamAdminHandler) ForceClose(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	closed, err := h.attemptService.ForceCloseExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"closed": closed})
}

// ResetAttempt godoc
// DELETE /api/v1/admin/attempts/:attemptId/reset
// Deliberate, explicit reset: deletes the attempt with its answers,
// violations and correction entries.
func (h *ExamAdminHandler) ResetAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attemptId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.ResetAttempt(c.Request.Context(), attemptID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// Results godoc
// GET /api/v1/admin/exams/:examId/results
// Finalized attempts with their scores.
func (h *ExamAdminHandler) Results(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.Results(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": attempts})
}

// Monitoring godoc
// GET /api/v1/admin/exams/:examId/monitoring?page=1&per_page=50
// Per-attempt proctoring table with live violation counters.
func (h *ExamAdminHandler) Monitoring(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	rows, total, err := h.attemptService.Monitoring(c.Request.Context(), examID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": rows}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: int((total + int64(perPage) - 1) / int64(perPage)),
	})
}
