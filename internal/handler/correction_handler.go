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

// CorrectionHandler handles the manual essay grading workflow.
type CorrectionHandler struct {
	correctionService *service.CorrectionService
}

// NewCorrectionHandler creates a new CorrectionHandler.
func NewCorrectionHandler(correctionService *service.CorrectionService) *CorrectionHandler {
	return &CorrectionHandler{correctionService: correctionService}
}

// ListCandidates godoc
// GET /api/v1/admin/exams/:examId/corrections
// Attempts of the exam that are waiting for manual grading.
func (h *CorrectionHandler) ListCandidates(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.correctionService.ListCandidates(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// Load godoc
// GET /api/v1/admin/attempts/:attemptId/correction
// The grading view: essay answers with question context, the objective
// sub-score, and any previously awarded scores.
func (h *CorrectionHandler) Load(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attemptId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.correctionService.LoadForCorrection(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, service.ErrNotUnderCorrection) {
			response.Fail(c, http.StatusConflict, response.ErrNotUnderCorrection)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// Save godoc
// POST /api/v1/admin/attempts/:attemptId/correction
// Atomic save: the entry set must cover every essay question, the final
// score is computed server-side, and re-saving replaces rather than stacks.
func (h *CorrectionHandler) Save(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attemptId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveCorrectionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.correctionService.SaveCorrection(c.Request.Context(), attemptID, claims.UserID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotUnderCorrection):
			response.Fail(c, http.StatusConflict, response.ErrNotUnderCorrection)
		case errors.Is(err, service.ErrIncompleteCorrection), errors.Is(err, service.ErrUnknownCorrectionItem):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrIncompleteCorrection)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
