package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/http/response"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/services"
)

type AssessmentHandler struct {
	assessments services.AssessmentService
}

func NewAssessmentHandler(assessments services.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

type startRequest struct {
	AssessmentType string `json:"assessment_type" binding:"required"`
}

// POST /api/assessment/start
func (h *AssessmentHandler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	t, err := types.ParseAssessmentType(req.AssessmentType)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := h.assessments.Start(dbctx.Context{Ctx: c.Request.Context()}, t)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, result)
}

type turnRequest struct {
	AttemptID string `json:"attempt_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// POST /api/assessment/turn
func (h *AssessmentHandler) Turn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	attemptID, err := uuid.Parse(req.AttemptID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := h.assessments.Turn(dbctx.Context{Ctx: c.Request.Context()}, attemptID, req.Text)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, result)
}

// GET /api/assessment/:attempt_id/resume
func (h *AssessmentHandler) Resume(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := h.assessments.Resume(dbctx.Context{Ctx: c.Request.Context()}, attemptID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, result)
}

type submitRequest struct {
	AttemptID string `json:"attempt_id" binding:"required"`
	Essay     string `json:"essay" binding:"required"`
}

// POST /api/assessment/submit
func (h *AssessmentHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	attemptID, err := uuid.Parse(req.AttemptID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	record, err := h.assessments.Submit(dbctx.Context{Ctx: c.Request.Context()}, attemptID, req.Essay)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"score": record})
}

// POST /api/assessment/:attempt_id/abandon
func (h *AssessmentHandler) Abandon(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if err := h.assessments.Abandon(dbctx.Context{Ctx: c.Request.Context()}, attemptID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "abandoned"})
}

// GET /api/assessment/result/:attempt_id
func (h *AssessmentHandler) Result(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	attempt, record, err := h.assessments.Result(dbctx.Context{Ctx: c.Request.Context()}, attemptID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"attempt": attempt, "score": record})
}

// GET /api/assessment/attempts
func (h *AssessmentHandler) List(c *gin.Context) {
	attempts, err := h.assessments.List(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"attempts": attempts})
}
