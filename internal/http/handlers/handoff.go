package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandforge/ielts-backend/internal/http/response"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/services"
)

type HandoffHandler struct {
	handoff services.HandoffService
}

func NewHandoffHandler(handoff services.HandoffService) *HandoffHandler {
	return &HandoffHandler{handoff: handoff}
}

// POST /api/handoff/issue
func (h *HandoffHandler) Issue(c *gin.Context) {
	token, ttl, err := h.handoff.Issue(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}

type redeemRequest struct {
	Token       string `json:"token" binding:"required"`
	Fingerprint string `json:"fingerprint"`
}

// POST /api/handoff/redeem
func (h *HandoffHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	sessionToken, err := h.handoff.Redeem(c.Request.Context(), req.Token, req.Fingerprint)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"token": sessionToken})
}
