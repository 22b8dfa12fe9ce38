package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandforge/ielts-backend/internal/http/response"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/services"
)

type EntitlementHandler struct {
	entitlements services.EntitlementService
}

func NewEntitlementHandler(entitlements services.EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

type grantRequest struct {
	Platform string `json:"platform" binding:"required"`
	Receipt  string `json:"receipt" binding:"required"`
}

// POST /api/entitlement/grant
func (h *EntitlementHandler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ent, err := h.entitlements.Grant(dbctx.Context{Ctx: c.Request.Context()}, req.Platform, req.Receipt)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entitlement": ent})
}

// GET /api/entitlement
func (h *EntitlementHandler) List(c *gin.Context) {
	ents, err := h.entitlements.GetActive(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entitlements": ents})
}
