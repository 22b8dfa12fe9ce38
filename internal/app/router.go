package app

import (
	"github.com/gin-gonic/gin"

	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/server"
)

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:                log,
		AuthMiddleware:     middleware.Auth,
		AuthHandler:        handlers.Auth,
		EntitlementHandler: handlers.Entitlement,
		HandoffHandler:     handlers.Handoff,
		AssessmentHandler:  handlers.Assessment,
	})
}
