package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/bandforge/ielts-backend/internal/http/handlers"
	"github.com/bandforge/ielts-backend/internal/http/middleware"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                *logger.Logger
	AuthMiddleware     *middleware.AuthMiddleware
	AuthHandler        *handlers.AuthHandler
	EntitlementHandler *handlers.EntitlementHandler
	HandoffHandler     *handlers.HandoffHandler
	AssessmentHandler  *handlers.AssessmentHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ielts-backend"))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(cfg.Log))

	router.GET("/healthz", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/auth/register", cfg.AuthHandler.Register)
		api.POST("/auth/login", cfg.AuthHandler.Login)

		// Redeem is deliberately unauthenticated; the single-use token
		// is the proof of identity.
		api.POST("/handoff/redeem", cfg.HandoffHandler.Redeem)
	}

	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.POST("/auth/logout", cfg.AuthHandler.Logout)

		protected.POST("/entitlement/grant", cfg.EntitlementHandler.Grant)
		protected.GET("/entitlement", cfg.EntitlementHandler.List)

		protected.POST("/handoff/issue", cfg.HandoffHandler.Issue)

		protected.POST("/assessment/start", cfg.AssessmentHandler.Start)
		protected.POST("/assessment/turn", cfg.AssessmentHandler.Turn)
		protected.POST("/assessment/submit", cfg.AssessmentHandler.Submit)
		protected.GET("/assessment/attempts", cfg.AssessmentHandler.List)
		protected.GET("/assessment/result/:attempt_id", cfg.AssessmentHandler.Result)
		protected.GET("/assessment/:attempt_id/resume", cfg.AssessmentHandler.Resume)
		protected.POST("/assessment/:attempt_id/abandon", cfg.AssessmentHandler.Abandon)
	}

	return router
}
