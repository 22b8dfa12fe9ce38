package app

import (
	"github.com/bandforge/ielts-backend/internal/http/handlers"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	Entitlement *handlers.EntitlementHandler
	Handoff     *handlers.HandoffHandler
	Assessment  *handlers.AssessmentHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:        handlers.NewAuthHandler(services.Auth),
		Entitlement: handlers.NewEntitlementHandler(services.Entitlement),
		Handoff:     handlers.NewHandoffHandler(services.Handoff),
		Assessment:  handlers.NewAssessmentHandler(services.Assessment),
	}
}
