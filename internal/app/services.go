package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/services"
)

type Services struct {
	Auth         services.AuthService
	Receipt      services.ReceiptVerifier
	Entitlement  services.EntitlementService
	Handoff      services.HandoffService
	Allocator    services.AllocatorService
	Moderation   services.ModerationService
	Scoring      services.ScoringService
	Conversation services.ConversationService
	Assessment   services.AssessmentService
}

func wireServices(db *gorm.DB, log *logger.Logger, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	auth, err := services.NewAuthService(db, log, repos.User, clients.Sessions)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	receipt, err := services.NewReceiptVerifier(log)
	if err != nil {
		return Services{}, fmt.Errorf("init receipt verifier: %w", err)
	}

	entitlement := services.NewEntitlementService(db, log, receipt, repos.Entitlement, repos.UserEvent)
	handoff := services.NewHandoffService(db, log, clients.Handoff, auth, repos.Entitlement, repos.UserEvent)
	allocator := services.NewAllocatorService(db, log, repos.Entitlement, repos.Question, repos.Attempt)
	moderation := services.NewModerationService(log, clients.OpenAI)
	scoring := services.NewScoringService(db, log, clients.OpenAI, repos.Score, repos.Attempt, repos.UserEvent)
	conversation := services.NewConversationService(db, log, clients.OpenAI, moderation, scoring, repos.Conversation, repos.Attempt, repos.Question, repos.UserEvent)
	assessment := services.NewAssessmentService(db, log, allocator, conversation, scoring, moderation, repos.Attempt)

	return Services{
		Auth:         auth,
		Receipt:      receipt,
		Entitlement:  entitlement,
		Handoff:      handoff,
		Allocator:    allocator,
		Moderation:   moderation,
		Scoring:      scoring,
		Conversation: conversation,
		Assessment:   assessment,
	}, nil
}
