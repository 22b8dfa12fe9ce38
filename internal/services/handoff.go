package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/bandforge/ielts-backend/internal/clients/redis"
	"github.com/bandforge/ielts-backend/internal/data/repos/billing"
	"github.com/bandforge/ielts-backend/internal/data/repos/user"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

// HandoffService bridges an authenticated mobile session onto the web
// client. Issue runs on mobile; Redeem runs unauthenticated on web with
// only the single-use token as proof.
type HandoffService interface {
	Issue(dbc dbctx.Context) (token string, ttl time.Duration, err error)
	Redeem(ctx context.Context, token, fingerprint string) (sessionToken string, err error)
}

type handoffService struct {
	db        *gorm.DB
	log       *logger.Logger
	tokens    redisclient.HandoffTokenStore
	auth      AuthService
	entRepo   billing.EntitlementRepo
	eventRepo user.UserEventRepo
}

func NewHandoffService(
	db *gorm.DB,
	baseLog *logger.Logger,
	tokens redisclient.HandoffTokenStore,
	auth AuthService,
	entRepo billing.EntitlementRepo,
	eventRepo user.UserEventRepo,
) HandoffService {
	return &handoffService{
		db:        db,
		log:       baseLog.With("service", "HandoffService"),
		tokens:    tokens,
		auth:      auth,
		entRepo:   entRepo,
		eventRepo: eventRepo,
	}
}

func (hs *handoffService) Issue(dbc dbctx.Context) (string, time.Duration, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return "", 0, apperr.ErrUnauthorized
	}

	// The web client only exists to run purchased exams; a user with no
	// active entitlement has nothing to hand off.
	ents, err := hs.entRepo.GetActiveByUser(dbc, rd.UserID)
	if err != nil {
		return "", 0, err
	}
	if len(ents) == 0 {
		return "", 0, fmt.Errorf("%w: no active entitlement", apperr.ErrNotFound)
	}

	return hs.tokens.Issue(dbc.Ctx, rd.UserID)
}

func (hs *handoffService) Redeem(ctx context.Context, token, fingerprint string) (string, error) {
	userID, err := hs.tokens.Redeem(ctx, token)
	if err != nil {
		return "", err
	}

	sessionToken, err := hs.auth.MintForUser(ctx, userID)
	if err != nil {
		return "", err
	}

	// The fingerprint is recorded for audit only; the single-use token is
	// the sole proof of identity.
	var payload map[string]any
	if fingerprint != "" {
		payload = map[string]any{"fingerprint": fingerprint}
	}
	if err := hs.eventRepo.Append(dbctx.Context{Ctx: ctx}, userID, types.EventTokenRedeemed, payload); err != nil {
		hs.log.Warn("Failed to record redemption event", "error", err)
	}

	hs.log.Info("Handoff token redeemed", "user_id", userID.String())
	return sessionToken, nil
}
