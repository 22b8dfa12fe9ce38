package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/billing"
	"github.com/bandforge/ielts-backend/internal/data/repos/user"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type EntitlementService interface {
	// Grant verifies the receipt and credits the ledger. A replayed receipt
	// against a non-exhausted entitlement is a duplicate; against an
	// exhausted one it starts a fresh cycle.
	Grant(dbc dbctx.Context, platform, receipt string) (*types.Entitlement, error)
	GetActive(dbc dbctx.Context) ([]*types.Entitlement, error)
	GetForType(dbc dbctx.Context, t types.AssessmentType) (*types.Entitlement, error)
}

type entitlementService struct {
	db        *gorm.DB
	log       *logger.Logger
	verifier  ReceiptVerifier
	entRepo   billing.EntitlementRepo
	eventRepo user.UserEventRepo
}

func NewEntitlementService(
	db *gorm.DB,
	baseLog *logger.Logger,
	verifier ReceiptVerifier,
	entRepo billing.EntitlementRepo,
	eventRepo user.UserEventRepo,
) EntitlementService {
	return &entitlementService{
		db:        db,
		log:       baseLog.With("service", "EntitlementService"),
		verifier:  verifier,
		entRepo:   entRepo,
		eventRepo: eventRepo,
	}
}

func (s *entitlementService) Grant(dbc dbctx.Context, platform, receipt string) (*types.Entitlement, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}

	verified, err := s.verifier.Verify(dbc.Ctx, platform, receipt)
	if err != nil {
		return nil, err
	}

	run := func(inner dbctx.Context) (*types.Entitlement, error) {
		existing, err := s.entRepo.GetByUserProduct(inner, rd.UserID, verified.ProductID)
		if err != nil {
			return nil, err
		}

		if existing == nil {
			ent := &types.Entitlement{
				ID:            uuid.New(),
				UserID:        rd.UserID,
				ProductID:     verified.ProductID,
				AttemptsTotal: verified.Attempts,
				Cycle:         1,
			}
			if err := s.entRepo.Create(inner, ent); err != nil {
				return nil, err
			}
			return ent, nil
		}

		if !existing.Exhausted() {
			return nil, apperr.ErrDuplicateGrant
		}

		if err := s.entRepo.ResetCycle(inner, existing.ID, verified.Attempts); err != nil {
			return nil, err
		}
		if err := s.eventRepo.Append(inner, rd.UserID, types.EventCycleReset, map[string]any{
			"entitlement_id": existing.ID.String(),
			"product_id":     existing.ProductID,
			"attempts_total": verified.Attempts,
		}); err != nil {
			return nil, err
		}
		return s.entRepo.GetByID(inner, existing.ID)
	}

	if dbc.Tx != nil {
		return run(dbc)
	}

	var out *types.Entitlement
	if err := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		ent, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = ent
		return nil
	}); err != nil {
		s.log.Warn("Grant transaction error", "error", err)
		return nil, err
	}

	s.log.Info("Entitlement granted",
		"user_id", rd.UserID.String(),
		"product_id", out.ProductID,
		"cycle", out.Cycle,
	)
	return out, nil
}

func (s *entitlementService) GetActive(dbc dbctx.Context) ([]*types.Entitlement, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.entRepo.GetActiveByUser(dbc, rd.UserID)
}

func (s *entitlementService) GetForType(dbc dbctx.Context, t types.AssessmentType) (*types.Entitlement, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}
	ent, err := s.entRepo.GetByUserProduct(dbc, rd.UserID, t.ProductID())
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, fmt.Errorf("%w: no entitlement for %s", apperr.ErrNotFound, t)
	}
	return ent, nil
}
