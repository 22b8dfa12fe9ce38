package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/billing"
	"github.com/bandforge/ielts-backend/internal/data/repos/exam"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

// AllocatorService turns one entitlement attempt into one attempt row
// bound to a never-before-seen question. The pool check runs before the
// debit so a user with attempts left and an empty pool keeps the attempt.
type AllocatorService interface {
	Allocate(dbc dbctx.Context, t types.AssessmentType) (*types.AssessmentAttempt, *types.Question, error)
}

type allocatorService struct {
	db           *gorm.DB
	log          *logger.Logger
	entRepo      billing.EntitlementRepo
	questionRepo exam.QuestionRepo
	attemptRepo  exam.AttemptRepo
}

func NewAllocatorService(
	db *gorm.DB,
	baseLog *logger.Logger,
	entRepo billing.EntitlementRepo,
	questionRepo exam.QuestionRepo,
	attemptRepo exam.AttemptRepo,
) AllocatorService {
	return &allocatorService{
		db:           db,
		log:          baseLog.With("service", "AllocatorService"),
		entRepo:      entRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
	}
}

func (s *allocatorService) Allocate(dbc dbctx.Context, t types.AssessmentType) (*types.AssessmentAttempt, *types.Question, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, apperr.ErrUnauthorized
	}
	if !t.Valid() {
		return nil, nil, fmt.Errorf("%w: invalid assessment type", apperr.ErrValidation)
	}

	run := func(inner dbctx.Context) (*types.AssessmentAttempt, *types.Question, error) {
		ent, err := s.entRepo.GetByUserProduct(inner, rd.UserID, t.ProductID())
		if err != nil {
			return nil, nil, err
		}
		if ent == nil {
			return nil, nil, fmt.Errorf("%w: no entitlement for %s", apperr.ErrNotFound, t)
		}

		unseen, err := s.questionRepo.CountUnseen(inner, t, ent.ID)
		if err != nil {
			return nil, nil, err
		}
		if unseen == 0 {
			return nil, nil, apperr.ErrPoolExhausted
		}

		consumed, err := s.entRepo.TryConsumeAttempt(inner, ent.ID)
		if err != nil {
			return nil, nil, err
		}
		if !consumed {
			return nil, nil, apperr.ErrEntitlementExhausted
		}

		q, err := s.questionRepo.PickRandomUnseen(inner, t, ent.ID)
		if err != nil {
			return nil, nil, err
		}
		if q == nil {
			// Raced against a concurrent allocation on the same
			// entitlement; roll the whole debit back.
			return nil, nil, apperr.ErrPoolExhausted
		}

		if err := s.entRepo.RecordSeen(inner, ent.ID, q.ID); err != nil {
			return nil, nil, err
		}

		attempt := &types.AssessmentAttempt{
			ID:             uuid.New(),
			EntitlementID:  ent.ID,
			UserID:         rd.UserID,
			QuestionID:     q.ID,
			AssessmentType: t,
			Status:         types.AttemptAllocated,
			StartedAt:      time.Now().UTC(),
		}
		if err := s.attemptRepo.Create(inner, attempt); err != nil {
			return nil, nil, err
		}
		return attempt, q, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}

	var outAttempt *types.AssessmentAttempt
	var outQuestion *types.Question
	if err := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		attempt, q, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		outAttempt = attempt
		outQuestion = q
		return nil
	}); err != nil {
		return nil, nil, err
	}

	s.log.Info("Attempt allocated",
		"user_id", rd.UserID.String(),
		"assessment_type", t.String(),
		"attempt_id", outAttempt.ID.String(),
	)
	return outAttempt, outQuestion, nil
}
