package exam

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type AttemptRepo interface {
	Create(dbc dbctx.Context, attempt *types.AssessmentAttempt) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AssessmentAttempt, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.AssessmentAttempt, error)
	SetStatus(dbc dbctx.Context, id uuid.UUID, status types.AttemptStatus, completedAt *time.Time) error
}

type attemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttemptRepo(db *gorm.DB, baseLog *logger.Logger) AttemptRepo {
	return &attemptRepo{db: db, log: baseLog.With("repo", "AttemptRepo")}
}

func (ar *attemptRepo) Create(dbc dbctx.Context, attempt *types.AssessmentAttempt) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = ar.db
	}
	return transaction.WithContext(dbc.Ctx).Create(attempt).Error
}

func (ar *attemptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AssessmentAttempt, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = ar.db
	}

	var rows []*types.AssessmentAttempt
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (ar *attemptRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.AssessmentAttempt, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = ar.db
	}

	var rows []*types.AssessmentAttempt
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (ar *attemptRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status types.AttemptStatus, completedAt *time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = ar.db
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.AssessmentAttempt{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error
}
