package exam

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type ScoreRepo interface {
	Create(dbc dbctx.Context, record *types.ScoreRecord) error
	GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error)
}

type scoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScoreRepo(db *gorm.DB, baseLog *logger.Logger) ScoreRepo {
	return &scoreRepo{db: db, log: baseLog.With("repo", "ScoreRepo")}
}

func (sr *scoreRepo) Create(dbc dbctx.Context, record *types.ScoreRecord) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = sr.db
	}
	return transaction.WithContext(dbc.Ctx).Create(record).Error
}

func (sr *scoreRepo) GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = sr.db
	}

	var rows []*types.ScoreRecord
	if err := transaction.WithContext(dbc.Ctx).
		Where("attempt_id = ?", attemptID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
