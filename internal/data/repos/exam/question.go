package exam

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type QuestionRepo interface {
	Create(dbc dbctx.Context, questions []*types.Question) ([]*types.Question, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Question, error)
	CountByType(dbc dbctx.Context, t types.AssessmentType) (int64, error)
	CountUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (int64, error)
	PickRandomUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (*types.Question, error)
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return &questionRepo{db: db, log: baseLog.With("repo", "QuestionRepo")}
}

func (qr *questionRepo) Create(dbc dbctx.Context, questions []*types.Question) ([]*types.Question, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = qr.db
	}

	if len(questions) == 0 {
		return []*types.Question{}, nil
	}

	if err := transaction.WithContext(dbc.Ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (qr *questionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Question, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = qr.db
	}

	var rows []*types.Question
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

func (qr *questionRepo) CountByType(dbc dbctx.Context, t types.AssessmentType) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = qr.db
	}

	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Question{}).
		Where("assessment_type = ?", t).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (qr *questionRepo) CountUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = qr.db
	}

	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Question{}).
		Where("assessment_type = ?", t).
		Where("id NOT IN (?)", seenSubquery(transaction, entitlementID)).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// PickRandomUnseen selects uniformly at random from the bank minus the
// entitlement's seen set. Randomness lives in SQL so concurrent replicas
// agree on the candidate set without coordination.
func (qr *questionRepo) PickRandomUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (*types.Question, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = qr.db
	}

	var rows []*types.Question
	if err := transaction.WithContext(dbc.Ctx).
		Where("assessment_type = ?", t).
		Where("id NOT IN (?)", seenSubquery(transaction, entitlementID)).
		Order("random()").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func seenSubquery(transaction *gorm.DB, entitlementID uuid.UUID) *gorm.DB {
	return transaction.Session(&gorm.Session{NewDB: true}).
		Model(&types.SeenQuestion{}).
		Select("question_id").
		Where("entitlement_id = ?", entitlementID)
}
