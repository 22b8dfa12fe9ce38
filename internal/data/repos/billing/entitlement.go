package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type EntitlementRepo interface {
	Create(dbc dbctx.Context, ent *types.Entitlement) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Entitlement, error)
	GetByUserProduct(dbc dbctx.Context, userID uuid.UUID, productID string) (*types.Entitlement, error)
	GetActiveByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Entitlement, error)
	TryConsumeAttempt(dbc dbctx.Context, entitlementID uuid.UUID) (bool, error)
	RecordSeen(dbc dbctx.Context, entitlementID, questionID uuid.UUID) error
	CountSeen(dbc dbctx.Context, entitlementID uuid.UUID) (int64, error)
	ResetCycle(dbc dbctx.Context, entitlementID uuid.UUID, attemptsTotal int) error
}

type entitlementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntitlementRepo(db *gorm.DB, baseLog *logger.Logger) EntitlementRepo {
	return &entitlementRepo{db: db, log: baseLog.With("repo", "EntitlementRepo")}
}

func (er *entitlementRepo) Create(dbc dbctx.Context, ent *types.Entitlement) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}
	return transaction.WithContext(dbc.Ctx).Create(ent).Error
}

func (er *entitlementRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Entitlement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	var rows []*types.Entitlement
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

func (er *entitlementRepo) GetByUserProduct(dbc dbctx.Context, userID uuid.UUID, productID string) (*types.Entitlement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	var rows []*types.Entitlement
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (er *entitlementRepo) GetActiveByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Entitlement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	var rows []*types.Entitlement
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND attempts_used < attempts_total", userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TryConsumeAttempt is the ledger's exactly-once debit. The guard lives in
// the WHERE clause so concurrent callers race on a single conditional
// UPDATE; postgres serializes them and at most the remaining budget wins.
func (er *entitlementRepo) TryConsumeAttempt(dbc dbctx.Context, entitlementID uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Entitlement{}).
		Where("id = ? AND attempts_used < attempts_total", entitlementID).
		UpdateColumns(map[string]any{
			"attempts_used": gorm.Expr("attempts_used + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (er *entitlementRepo) RecordSeen(dbc dbctx.Context, entitlementID, questionID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	seen := &types.SeenQuestion{
		ID:            uuid.New(),
		EntitlementID: entitlementID,
		QuestionID:    questionID,
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entitlement_id"}, {Name: "question_id"}},
			DoNothing: true,
		}).
		Create(seen).Error
}

func (er *entitlementRepo) CountSeen(dbc dbctx.Context, entitlementID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.SeenQuestion{}).
		Where("entitlement_id = ?", entitlementID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// ResetCycle rearms an exhausted entitlement for a fresh purchase: new
// budget, zero used, cleared seen set, bumped cycle counter.
func (er *entitlementRepo) ResetCycle(dbc dbctx.Context, entitlementID uuid.UUID, attemptsTotal int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = er.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Entitlement{}).
		Where("id = ?", entitlementID).
		UpdateColumns(map[string]any{
			"attempts_total": attemptsTotal,
			"attempts_used":  0,
			"cycle":          gorm.Expr("cycle + 1"),
			"updated_at":     time.Now().UTC(),
		}).Error; err != nil {
		return err
	}

	return transaction.WithContext(dbc.Ctx).
		Where("entitlement_id = ?", entitlementID).
		Delete(&types.SeenQuestion{}).Error
}
