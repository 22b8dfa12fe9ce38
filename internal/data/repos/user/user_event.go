package user

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type UserEventRepo interface {
	Append(dbc dbctx.Context, userID uuid.UUID, kind string, payload map[string]any) error
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UserEvent, error)
}

type userEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserEventRepo(db *gorm.DB, baseLog *logger.Logger) UserEventRepo {
	return &userEventRepo{db: db, log: baseLog.With("repo", "UserEventRepo")}
}

func (uer *userEventRepo) Append(dbc dbctx.Context, userID uuid.UUID, kind string, payload map[string]any) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = uer.db
	}

	ev := &types.UserEvent{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   kind,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ev.Payload = datatypes.JSON(raw)
	}
	return transaction.WithContext(dbc.Ctx).Create(ev).Error
}

func (uer *userEventRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UserEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = uer.db
	}

	if limit <= 0 {
		limit = 100
	}
	var rows []*types.UserEvent
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
