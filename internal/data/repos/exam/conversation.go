package exam

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, state *types.ConversationState) error
	GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ConversationState, error)
	Checkpoint(dbc dbctx.Context, state *types.ConversationState) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (cr *conversationRepo) Create(dbc dbctx.Context, state *types.ConversationState) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = cr.db
	}
	return transaction.WithContext(dbc.Ctx).Create(state).Error
}

func (cr *conversationRepo) GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ConversationState, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = cr.db
	}

	var rows []*types.ConversationState
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

// Checkpoint rewrites the durable turn state. The checkpoint_seq guard
// keeps a stale handler instance from clobbering a newer checkpoint.
func (cr *conversationRepo) Checkpoint(dbc dbctx.Context, state *types.ConversationState) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = cr.db
	}

	state.CheckpointSeq++
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ConversationState{}).
		Where("id = ? AND checkpoint_seq < ?", state.ID, state.CheckpointSeq).
		UpdateColumns(map[string]any{
			"phase":          state.Phase,
			"turn_index":     state.TurnIndex,
			"retry_turns":    state.RetryTurns,
			"checkpoint_seq": state.CheckpointSeq,
			"turns":          state.Turns,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: conversation %s at seq %d", apperr.ErrCheckpointConflict, state.ID, state.CheckpointSeq)
	}
	return nil
}
