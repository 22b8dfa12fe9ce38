package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventCycleReset     = "cycle_reset"
	EventTokenRedeemed  = "token_redeemed"
	EventAttemptAborted = "attempt_aborted"
	EventScoringFailed  = "scoring_failed"
)

// UserEvent is the audit trail for ledger and exam-room decisions that
// must stay observable (cycle resets, aborts, scoring failures).
type UserEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"index;not null" json:"user_id"`
	Kind      string         `gorm:"index;not null;column:kind" json:"kind"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (UserEvent) TableName() string {
	return "user_event"
}
