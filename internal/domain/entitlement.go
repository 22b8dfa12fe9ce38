package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the ledger row for one purchase: how many graded attempts
// a user bought for a product and how many are consumed. AttemptsUsed only
// ever grows; a replayed receipt never creates a second active row.
type Entitlement struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"uniqueIndex:idx_entitlement_user_product;not null" json:"user_id"`
	ProductID     string    `gorm:"uniqueIndex:idx_entitlement_user_product;not null;column:product_id" json:"product_id"`
	AttemptsTotal int       `gorm:"not null;column:attempts_total" json:"attempts_total"`
	AttemptsUsed  int       `gorm:"not null;default:0;column:attempts_used" json:"attempts_used"`
	Cycle         int       `gorm:"not null;default:1;column:cycle" json:"cycle"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Entitlement) TableName() string {
	return "entitlement"
}

func (e *Entitlement) Exhausted() bool {
	return e.AttemptsUsed >= e.AttemptsTotal
}

// SeenQuestion marks a question as shown under an entitlement's active
// cycle. The unique index makes RecordSeen idempotent.
type SeenQuestion struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EntitlementID uuid.UUID `gorm:"uniqueIndex:idx_seen_entitlement_question;not null" json:"entitlement_id"`
	QuestionID    uuid.UUID `gorm:"uniqueIndex:idx_seen_entitlement_question;not null" json:"question_id"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (SeenQuestion) TableName() string {
	return "seen_question"
}
