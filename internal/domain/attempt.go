package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptAllocated     AttemptStatus = "allocated"
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptScored        AttemptStatus = "scored"
	AttemptAbandoned     AttemptStatus = "abandoned"
	AttemptScoringFailed AttemptStatus = "scoring_failed"
)

// Terminal statuses are final; the engine never moves an attempt out of
// scored, abandoned or scoring_failed.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptScored, AttemptAbandoned, AttemptScoringFailed:
		return true
	}
	return false
}

// AssessmentAttempt is one graded use of an entitlement, bound to exactly
// one allocated question. The attempt is debited at allocation time and is
// never refunded.
type AssessmentAttempt struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntitlementID  uuid.UUID      `gorm:"index;not null" json:"entitlement_id"`
	UserID         uuid.UUID      `gorm:"index;not null" json:"user_id"`
	QuestionID     uuid.UUID      `gorm:"not null" json:"question_id"`
	AssessmentType AssessmentType `gorm:"not null;column:assessment_type" json:"assessment_type"`
	Status         AttemptStatus  `gorm:"not null;default:allocated;column:status" json:"status"`
	StartedAt      time.Time      `gorm:"not null;column:started_at" json:"started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempt"
}
