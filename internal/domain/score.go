package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ScoreRecord is the normalized evaluation result for one attempt.
// Criteria holds the four sub-criterion bands keyed by rubric name.
type ScoreRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AttemptID    uuid.UUID      `gorm:"uniqueIndex;not null" json:"attempt_id"`
	OverallBand  float64        `gorm:"not null;column:overall_band" json:"overall_band"`
	Criteria     datatypes.JSON `gorm:"not null;column:criteria" json:"criteria"`
	Strengths    datatypes.JSON `gorm:"column:strengths" json:"strengths"`
	Improvements datatypes.JSON `gorm:"column:improvements" json:"improvements"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (ScoreRecord) TableName() string {
	return "score_record"
}
