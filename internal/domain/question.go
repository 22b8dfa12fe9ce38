package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Question content is immutable; only membership in per-entitlement seen
// sets changes over time.
type Question struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AssessmentType AssessmentType `gorm:"index;not null;column:assessment_type" json:"assessment_type"`
	Prompt         datatypes.JSON `gorm:"not null;column:prompt" json:"prompt"`
	Tags           datatypes.JSON `gorm:"column:tags" json:"tags"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (Question) TableName() string {
	return "question"
}

// QuestionPrompt is the decoded prompt payload. Writing types use Task;
// speaking types use the three part fields.
type QuestionPrompt struct {
	Task        string   `json:"task,omitempty"`
	Part1       []string `json:"part1,omitempty"`
	Part2CueTop string   `json:"part2_cue,omitempty"`
	Part3       []string `json:"part3,omitempty"`
}

func (q *Question) DecodePrompt() (QuestionPrompt, error) {
	var p QuestionPrompt
	if len(q.Prompt) == 0 {
		return p, nil
	}
	err := json.Unmarshal(q.Prompt, &p)
	return p, err
}
