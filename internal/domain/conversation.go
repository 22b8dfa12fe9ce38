package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ConversationPhase string

const (
	PhaseInit     ConversationPhase = "init"
	PhasePart1    ConversationPhase = "part1"
	PhasePart2    ConversationPhase = "part2"
	PhasePart3    ConversationPhase = "part3"
	PhaseComplete ConversationPhase = "complete"
	PhaseAborted  ConversationPhase = "aborted"
)

func (p ConversationPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseAborted
}

// Next returns the phase after p in the normal forward progression.
func (p ConversationPhase) Next() ConversationPhase {
	switch p {
	case PhaseInit:
		return PhasePart1
	case PhasePart1:
		return PhasePart2
	case PhasePart2:
		return PhasePart3
	case PhasePart3:
		return PhaseComplete
	default:
		return p
	}
}

type TurnRole string

const (
	TurnRoleCandidate TurnRole = "candidate"
	TurnRoleExaminer  TurnRole = "examiner"
)

type ConversationTurn struct {
	Role    TurnRole  `json:"role"`
	Content string    `json:"content"`
	Verdict string    `json:"verdict"`
	Phase   string    `json:"phase"`
	At      time.Time `json:"at"`
}

// ConversationState is the per-attempt checkpoint for a live speaking
// session. It is rewritten after every turn so any handler instance can
// resume the conversation from the durable store.
type ConversationState struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	AttemptID     uuid.UUID         `gorm:"uniqueIndex;not null" json:"attempt_id"`
	Phase         ConversationPhase `gorm:"not null;default:init;column:phase" json:"phase"`
	TurnIndex     int               `gorm:"not null;default:0;column:turn_index" json:"turn_index"`
	RetryTurns    int               `gorm:"not null;default:0;column:retry_turns" json:"retry_turns"`
	CheckpointSeq int               `gorm:"not null;default:0;column:checkpoint_seq" json:"checkpoint_seq"`
	Turns         datatypes.JSON    `gorm:"column:turns" json:"turns"`
	CreatedAt     time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:now()" json:"updated_at"`
}

func (ConversationState) TableName() string {
	return "conversation_state"
}

func (cs *ConversationState) DecodeTurns() ([]ConversationTurn, error) {
	if len(cs.Turns) == 0 {
		return []ConversationTurn{}, nil
	}
	var turns []ConversationTurn
	if err := json.Unmarshal(cs.Turns, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (cs *ConversationState) EncodeTurns(turns []ConversationTurn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	cs.Turns = datatypes.JSON(raw)
	return nil
}
