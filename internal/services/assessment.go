package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/exam"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

// StartResult bundles what the client needs to begin an attempt. For
// writing types Opening is empty and the prompt carries the task; for
// speaking types Opening is the examiner's first utterance.
type StartResult struct {
	Attempt  *types.AssessmentAttempt `json:"attempt"`
	Question *types.Question          `json:"question"`
	Opening  string                   `json:"opening,omitempty"`
}

// AssessmentService is the request-facing facade over allocation, the
// speaking exam engine and scoring. It owns the attempt-ownership checks
// so handlers never touch repos directly.
type AssessmentService interface {
	Start(dbc dbctx.Context, t types.AssessmentType) (*StartResult, error)
	Turn(dbc dbctx.Context, attemptID uuid.UUID, candidateText string) (*TurnResult, error)
	Resume(dbc dbctx.Context, attemptID uuid.UUID) (*TurnResult, error)
	Submit(dbc dbctx.Context, attemptID uuid.UUID, essay string) (*types.ScoreRecord, error)
	Abandon(dbc dbctx.Context, attemptID uuid.UUID) error
	Result(dbc dbctx.Context, attemptID uuid.UUID) (*types.AssessmentAttempt, *types.ScoreRecord, error)
	List(dbc dbctx.Context) ([]*types.AssessmentAttempt, error)
}

type assessmentService struct {
	db           *gorm.DB
	log          *logger.Logger
	allocator    AllocatorService
	conversation ConversationService
	scoring      ScoringService
	moderation   ModerationService
	attemptRepo  exam.AttemptRepo
}

func NewAssessmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	allocator AllocatorService,
	conversation ConversationService,
	scoring ScoringService,
	moderation ModerationService,
	attemptRepo exam.AttemptRepo,
) AssessmentService {
	return &assessmentService{
		db:           db,
		log:          baseLog.With("service", "AssessmentService"),
		allocator:    allocator,
		conversation: conversation,
		scoring:      scoring,
		moderation:   moderation,
		attemptRepo:  attemptRepo,
	}
}

func (s *assessmentService) Start(dbc dbctx.Context, t types.AssessmentType) (*StartResult, error) {
	attempt, question, err := s.allocator.Allocate(dbc, t)
	if err != nil {
		return nil, err
	}

	result := &StartResult{Attempt: attempt, Question: question}
	if !t.IsSpeaking() {
		return result, nil
	}

	turn, err := s.conversation.Start(dbc, attempt, question)
	if err != nil {
		// The attempt is already debited and the conversation row exists,
		// so the client recovers through resume without a second debit.
		s.log.Warn("Failed to open conversation", "attempt_id", attempt.ID.String(), "error", err)
		return nil, err
	}
	result.Opening = turn.ExaminerText
	return result, nil
}

func (s *assessmentService) Turn(dbc dbctx.Context, attemptID uuid.UUID, candidateText string) (*TurnResult, error) {
	attempt, err := s.ownedAttempt(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, fmt.Errorf("%w: attempt already finished", apperr.ErrValidation)
	}
	return s.conversation.Turn(dbc, attempt, candidateText)
}

func (s *assessmentService) Resume(dbc dbctx.Context, attemptID uuid.UUID) (*TurnResult, error) {
	attempt, err := s.ownedAttempt(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	return s.conversation.Resume(dbc, attempt)
}

func (s *assessmentService) Submit(dbc dbctx.Context, attemptID uuid.UUID, essay string) (*types.ScoreRecord, error) {
	attempt, err := s.ownedAttempt(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.AssessmentType.IsSpeaking() {
		return nil, fmt.Errorf("%w: speaking attempts are scored through the conversation", apperr.ErrValidation)
	}
	if attempt.Status.Terminal() {
		return nil, fmt.Errorf("%w: attempt already finished", apperr.ErrValidation)
	}

	severity, category, err := s.moderation.Check(dbc.Ctx, essay)
	if err != nil {
		return nil, err
	}
	if severity == apperr.SeveritySevere {
		if err := s.conversation.Abandon(dbc, attempt, "severe_violation"); err != nil {
			return nil, err
		}
		return nil, &apperr.ContentViolationError{Severity: severity, Category: category}
	}

	return s.scoring.ScoreTranscript(dbc, attempt, essay)
}

func (s *assessmentService) Abandon(dbc dbctx.Context, attemptID uuid.UUID) error {
	attempt, err := s.ownedAttempt(dbc, attemptID)
	if err != nil {
		return err
	}
	return s.conversation.Abandon(dbc, attempt, "abandoned")
}

func (s *assessmentService) Result(dbc dbctx.Context, attemptID uuid.UUID) (*types.AssessmentAttempt, *types.ScoreRecord, error) {
	attempt, err := s.ownedAttempt(dbc, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if attempt.Status != types.AttemptScored {
		return attempt, nil, nil
	}
	record, err := s.scoring.GetResult(dbc, attemptID)
	if err != nil {
		return nil, nil, err
	}
	return attempt, record, nil
}

func (s *assessmentService) List(dbc dbctx.Context) ([]*types.AssessmentAttempt, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.attemptRepo.ListByUser(dbc, rd.UserID)
}

func (s *assessmentService) ownedAttempt(dbc dbctx.Context, attemptID uuid.UUID) (*types.AssessmentAttempt, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}

	attempt, err := s.attemptRepo.GetByID(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil || attempt.UserID != rd.UserID {
		return nil, fmt.Errorf("%w: attempt", apperr.ErrNotFound)
	}
	return attempt, nil
}
