package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/exam"
	"github.com/bandforge/ielts-backend/internal/data/repos/user"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/pkg/envutil"
	"github.com/bandforge/ielts-backend/internal/pkg/httpx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

// TurnResult is what the web client renders after each exchange.
type TurnResult struct {
	ExaminerText string                  `json:"examiner_text"`
	Phase        types.ConversationPhase `json:"phase"`
	TurnIndex    int                     `json:"turn_index"`
	Completed    bool                    `json:"completed"`
	Aborted      bool                    `json:"aborted"`
	Score        *types.ScoreRecord      `json:"score,omitempty"`
}

// ConversationService drives the three-part speaking exam. Every accepted
// turn is checkpointed before the response leaves the server, so a crashed
// or reconnecting client resumes mid-exam without losing progress.
type ConversationService interface {
	Start(dbc dbctx.Context, attempt *types.AssessmentAttempt, question *types.Question) (*TurnResult, error)
	Turn(dbc dbctx.Context, attempt *types.AssessmentAttempt, candidateText string) (*TurnResult, error)
	Resume(dbc dbctx.Context, attempt *types.AssessmentAttempt) (*TurnResult, error)
	Abandon(dbc dbctx.Context, attempt *types.AssessmentAttempt, reason string) error
}

type conversationService struct {
	db           *gorm.DB
	log          *logger.Logger
	ai           openai.Client
	moderation   ModerationService
	scoring      ScoringService
	convRepo     exam.ConversationRepo
	attemptRepo  exam.AttemptRepo
	questionRepo exam.QuestionRepo
	eventRepo    user.UserEventRepo
	retry        httpx.RetryPolicy

	part1Turns int
	part2Turns int
	part3Turns int
}

func NewConversationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	ai openai.Client,
	moderation ModerationService,
	scoring ScoringService,
	convRepo exam.ConversationRepo,
	attemptRepo exam.AttemptRepo,
	questionRepo exam.QuestionRepo,
	eventRepo user.UserEventRepo,
) ConversationService {
	return &conversationService{
		db:           db,
		log:          baseLog.With("service", "ConversationService"),
		ai:           ai,
		moderation:   moderation,
		scoring:      scoring,
		convRepo:     convRepo,
		attemptRepo:  attemptRepo,
		questionRepo: questionRepo,
		eventRepo:    eventRepo,
		retry:        httpx.DefaultRetryPolicy(),
		part1Turns:   envutil.Int("CONVERSATION_PART1_TURNS", 4),
		part2Turns:   envutil.Int("CONVERSATION_PART2_TURNS", 1),
		part3Turns:   envutil.Int("CONVERSATION_PART3_TURNS", 4),
	}
}

func (cs *conversationService) Start(dbc dbctx.Context, attempt *types.AssessmentAttempt, question *types.Question) (*TurnResult, error) {
	if !attempt.AssessmentType.IsSpeaking() {
		return nil, fmt.Errorf("%w: conversation only applies to speaking attempts", apperr.ErrValidation)
	}
	if attempt.Status != types.AttemptAllocated {
		return nil, fmt.Errorf("%w: attempt already started", apperr.ErrValidation)
	}

	prompt, err := question.DecodePrompt()
	if err != nil {
		return nil, err
	}

	state := &types.ConversationState{
		ID:        uuid.New(),
		AttemptID: attempt.ID,
		Phase:     types.PhasePart1,
	}
	if err := state.EncodeTurns([]types.ConversationTurn{}); err != nil {
		return nil, err
	}

	// The state row and the status change commit before any upstream call,
	// so a failed opening leaves a resumable attempt instead of a stranded
	// one.
	run := func(inner dbctx.Context) error {
		if err := cs.convRepo.Create(inner, state); err != nil {
			return err
		}
		return cs.attemptRepo.SetStatus(inner, attempt.ID, types.AttemptInProgress, nil)
	}
	if err := cs.inTx(dbc, run); err != nil {
		return nil, err
	}
	attempt.Status = types.AttemptInProgress

	return cs.openConversation(dbc, state, prompt)
}

// openConversation generates and checkpoints the examiner's opening for a
// conversation whose transcript is still empty. Safe to call again after
// an upstream failure.
func (cs *conversationService) openConversation(dbc dbctx.Context, state *types.ConversationState, prompt types.QuestionPrompt) (*TurnResult, error) {
	opening, err := cs.examinerText(dbc.Ctx, state.Phase, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err)
	}

	turns := []types.ConversationTurn{{
		Role:    types.TurnRoleExaminer,
		Content: opening,
		Verdict: string(apperr.SeverityClean),
		Phase:   string(state.Phase),
		At:      time.Now().UTC(),
	}}
	if err := cs.checkpoint(dbc, state, turns); err != nil {
		return nil, err
	}

	return &TurnResult{
		ExaminerText: opening,
		Phase:        state.Phase,
		TurnIndex:    state.TurnIndex,
	}, nil
}

func (cs *conversationService) Turn(dbc dbctx.Context, attempt *types.AssessmentAttempt, candidateText string) (*TurnResult, error) {
	if strings.TrimSpace(candidateText) == "" {
		return nil, fmt.Errorf("%w: empty turn", apperr.ErrValidation)
	}

	state, err := cs.convRepo.GetByAttemptID(dbc, attempt.ID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: conversation not started", apperr.ErrNotFound)
	}
	if state.Phase.Terminal() {
		return nil, fmt.Errorf("%w: conversation already finished", apperr.ErrValidation)
	}

	turns, err := state.DecodeTurns()
	if err != nil {
		return nil, err
	}

	question, err := cs.questionRepo.GetByID(dbc, attempt.QuestionID)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, fmt.Errorf("%w: question missing", apperr.ErrNotFound)
	}
	prompt, err := question.DecodePrompt()
	if err != nil {
		return nil, err
	}

	// Start commits the state before the opening is generated; if the
	// opening never made it out, produce it before taking this answer.
	if len(turns) == 0 {
		opening, err := cs.examinerText(dbc.Ctx, state.Phase, prompt, nil)
		if err != nil {
			return nil, cs.noteUpstreamFailure(dbc, attempt, state, turns, err)
		}
		turns = append(turns, types.ConversationTurn{
			Role:    types.TurnRoleExaminer,
			Content: opening,
			Verdict: string(apperr.SeverityClean),
			Phase:   string(state.Phase),
			At:      time.Now().UTC(),
		})
	}

	severity, category, err := cs.moderation.Check(dbc.Ctx, candidateText)
	if err != nil {
		return nil, cs.noteUpstreamFailure(dbc, attempt, state, turns, err)
	}

	now := time.Now().UTC()

	if severity == apperr.SeveritySevere {
		turns = append(turns, types.ConversationTurn{
			Role:    types.TurnRoleCandidate,
			Content: candidateText,
			Verdict: string(severity),
			Phase:   string(state.Phase),
			At:      now,
		})
		if err := cs.abort(dbc, attempt, state, turns, category); err != nil {
			return nil, err
		}
		return &TurnResult{
			ExaminerText: "This session has been ended because of the content of your last response.",
			Phase:        types.PhaseAborted,
			TurnIndex:    state.TurnIndex,
			Aborted:      true,
		}, nil
	}

	if severity == apperr.SeverityMild {
		steering, err := cs.steeringText(dbc.Ctx, state.Phase, prompt)
		if err != nil {
			return nil, cs.noteUpstreamFailure(dbc, attempt, state, turns, err)
		}
		turns = append(turns,
			types.ConversationTurn{
				Role:    types.TurnRoleCandidate,
				Content: candidateText,
				Verdict: string(severity),
				Phase:   string(state.Phase),
				At:      now,
			},
			types.ConversationTurn{
				Role:    types.TurnRoleExaminer,
				Content: steering,
				Verdict: string(apperr.SeverityClean),
				Phase:   string(state.Phase),
				At:      now,
			},
		)
		// A steered turn does not advance the phase budget; the
		// candidate answers the same question again.
		state.RetryTurns = 0
		if err := cs.checkpoint(dbc, state, turns); err != nil {
			return nil, err
		}
		return &TurnResult{
			ExaminerText: steering,
			Phase:        state.Phase,
			TurnIndex:    state.TurnIndex,
		}, nil
	}

	turns = append(turns, types.ConversationTurn{
		Role:    types.TurnRoleCandidate,
		Content: candidateText,
		Verdict: string(apperr.SeverityClean),
		Phase:   string(state.Phase),
		At:      now,
	})
	state.TurnIndex++

	if state.TurnIndex >= cs.phaseBudgetThrough(state.Phase) {
		state.Phase = state.Phase.Next()
	}

	if state.Phase == types.PhaseComplete {
		return cs.complete(dbc, attempt, state, turns)
	}

	examiner, err := cs.examinerText(dbc.Ctx, state.Phase, prompt, turns)
	if err != nil {
		return nil, cs.noteUpstreamFailure(dbc, attempt, state, turns, err)
	}

	turns = append(turns, types.ConversationTurn{
		Role:    types.TurnRoleExaminer,
		Content: examiner,
		Verdict: string(apperr.SeverityClean),
		Phase:   string(state.Phase),
		At:      time.Now().UTC(),
	})
	state.RetryTurns = 0
	if err := cs.checkpoint(dbc, state, turns); err != nil {
		return nil, err
	}

	return &TurnResult{
		ExaminerText: examiner,
		Phase:        state.Phase,
		TurnIndex:    state.TurnIndex,
	}, nil
}

func (cs *conversationService) Resume(dbc dbctx.Context, attempt *types.AssessmentAttempt) (*TurnResult, error) {
	state, err := cs.convRepo.GetByAttemptID(dbc, attempt.ID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: conversation not started", apperr.ErrNotFound)
	}

	turns, err := state.DecodeTurns()
	if err != nil {
		return nil, err
	}

	if len(turns) == 0 && !state.Phase.Terminal() {
		question, err := cs.questionRepo.GetByID(dbc, attempt.QuestionID)
		if err != nil {
			return nil, err
		}
		if question == nil {
			return nil, fmt.Errorf("%w: question missing", apperr.ErrNotFound)
		}
		prompt, err := question.DecodePrompt()
		if err != nil {
			return nil, err
		}
		return cs.openConversation(dbc, state, prompt)
	}

	var lastExaminer string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == types.TurnRoleExaminer {
			lastExaminer = turns[i].Content
			break
		}
	}

	return &TurnResult{
		ExaminerText: lastExaminer,
		Phase:        state.Phase,
		TurnIndex:    state.TurnIndex,
		Completed:    state.Phase == types.PhaseComplete,
		Aborted:      state.Phase == types.PhaseAborted,
	}, nil
}

func (cs *conversationService) Abandon(dbc dbctx.Context, attempt *types.AssessmentAttempt, reason string) error {
	if attempt.Status.Terminal() {
		return fmt.Errorf("%w: attempt already finished", apperr.ErrValidation)
	}
	if reason == "" {
		reason = "abandoned"
	}

	state, err := cs.convRepo.GetByAttemptID(dbc, attempt.ID)
	if err != nil {
		return err
	}

	run := func(inner dbctx.Context) error {
		if state != nil && !state.Phase.Terminal() {
			turns, err := state.DecodeTurns()
			if err != nil {
				return err
			}
			state.Phase = types.PhaseAborted
			if err := state.EncodeTurns(turns); err != nil {
				return err
			}
			if err := cs.convRepo.Checkpoint(inner, state); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := cs.attemptRepo.SetStatus(inner, attempt.ID, types.AttemptAbandoned, &now); err != nil {
			return err
		}
		return cs.eventRepo.Append(inner, attempt.UserID, types.EventAttemptAborted, map[string]any{
			"attempt_id": attempt.ID.String(),
			"reason":     reason,
		})
	}
	return cs.inTx(dbc, run)
}

// phaseBudgetThrough returns the cumulative candidate-turn count at which
// the given phase is finished.
func (cs *conversationService) phaseBudgetThrough(phase types.ConversationPhase) int {
	switch phase {
	case types.PhasePart1:
		return cs.part1Turns
	case types.PhasePart2:
		return cs.part1Turns + cs.part2Turns
	default:
		return cs.part1Turns + cs.part2Turns + cs.part3Turns
	}
}

func (cs *conversationService) complete(dbc dbctx.Context, attempt *types.AssessmentAttempt, state *types.ConversationState, turns []types.ConversationTurn) (*TurnResult, error) {
	closing := "That is the end of the speaking test. Thank you."
	turns = append(turns, types.ConversationTurn{
		Role:    types.TurnRoleExaminer,
		Content: closing,
		Verdict: string(apperr.SeverityClean),
		Phase:   string(types.PhaseComplete),
		At:      time.Now().UTC(),
	})
	state.RetryTurns = 0
	if err := cs.checkpoint(dbc, state, turns); err != nil {
		return nil, err
	}

	record, err := cs.scoring.ScoreTranscript(dbc, attempt, transcriptOf(turns))
	if err != nil {
		return &TurnResult{
			ExaminerText: closing,
			Phase:        types.PhaseComplete,
			TurnIndex:    state.TurnIndex,
			Completed:    true,
		}, err
	}

	return &TurnResult{
		ExaminerText: closing,
		Phase:        types.PhaseComplete,
		TurnIndex:    state.TurnIndex,
		Completed:    true,
		Score:        record,
	}, nil
}

func (cs *conversationService) abort(dbc dbctx.Context, attempt *types.AssessmentAttempt, state *types.ConversationState, turns []types.ConversationTurn, category string) error {
	run := func(inner dbctx.Context) error {
		state.Phase = types.PhaseAborted
		if err := state.EncodeTurns(turns); err != nil {
			return err
		}
		if err := cs.convRepo.Checkpoint(inner, state); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := cs.attemptRepo.SetStatus(inner, attempt.ID, types.AttemptAbandoned, &now); err != nil {
			return err
		}
		return cs.eventRepo.Append(inner, attempt.UserID, types.EventAttemptAborted, map[string]any{
			"attempt_id": attempt.ID.String(),
			"reason":     "severe_violation",
			"category":   category,
		})
	}
	return cs.inTx(dbc, run)
}

// noteUpstreamFailure records a failed turn. One failed turn is tolerated;
// the second consecutive failure abandons the attempt so the candidate is
// not left in a half-dead exam.
func (cs *conversationService) noteUpstreamFailure(dbc dbctx.Context, attempt *types.AssessmentAttempt, state *types.ConversationState, turns []types.ConversationTurn, cause error) error {
	state.RetryTurns++
	cs.log.Warn("Turn failed upstream",
		"attempt_id", attempt.ID.String(),
		"retry_turns", state.RetryTurns,
		"error", cause.Error(),
	)

	if state.RetryTurns >= 2 {
		if err := cs.abort(dbc, attempt, state, turns, "upstream_failure"); err != nil {
			return err
		}
		return fmt.Errorf("%w: attempt abandoned after repeated failures", apperr.ErrUpstreamUnavailable)
	}

	if err := cs.checkpoint(dbc, state, turns); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, cause)
}

func (cs *conversationService) checkpoint(dbc dbctx.Context, state *types.ConversationState, turns []types.ConversationTurn) error {
	if err := state.EncodeTurns(turns); err != nil {
		return err
	}
	return cs.convRepo.Checkpoint(dbc, state)
}

func (cs *conversationService) inTx(dbc dbctx.Context, run func(inner dbctx.Context) error) error {
	if dbc.Tx != nil {
		return run(dbc)
	}
	return cs.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	})
}

func (cs *conversationService) examinerText(ctx context.Context, phase types.ConversationPhase, prompt types.QuestionPrompt, turns []types.ConversationTurn) (string, error) {
	system := examinerSystemPrompt(phase, prompt)
	userText := "Begin the exam with a short greeting and your first question."
	if len(turns) > 0 {
		userText = "Transcript so far:\n" + transcriptOf(turns) + "\nContinue with your next question."
	}

	var out string
	err := cs.retry.Do(ctx, func(ctx context.Context) error {
		text, err := cs.ai.GenerateText(ctx, system, userText)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}

	// The examiner's own output goes through the same gate as the
	// candidate's. A flagged generation is replaced with a scripted
	// question instead of reaching the candidate.
	severity, _, err := cs.moderation.Check(ctx, out)
	if err != nil {
		return "", err
	}
	if severity != apperr.SeverityClean {
		return fallbackQuestion(phase, prompt), nil
	}
	return out, nil
}

func (cs *conversationService) steeringText(ctx context.Context, phase types.ConversationPhase, prompt types.QuestionPrompt) (string, error) {
	system := examinerSystemPrompt(phase, prompt)
	userText := "The candidate's last answer was off-limits for an exam setting. Politely remind them to keep answers appropriate and repeat your current question."

	var out string
	err := cs.retry.Do(ctx, func(ctx context.Context) error {
		text, err := cs.ai.GenerateText(ctx, system, userText)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func examinerSystemPrompt(phase types.ConversationPhase, prompt types.QuestionPrompt) string {
	var b strings.Builder
	b.WriteString("You are an IELTS speaking examiner running a live exam. Speak only as the examiner, one question at a time, in plain conversational English.\n")
	switch phase {
	case types.PhasePart1:
		b.WriteString("Current section: Part 1, short questions about familiar topics.\n")
		if len(prompt.Part1) > 0 {
			b.WriteString("Question list: " + strings.Join(prompt.Part1, " | ") + "\n")
		}
	case types.PhasePart2:
		b.WriteString("Current section: Part 2, the long turn. Read the cue card topic and ask the candidate to speak about it at length.\n")
		if prompt.Part2CueTop != "" {
			b.WriteString("Cue card: " + prompt.Part2CueTop + "\n")
		}
	case types.PhasePart3:
		b.WriteString("Current section: Part 3, discussion questions that follow on from the Part 2 topic.\n")
		if len(prompt.Part3) > 0 {
			b.WriteString("Question list: " + strings.Join(prompt.Part3, " | ") + "\n")
		}
	}
	b.WriteString("Never break character and never discuss the scoring.")
	return b.String()
}

func fallbackQuestion(phase types.ConversationPhase, prompt types.QuestionPrompt) string {
	switch phase {
	case types.PhasePart1:
		if len(prompt.Part1) > 0 {
			return prompt.Part1[0]
		}
	case types.PhasePart2:
		if prompt.Part2CueTop != "" {
			return "Please describe the following: " + prompt.Part2CueTop
		}
	case types.PhasePart3:
		if len(prompt.Part3) > 0 {
			return prompt.Part3[0]
		}
	}
	return "Let's continue. Could you tell me more about that?"
}

func transcriptOf(turns []types.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}
