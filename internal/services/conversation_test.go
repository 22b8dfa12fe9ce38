package services

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/httpx"
)

type convFixture struct {
	svc      *conversationService
	ai       *fakeAI
	mod      *fakeModeration
	scoring  *fakeScoring
	convRepo *fakeConversationRepo
	attempts *fakeAttemptRepo
	events   *fakeEventRepo
	attempt  *types.AssessmentAttempt
	question *types.Question
}

func newConvFixture(t *testing.T) *convFixture {
	t.Helper()

	prompt, err := json.Marshal(types.QuestionPrompt{
		Part1:       []string{"Where do you live?", "Do you work or study?"},
		Part2CueTop: "Describe a journey you remember well.",
		Part3:       []string{"How has travel changed in your country?"},
	})
	if err != nil {
		t.Fatalf("marshal prompt: %v", err)
	}

	question := &types.Question{
		ID:             uuid.New(),
		AssessmentType: types.AcademicSpeaking,
		Prompt:         datatypes.JSON(prompt),
	}
	attempt := &types.AssessmentAttempt{
		ID:             uuid.New(),
		EntitlementID:  uuid.New(),
		UserID:         uuid.New(),
		QuestionID:     question.ID,
		AssessmentType: types.AcademicSpeaking,
		Status:         types.AttemptAllocated,
		StartedAt:      time.Now().UTC(),
	}

	ai := &fakeAI{}
	mod := &fakeModeration{}
	scoring := &fakeScoring{}
	convRepo := newFakeConversationRepo()
	attempts := newFakeAttemptRepo()
	events := &fakeEventRepo{}
	questions := &fakeQuestionRepo{entRepo: newFakeEntitlementRepo()}
	questions.questions = []*types.Question{question}

	if err := attempts.Create(testDBC(attempt.UserID), attempt); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	svc := &conversationService{
		log:          testLogger(t),
		ai:           ai,
		moderation:   mod,
		scoring:      scoring,
		convRepo:     convRepo,
		attemptRepo:  attempts,
		questionRepo: questions,
		eventRepo:    events,
		retry:        httpx.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond},
		part1Turns:   2,
		part2Turns:   1,
		part3Turns:   1,
	}

	return &convFixture{
		svc:      svc,
		ai:       ai,
		mod:      mod,
		scoring:  scoring,
		convRepo: convRepo,
		attempts: attempts,
		events:   events,
		attempt:  attempt,
		question: question,
	}
}

func TestConversationFullExam(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	start, err := fx.svc.Start(dbc, fx.attempt, fx.question)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.Phase != types.PhasePart1 {
		t.Fatalf("expected part1 after start, got %s", start.Phase)
	}
	if start.ExaminerText == "" {
		t.Fatalf("expected opening examiner text")
	}

	stored, err := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if err != nil || stored == nil {
		t.Fatalf("load attempt: %v", err)
	}
	if stored.Status != types.AttemptInProgress {
		t.Fatalf("expected in_progress, got %s", stored.Status)
	}

	answers := []struct {
		text      string
		wantPhase types.ConversationPhase
	}{
		{"I live in a small town near the coast.", types.PhasePart1},
		{"I study engineering at university.", types.PhasePart2},
		{"I remember a long train journey through the mountains.", types.PhasePart3},
		{"Travel has become much cheaper and faster.", types.PhaseComplete},
	}

	var last *TurnResult
	for i, ans := range answers {
		last, err = fx.svc.Turn(dbc, fx.attempt, ans.text)
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if last.Phase != ans.wantPhase {
			t.Fatalf("turn %d: expected phase %s, got %s", i+1, ans.wantPhase, last.Phase)
		}
		if last.TurnIndex != i+1 {
			t.Fatalf("turn %d: expected turn index %d, got %d", i+1, i+1, last.TurnIndex)
		}
	}

	if !last.Completed {
		t.Fatalf("expected completed exam")
	}
	if last.Score == nil {
		t.Fatalf("expected score on completion")
	}
	if len(fx.scoring.scored) != 1 || fx.scoring.scored[0] != fx.attempt.ID {
		t.Fatalf("expected exactly one scoring call for the attempt")
	}
	if got := strings.Count(fx.scoring.lastTxt, "candidate:"); got != len(answers) {
		t.Fatalf("expected %d candidate turns in transcript, got %d", len(answers), got)
	}

	if _, err := fx.svc.Turn(dbc, fx.attempt, "one more"); err == nil {
		t.Fatalf("expected error on turn after completion")
	}
}

func TestConversationSevereViolationAborts(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); err != nil {
		t.Fatalf("start: %v", err)
	}

	const bad = "something deeply off limits"
	fx.mod.verdicts = map[string]apperr.ViolationSeverity{bad: apperr.SeveritySevere}

	result, err := fx.svc.Turn(dbc, fx.attempt, bad)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !result.Aborted || result.Phase != types.PhaseAborted {
		t.Fatalf("expected aborted result, got %+v", result)
	}

	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptAbandoned {
		t.Fatalf("expected abandoned attempt, got %s", stored.Status)
	}
	if len(fx.scoring.scored) != 0 {
		t.Fatalf("aborted attempt must not be scored")
	}

	kinds := fx.events.kinds()
	if len(kinds) != 1 || kinds[0] != types.EventAttemptAborted {
		t.Fatalf("expected attempt_aborted event, got %v", kinds)
	}

	if _, err := fx.svc.Turn(dbc, fx.attempt, "hello again"); err == nil {
		t.Fatalf("expected error on turn after abort")
	}
}

func TestConversationMildViolationSteers(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); err != nil {
		t.Fatalf("start: %v", err)
	}

	const edgy = "a mildly inappropriate answer"
	fx.mod.verdicts = map[string]apperr.ViolationSeverity{edgy: apperr.SeverityMild}

	result, err := fx.svc.Turn(dbc, fx.attempt, edgy)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if result.Phase != types.PhasePart1 {
		t.Fatalf("mild violation must not advance the phase, got %s", result.Phase)
	}
	if result.TurnIndex != 0 {
		t.Fatalf("mild violation must not consume a turn, got index %d", result.TurnIndex)
	}
	if result.ExaminerText == "" {
		t.Fatalf("expected steering response")
	}

	// A clean answer afterwards proceeds normally.
	next, err := fx.svc.Turn(dbc, fx.attempt, "I live in the capital city.")
	if err != nil {
		t.Fatalf("clean turn after steering: %v", err)
	}
	if next.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", next.TurnIndex)
	}
}

func TestConversationResumeFromCheckpoint(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.ai.texts = []string{"And what do you do in your free time?"}
	if _, err := fx.svc.Turn(dbc, fx.attempt, "I live by the sea."); err != nil {
		t.Fatalf("turn: %v", err)
	}

	resumed, err := fx.svc.Resume(dbc, fx.attempt)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Phase != types.PhasePart1 {
		t.Fatalf("expected part1, got %s", resumed.Phase)
	}
	if resumed.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", resumed.TurnIndex)
	}
	if resumed.ExaminerText != "And what do you do in your free time?" {
		t.Fatalf("expected last examiner question, got %q", resumed.ExaminerText)
	}
}

func TestConversationStartFailureLeavesResumableState(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	fx.ai.textErr = errors.New("upstream down")
	_, err := fx.svc.Start(dbc, fx.attempt, fx.question)
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error from start, got %v", err)
	}

	// The debit-side effects are durable even though the opening failed.
	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptInProgress {
		t.Fatalf("expected in_progress after failed opening, got %s", stored.Status)
	}
	state, _ := fx.convRepo.GetByAttemptID(dbc, fx.attempt.ID)
	if state == nil {
		t.Fatalf("expected conversation state despite failed opening")
	}

	fx.ai.textErr = nil
	resumed, err := fx.svc.Resume(dbc, fx.attempt)
	if err != nil {
		t.Fatalf("resume after recovery: %v", err)
	}
	if resumed.ExaminerText == "" {
		t.Fatalf("expected opening examiner text on resume")
	}
	if resumed.Phase != types.PhasePart1 || resumed.TurnIndex != 0 {
		t.Fatalf("expected part1 at turn 0, got %s/%d", resumed.Phase, resumed.TurnIndex)
	}

	next, err := fx.svc.Turn(dbc, fx.attempt, "I live in a quiet suburb.")
	if err != nil {
		t.Fatalf("turn after recovery: %v", err)
	}
	if next.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", next.TurnIndex)
	}
}

func TestConversationTurnGeneratesMissingOpening(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	fx.ai.textErr = errors.New("upstream down")
	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error from start, got %v", err)
	}

	// The candidate answers without ever resuming; the opening is filled
	// in before their answer is taken.
	fx.ai.textErr = nil
	result, err := fx.svc.Turn(dbc, fx.attempt, "I live near the river.")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if result.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", result.TurnIndex)
	}

	state, _ := fx.convRepo.GetByAttemptID(dbc, fx.attempt.ID)
	turns, err := state.DecodeTurns()
	if err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected opening, answer and next question, got %d turns", len(turns))
	}
	if turns[0].Role != types.TurnRoleExaminer || turns[1].Role != types.TurnRoleCandidate {
		t.Fatalf("expected examiner opening before the candidate answer")
	}
}

func TestConversationRepeatedUpstreamFailureAbandons(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.ai.textErr = errors.New("upstream down")

	_, err := fx.svc.Turn(dbc, fx.attempt, "first answer")
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptInProgress {
		t.Fatalf("one failed turn must not abandon the attempt")
	}

	_, err = fx.svc.Turn(dbc, fx.attempt, "second answer")
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	stored, _ = fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptAbandoned {
		t.Fatalf("expected abandoned after second consecutive failure, got %s", stored.Status)
	}
}

func TestConversationAbandon(t *testing.T) {
	fx := newConvFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	if _, err := fx.svc.Start(dbc, fx.attempt, fx.question); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.attempt.Status = types.AttemptInProgress

	if err := fx.svc.Abandon(dbc, fx.attempt, "abandoned"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptAbandoned {
		t.Fatalf("expected abandoned, got %s", stored.Status)
	}
	state, _ := fx.convRepo.GetByAttemptID(dbc, fx.attempt.ID)
	if state.Phase != types.PhaseAborted {
		t.Fatalf("expected aborted conversation, got %s", state.Phase)
	}
	if len(fx.scoring.scored) != 0 {
		t.Fatalf("abandoned attempt must not be scored")
	}
}
