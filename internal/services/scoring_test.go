package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
)

func goodScoreOutput() map[string]any {
	return map[string]any{
		"overall_band": 6.5,
		"criteria": map[string]any{
			"task_achievement":               6.0,
			"coherence_and_cohesion":         6.5,
			"lexical_resource":               7.0,
			"grammatical_range_and_accuracy": 6.0,
		},
		"strengths":    []any{"Clear paragraph structure."},
		"improvements": []any{"Use a wider range of linking devices."},
	}
}

type scoringFixture struct {
	svc      *scoringService
	ai       *fakeAI
	scores   *fakeScoreRepo
	attempts *fakeAttemptRepo
	events   *fakeEventRepo
	attempt  *types.AssessmentAttempt
}

func newScoringFixture(t *testing.T) *scoringFixture {
	t.Helper()

	ai := &fakeAI{jsonOut: goodScoreOutput()}
	scores := newFakeScoreRepo()
	attempts := newFakeAttemptRepo()
	events := &fakeEventRepo{}

	attempt := &types.AssessmentAttempt{
		ID:             uuid.New(),
		EntitlementID:  uuid.New(),
		UserID:         uuid.New(),
		QuestionID:     uuid.New(),
		AssessmentType: types.AcademicWriting,
		Status:         types.AttemptInProgress,
		StartedAt:      time.Now().UTC(),
	}
	if err := attempts.Create(testDBC(attempt.UserID), attempt); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	svc := &scoringService{
		log:         testLogger(t),
		ai:          ai,
		scoreRepo:   scores,
		attemptRepo: attempts,
		eventRepo:   events,
	}
	return &scoringFixture{svc: svc, ai: ai, scores: scores, attempts: attempts, events: events, attempt: attempt}
}

func TestScoreTranscriptSuccess(t *testing.T) {
	fx := newScoringFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	record, err := fx.svc.ScoreTranscript(dbc, fx.attempt, "My essay about technology in education.")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if record.OverallBand != 6.5 {
		t.Fatalf("expected band 6.5, got %v", record.OverallBand)
	}
	if fx.ai.jsonCalls != 1 {
		t.Fatalf("expected one model call, got %d", fx.ai.jsonCalls)
	}

	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptScored {
		t.Fatalf("expected scored status, got %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	persisted, _ := fx.scores.GetByAttemptID(dbc, fx.attempt.ID)
	if persisted == nil {
		t.Fatalf("expected persisted score record")
	}
}

func TestScoreTranscriptRetriesOnceOnMalformedOutput(t *testing.T) {
	fx := newScoringFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	fx.ai.jsonSeq = []map[string]any{
		{"overall_band": "seven"},
		goodScoreOutput(),
	}

	record, err := fx.svc.ScoreTranscript(dbc, fx.attempt, "An essay.")
	if err != nil {
		t.Fatalf("score with retry: %v", err)
	}
	if record.OverallBand != 6.5 {
		t.Fatalf("expected band from retry, got %v", record.OverallBand)
	}
	if fx.ai.jsonCalls != 2 {
		t.Fatalf("expected exactly two model calls, got %d", fx.ai.jsonCalls)
	}
}

func TestScoreTranscriptFailsAfterSecondMalformedOutput(t *testing.T) {
	fx := newScoringFixture(t)
	dbc := testDBC(fx.attempt.UserID)

	fx.ai.jsonOut = map[string]any{"overall_band": 11.0}

	_, err := fx.svc.ScoreTranscript(dbc, fx.attempt, "An essay.")
	if !errors.Is(err, apperr.ErrScoringFailed) {
		t.Fatalf("expected scoring failed, got %v", err)
	}
	if fx.ai.jsonCalls != 2 {
		t.Fatalf("expected exactly two model calls, got %d", fx.ai.jsonCalls)
	}

	stored, _ := fx.attempts.GetByID(dbc, fx.attempt.ID)
	if stored.Status != types.AttemptScoringFailed {
		t.Fatalf("expected scoring_failed status, got %s", stored.Status)
	}
	kinds := fx.events.kinds()
	if len(kinds) != 1 || kinds[0] != types.EventScoringFailed {
		t.Fatalf("expected scoring_failed event, got %v", kinds)
	}
}

func TestParseScoreOutputValidation(t *testing.T) {
	criteria := writingCriteria

	if _, err := parseScoreOutput(goodScoreOutput(), criteria); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}

	bad := goodScoreOutput()
	bad["overall_band"] = 6.3
	if _, err := parseScoreOutput(bad, criteria); err == nil {
		t.Fatalf("expected rejection of non half-band value")
	}

	bad = goodScoreOutput()
	delete(bad["criteria"].(map[string]any), "lexical_resource")
	if _, err := parseScoreOutput(bad, criteria); err == nil {
		t.Fatalf("expected rejection of missing criterion")
	}

	bad = goodScoreOutput()
	bad["strengths"] = "not an array"
	if _, err := parseScoreOutput(bad, criteria); err == nil {
		t.Fatalf("expected rejection of non-array strengths")
	}
}

func TestValidBand(t *testing.T) {
	for _, v := range []float64{0, 0.5, 6, 6.5, 9} {
		if !validBand(v) {
			t.Fatalf("band %v should be valid", v)
		}
	}
	for _, v := range []float64{-0.5, 9.5, 6.25, 7.1} {
		if validBand(v) {
			t.Fatalf("band %v should be invalid", v)
		}
	}
}
