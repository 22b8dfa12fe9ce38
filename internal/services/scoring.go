package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/exam"
	"github.com/bandforge/ielts-backend/internal/data/repos/user"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

var writingCriteria = []string{
	"task_achievement",
	"coherence_and_cohesion",
	"lexical_resource",
	"grammatical_range_and_accuracy",
}

var speakingCriteria = []string{
	"fluency_and_coherence",
	"lexical_resource",
	"grammatical_range_and_accuracy",
	"pronunciation",
}

// ScoringService produces the band record for a finished attempt. The
// model gets exactly one stricter retry on malformed output; after that
// the attempt is parked as scoring_failed and the error surfaces as
// apperr.ErrScoringFailed.
type ScoringService interface {
	ScoreTranscript(dbc dbctx.Context, attempt *types.AssessmentAttempt, transcript string) (*types.ScoreRecord, error)
	GetResult(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error)
}

type scoringService struct {
	db          *gorm.DB
	log         *logger.Logger
	ai          openai.Client
	scoreRepo   exam.ScoreRepo
	attemptRepo exam.AttemptRepo
	eventRepo   user.UserEventRepo
}

func NewScoringService(
	db *gorm.DB,
	baseLog *logger.Logger,
	ai openai.Client,
	scoreRepo exam.ScoreRepo,
	attemptRepo exam.AttemptRepo,
	eventRepo user.UserEventRepo,
) ScoringService {
	return &scoringService{
		db:          db,
		log:         baseLog.With("service", "ScoringService"),
		ai:          ai,
		scoreRepo:   scoreRepo,
		attemptRepo: attemptRepo,
		eventRepo:   eventRepo,
	}
}

type scoreOutput struct {
	OverallBand  float64
	Criteria     map[string]float64
	Strengths    []string
	Improvements []string
}

func (ss *scoringService) ScoreTranscript(dbc dbctx.Context, attempt *types.AssessmentAttempt, transcript string) (*types.ScoreRecord, error) {
	if attempt == nil {
		return nil, fmt.Errorf("%w: attempt required", apperr.ErrValidation)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("%w: empty transcript", apperr.ErrValidation)
	}

	criteria := writingCriteria
	if attempt.AssessmentType.IsSpeaking() {
		criteria = speakingCriteria
	}

	out, err := ss.generate(dbc, attempt, transcript, criteria, false)
	if err != nil {
		ss.log.Warn("Scoring attempt failed, retrying with strict instructions",
			"attempt_id", attempt.ID.String(),
			"error", err.Error(),
		)
		out, err = ss.generate(dbc, attempt, transcript, criteria, true)
	}
	if err != nil {
		if markErr := ss.markFailed(dbc, attempt, err); markErr != nil {
			ss.log.Error("Failed to mark attempt scoring_failed", "error", markErr)
		}
		return nil, apperr.ErrScoringFailed
	}

	record, err := ss.persist(dbc, attempt, out)
	if err != nil {
		return nil, err
	}

	ss.log.Info("Attempt scored",
		"attempt_id", attempt.ID.String(),
		"overall_band", record.OverallBand,
	)
	return record, nil
}

func (ss *scoringService) GetResult(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error) {
	record, err := ss.scoreRepo.GetByAttemptID(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: no score for attempt", apperr.ErrNotFound)
	}
	return record, nil
}

func (ss *scoringService) generate(dbc dbctx.Context, attempt *types.AssessmentAttempt, transcript string, criteria []string, strict bool) (*scoreOutput, error) {
	system := scoringSystemPrompt(attempt.AssessmentType, criteria, strict)
	schema := scoringSchema(criteria)

	raw, err := ss.ai.GenerateJSON(dbc.Ctx, system, transcript, "band_score", schema)
	if err != nil {
		return nil, err
	}
	return parseScoreOutput(raw, criteria)
}

func (ss *scoringService) persist(dbc dbctx.Context, attempt *types.AssessmentAttempt, out *scoreOutput) (*types.ScoreRecord, error) {
	criteriaJSON, err := json.Marshal(out.Criteria)
	if err != nil {
		return nil, err
	}
	strengthsJSON, err := json.Marshal(out.Strengths)
	if err != nil {
		return nil, err
	}
	improvementsJSON, err := json.Marshal(out.Improvements)
	if err != nil {
		return nil, err
	}

	record := &types.ScoreRecord{
		ID:           uuid.New(),
		AttemptID:    attempt.ID,
		OverallBand:  out.OverallBand,
		Criteria:     datatypes.JSON(criteriaJSON),
		Strengths:    datatypes.JSON(strengthsJSON),
		Improvements: datatypes.JSON(improvementsJSON),
	}

	run := func(inner dbctx.Context) error {
		if err := ss.scoreRepo.Create(inner, record); err != nil {
			return err
		}
		now := time.Now().UTC()
		return ss.attemptRepo.SetStatus(inner, attempt.ID, types.AttemptScored, &now)
	}

	if dbc.Tx != nil {
		if err := run(dbc); err != nil {
			return nil, err
		}
		return record, nil
	}

	if err := ss.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	}); err != nil {
		return nil, err
	}
	return record, nil
}

func (ss *scoringService) markFailed(dbc dbctx.Context, attempt *types.AssessmentAttempt, cause error) error {
	run := func(inner dbctx.Context) error {
		now := time.Now().UTC()
		if err := ss.attemptRepo.SetStatus(inner, attempt.ID, types.AttemptScoringFailed, &now); err != nil {
			return err
		}
		return ss.eventRepo.Append(inner, attempt.UserID, types.EventScoringFailed, map[string]any{
			"attempt_id": attempt.ID.String(),
			"error":      cause.Error(),
		})
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	return ss.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	})
}

func scoringSystemPrompt(t types.AssessmentType, criteria []string, strict bool) string {
	var b strings.Builder
	b.WriteString("You are a certified IELTS examiner. Score the candidate's ")
	if t.IsSpeaking() {
		b.WriteString("speaking exam transcript")
	} else {
		b.WriteString("written response")
	}
	b.WriteString(" for the ")
	b.WriteString(t.String())
	b.WriteString(" assessment.\n")
	b.WriteString("Rate each criterion and the overall result on the IELTS band scale from 0 to 9 in half-band steps.\n")
	b.WriteString("Criteria: ")
	b.WriteString(strings.Join(criteria, ", "))
	b.WriteString(".\n")
	b.WriteString("List concrete strengths and concrete improvements, each as short plain sentences.")
	if strict {
		b.WriteString("\nYour previous answer did not match the required schema. Respond with ONLY the JSON object. Every band value must be a number between 0 and 9 in increments of 0.5. Do not include any other text.")
	}
	return b.String()
}

func scoringSchema(criteria []string) map[string]any {
	criteriaProps := map[string]any{}
	for _, name := range criteria {
		criteriaProps[name] = map[string]any{"type": "number"}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"overall_band": map[string]any{"type": "number"},
			"criteria": map[string]any{
				"type":                 "object",
				"properties":           criteriaProps,
				"required":             criteria,
				"additionalProperties": false,
			},
			"strengths": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"improvements": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required":             []string{"overall_band", "criteria", "strengths", "improvements"},
		"additionalProperties": false,
	}
}

func parseScoreOutput(raw map[string]any, criteria []string) (*scoreOutput, error) {
	overall, ok := numberField(raw, "overall_band")
	if !ok || !validBand(overall) {
		return nil, fmt.Errorf("invalid overall_band in model output")
	}

	criteriaRaw, ok := raw["criteria"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing criteria object in model output")
	}
	parsed := make(map[string]float64, len(criteria))
	for _, name := range criteria {
		band, ok := numberField(criteriaRaw, name)
		if !ok || !validBand(band) {
			return nil, fmt.Errorf("invalid band for criterion %s", name)
		}
		parsed[name] = band
	}

	strengths, err := stringSlice(raw, "strengths")
	if err != nil {
		return nil, err
	}
	improvements, err := stringSlice(raw, "improvements")
	if err != nil {
		return nil, err
	}

	return &scoreOutput{
		OverallBand:  overall,
		Criteria:     parsed,
		Strengths:    strengths,
		Improvements: improvements,
	}, nil
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// validBand accepts 0..9 in half-band steps.
func validBand(v float64) bool {
	if v < 0 || v > 9 {
		return false
	}
	doubled := v * 2
	return doubled == math.Trunc(doubled)
}

func stringSlice(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing %s in model output", key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not an array", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s contains a non-string item", key)
		}
		out = append(out, s)
	}
	return out, nil
}
