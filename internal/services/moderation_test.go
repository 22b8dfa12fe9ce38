package services

import (
	"context"
	"testing"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

func newModerationService(t *testing.T, ai *fakeAI) *moderationService {
	t.Helper()
	return &moderationService{
		log:             testLogger(t),
		client:          ai,
		mildThreshold:   0.4,
		severeThreshold: 0.85,
	}
}

func TestModerationClassification(t *testing.T) {
	cases := []struct {
		name         string
		result       openai.ModerationResult
		wantSeverity apperr.ViolationSeverity
		wantCategory string
	}{
		{
			name:         "not flagged",
			result:       openai.ModerationResult{Flagged: false},
			wantSeverity: apperr.SeverityClean,
		},
		{
			name: "flagged below mild threshold",
			result: openai.ModerationResult{
				Flagged:        true,
				Categories:     map[string]bool{"harassment": true},
				CategoryScores: map[string]float64{"harassment": 0.2},
			},
			wantSeverity: apperr.SeverityClean,
		},
		{
			name: "mild",
			result: openai.ModerationResult{
				Flagged:        true,
				Categories:     map[string]bool{"harassment": true},
				CategoryScores: map[string]float64{"harassment": 0.6},
			},
			wantSeverity: apperr.SeverityMild,
			wantCategory: "harassment",
		},
		{
			name: "severe by score",
			result: openai.ModerationResult{
				Flagged:        true,
				Categories:     map[string]bool{"violence": true},
				CategoryScores: map[string]float64{"violence": 0.93},
			},
			wantSeverity: apperr.SeveritySevere,
			wantCategory: "violence",
		},
		{
			name: "always severe category at low score",
			result: openai.ModerationResult{
				Flagged:        true,
				Categories:     map[string]bool{"self-harm/intent": true},
				CategoryScores: map[string]float64{"self-harm/intent": 0.5},
			},
			wantSeverity: apperr.SeveritySevere,
			wantCategory: "self-harm/intent",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{moderate: func(string) (openai.ModerationResult, error) {
				return tc.result, nil
			}}
			svc := newModerationService(t, ai)

			severity, category, err := svc.Check(context.Background(), "some answer")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if severity != tc.wantSeverity {
				t.Fatalf("expected severity %q, got %q", tc.wantSeverity, severity)
			}
			if category != tc.wantCategory {
				t.Fatalf("expected category %q, got %q", tc.wantCategory, category)
			}
		})
	}
}

func TestModerationEmptyTextSkipsUpstream(t *testing.T) {
	called := false
	ai := &fakeAI{moderate: func(string) (openai.ModerationResult, error) {
		called = true
		return openai.ModerationResult{}, nil
	}}
	svc := newModerationService(t, ai)

	severity, _, err := svc.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if severity != apperr.SeverityClean {
		t.Fatalf("expected clean, got %q", severity)
	}
	if called {
		t.Fatalf("empty text must not call the moderation endpoint")
	}
}
