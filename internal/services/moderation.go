package services

import (
	"context"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/envutil"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

// ModerationService maps raw moderation scores onto the three-way verdict
// the exam room acts on. Clean passes, mild gets a steering response,
// severe aborts the attempt.
type ModerationService interface {
	Check(ctx context.Context, text string) (apperr.ViolationSeverity, string, error)
}

type moderationService struct {
	log             *logger.Logger
	client          openai.Client
	mildThreshold   float64
	severeThreshold float64
}

func NewModerationService(baseLog *logger.Logger, client openai.Client) ModerationService {
	return &moderationService{
		log:             baseLog.With("service", "ModerationService"),
		client:          client,
		mildThreshold:   envutil.Float("MODERATION_MILD_THRESHOLD", 0.4),
		severeThreshold: envutil.Float("MODERATION_SEVERE_THRESHOLD", 0.85),
	}
}

func (ms *moderationService) Check(ctx context.Context, text string) (apperr.ViolationSeverity, string, error) {
	if text == "" {
		return apperr.SeverityClean, "", nil
	}

	result, err := ms.client.Moderate(ctx, text)
	if err != nil {
		return "", "", err
	}

	severity, category := ms.classify(result)
	if severity != apperr.SeverityClean {
		ms.log.Warn("Content flagged",
			"severity", string(severity),
			"category", category,
		)
	}
	return severity, category, nil
}

func (ms *moderationService) classify(result openai.ModerationResult) (apperr.ViolationSeverity, string) {
	if !result.Flagged {
		return apperr.SeverityClean, ""
	}

	category, score := result.TopCategory()
	switch {
	case score >= ms.severeThreshold || alwaysSevere(category):
		return apperr.SeveritySevere, category
	case score >= ms.mildThreshold:
		return apperr.SeverityMild, category
	default:
		return apperr.SeverityClean, ""
	}
}

// Categories that abort regardless of score.
func alwaysSevere(category string) bool {
	switch category {
	case "sexual/minors", "self-harm/intent", "self-harm/instructions":
		return true
	}
	return false
}
