package openai

import (
	"context"
	"fmt"
)

// ModerationResult carries the flagged categories and their scores for a
// single piece of candidate or examiner text.
type ModerationResult struct {
	Flagged        bool
	Categories     map[string]bool
	CategoryScores map[string]float64
}

// TopCategory returns the flagged category with the highest score.
func (m ModerationResult) TopCategory() (string, float64) {
	var best string
	var bestScore float64
	for name, score := range m.CategoryScores {
		if m.Categories[name] && score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best, bestScore
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

func (c *client) Moderate(ctx context.Context, input string) (ModerationResult, error) {
	req := moderationRequest{
		Model: c.moderationModel,
		Input: input,
	}

	var resp moderationResponse
	if err := c.do(ctx, "POST", "/v1/moderations", &req, &resp); err != nil {
		return ModerationResult{}, err
	}
	if len(resp.Results) == 0 {
		return ModerationResult{}, fmt.Errorf("empty moderation response")
	}

	r := resp.Results[0]
	return ModerationResult{
		Flagged:        r.Flagged,
		Categories:     r.Categories,
		CategoryScores: r.CategoryScores,
	}, nil
}
