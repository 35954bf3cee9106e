package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

// Evaluator judges submitted code against a challenge.
type Evaluator struct {
	client *Client
	logger *zap.Logger
}

// NewEvaluator creates an evaluator; a nil or disabled client yields an incorrect verdict.
func NewEvaluator(client *Client, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{client: client, logger: logger}
}

type rawEvaluation struct {
	IsCorrect       *bool    `json:"isCorrect"`
	Feedback        string   `json:"feedback"`
	TimeComplexity  string   `json:"timeComplexity"`
	SpaceComplexity string   `json:"spaceComplexity"`
	Score           *float64 `json:"score"`
}

// Evaluate never fails; on any error the verdict is incorrect with score 0.
func (e *Evaluator) Evaluate(ctx context.Context, code string, challenge models.Challenge) models.Evaluation {
	if !e.client.Enabled() {
		return failedEvaluation("AI evaluation is not configured.")
	}
	prompt, err := evaluationPrompt(code, challenge)
	if err != nil {
		return failedEvaluation("Evaluation failed.")
	}

	var raw rawEvaluation
	err = e.client.generate(ctx, prompt, &raw)
	if err == nil && (raw.IsCorrect == nil || raw.Score == nil) {
		err = errors.New("evaluation missing isCorrect or score")
	}
	if err != nil {
		e.logger.Warn("code evaluation failed", zap.Error(err))
		return failedEvaluation("Evaluation failed. Please try again.")
	}

	return models.Evaluation{
		IsCorrect:       *raw.IsCorrect,
		Feedback:        raw.Feedback,
		TimeComplexity:  raw.TimeComplexity,
		SpaceComplexity: raw.SpaceComplexity,
		Score:           clampScore(*raw.Score),
	}
}

func clampScore(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func failedEvaluation(feedback string) models.Evaluation {
	return models.Evaluation{
		IsCorrect:       false,
		Feedback:        feedback,
		TimeComplexity:  "N/A",
		SpaceComplexity: "N/A",
		Score:           0,
	}
}

func evaluationPrompt(code string, challenge models.Challenge) (string, error) {
	examples, err := json.MarshalIndent(challenge.Examples, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are an expert code evaluator for a competitive coding arena. Decide whether the submitted code correctly solves the problem.

Guidelines:
- Accept any approach that logically solves the problem.
- Ignore naming, formatting and style.
- Consider edge cases without being overly strict.

Challenge:
Title: %s
Description: %s
Examples:
%s

Submitted code:
%s

Return ONLY valid JSON:
{
  "isCorrect": boolean,
  "feedback": "at most 3 sentences",
  "timeComplexity": "e.g. O(N)",
  "spaceComplexity": "e.g. O(1)",
  "score": 0-100
}`, challenge.Title, challenge.Description, examples, "```\n"+code+"\n```"), nil
}
