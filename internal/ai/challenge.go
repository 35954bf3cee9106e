package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

// ChallengeGenerator produces a round's challenge. It satisfies arena.ChallengeSource.
type ChallengeGenerator struct {
	client *Client
	logger *zap.Logger
}

// NewChallengeGenerator creates a generator; a nil or disabled client always yields the fallback.
func NewChallengeGenerator(client *Client, logger *zap.Logger) *ChallengeGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChallengeGenerator{client: client, logger: logger}
}

// Generate never fails.
func (g *ChallengeGenerator) Generate(ctx context.Context, difficulty string) models.Challenge {
	if !g.client.Enabled() {
		return FallbackChallenge()
	}
	var ch models.Challenge
	err := g.client.generate(ctx, challengePrompt(difficulty), &ch)
	if err == nil {
		err = validateChallenge(ch)
	}
	if err != nil {
		g.logger.Warn("challenge generation failed, using fallback", zap.String("difficulty", difficulty), zap.Error(err))
		return FallbackChallenge()
	}
	return ch
}

func validateChallenge(ch models.Challenge) error {
	if ch.Title == "" || ch.Description == "" || len(ch.Examples) == 0 {
		return errors.New("challenge missing title, description or examples")
	}
	return nil
}

// FallbackChallenge is served whenever generation is unavailable.
func FallbackChallenge() models.Challenge {
	return models.Challenge{
		Title: "Two Sum Problem",
		Description: "Given an array of integers nums and an integer target, return indices of the two numbers such that they add up to target.\n\n" +
			"You may assume that each input would have exactly one solution, and you may not use the same element twice.\n\n" +
			"You can return the answer in any order.",
		Examples: []models.Example{
			{Input: "nums = [2,7,11,15], target = 9", Output: "[0,1]", Explanation: "Because nums[0] + nums[1] == 9, we return [0, 1]."},
			{Input: "nums = [3,2,4], target = 6", Output: "[1,2]", Explanation: "Because nums[1] + nums[2] == 6, we return [1, 2]."},
		},
	}
}

func challengePrompt(difficulty string) string {
	return fmt.Sprintf(`Generate a unique coding challenge for a multiplayer coding arena.

Difficulty: %s

Difficulty guidelines:
- easy: simple logic, no advanced data structures or recursion; solvable by a beginner in under 10 minutes.
- medium: basic data structures (arrays, hash maps, sets) or combining 2-3 steps; 20-30 minutes.
- hard: trees, graphs, heaps, recursion or dynamic programming with tricky edge cases; 30+ minutes.

Requirements:
- Solvable in JavaScript.
- A clear problem description.
- 2-3 examples with input, output and explanation. Verify every example output is correct.
- Avoid overused problems unless the difficulty is easy.

Return ONLY valid JSON:
{
  "title": "string",
  "description": "string",
  "examples": [{"input": "string", "output": "string", "explanation": "string"}]
}`, difficulty)
}
