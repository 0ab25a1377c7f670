package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/peupajoh/peupajoh/pkg/models"
)

const extractSystemPrompt = `You are a nutrition assistant for Indonesian food tracking.
Extract every food or drink the user mentions from their message.
Respond with a JSON array only, no prose. Each element:
{
  "name": "english-friendly name",
  "local_name": "indonesian name as the user said it",
  "meal_type": "breakfast|lunch|dinner|snack or empty if unclear",
  "quantity": 1.0,
  "portion_description": "the user's own portion wording, if any",
  "portion_grams": 0,
  "needs_clarification": false
}
Set needs_clarification to true when the mention is too vague to look up
(e.g. "some porridge" without which kind). Set portion_grams only when
the user gave an explicit mass. An empty message yields [].`

const classifySystemPrompt = `You compare a user's food phrase against database food names.
Answer with exactly one word:
- exact_match: the user's phrase clearly means the top candidate.
- needs_clarification: the phrase is ambiguous among the candidates.
- needs_deeper_search: the phrase is a real food but none of the candidates is it.`

const adviseSystemPrompt = `You are an Indonesian nutrition advisor. Given a day's meals with
their nutrition totals, respond with JSON only:
{
  "overall_assessment": "2-3 sentences",
  "strengths": ["..."],
  "areas_for_improvement": ["..."],
  "recommendations": ["..."],
  "macro_balance_score": 7,
  "meal_distribution_score": 6
}
Scores are integers 1-10. Keep the tone encouraging and concrete.`

// Extract pulls food mentions out of a free-form chat message.
func (c *Client) Extract(ctx context.Context, message string) ([]models.ExtractedFoodItem, error) {
	content, err := c.complete(ctx, []ChatMessage{
		{Role: "system", Content: extractSystemPrompt},
		{Role: "user", Content: message},
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var items []models.ExtractedFoodItem
	if err := json.Unmarshal([]byte(stripFences(content)), &items); err != nil {
		return nil, fmt.Errorf("extract: parse items: %w", err)
	}
	return items, nil
}

// ClassifyMatch decides what to do with multiple fuzzy candidates.
// An unrecognized answer defaults to needs_clarification, the safe
// choice: the user gets asked instead of being silently mismatched.
func (c *Client) ClassifyMatch(ctx context.Context, query string, candidates []string) (models.OutcomeKind, error) {
	prompt := fmt.Sprintf("User phrase: %q\nCandidates, best first:\n- %s",
		query, strings.Join(candidates, "\n- "))

	content, err := c.complete(ctx, []ChatMessage{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(stripFences(content))) {
	case string(models.OutcomeExactMatch):
		return models.OutcomeExactMatch, nil
	case string(models.OutcomeNeedsDeeperSearch):
		return models.OutcomeNeedsDeeperSearch, nil
	default:
		return models.OutcomeNeedsClarification, nil
	}
}

// Advise generates qualitative advice for a day's aggregated meals.
func (c *Client) Advise(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary) (*models.NutritionAdvice, error) {
	content, err := c.complete(ctx, adviseMessages(meals, summary))
	if err != nil {
		return nil, fmt.Errorf("advise: %w", err)
	}
	return parseAdvice(content)
}

// AdviseStream is Advise with incremental token delivery: fn receives
// each raw content token as it arrives, and the accumulated content is
// parsed into the structured advice at the end.
func (c *Client) AdviseStream(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary, fn func(token string) error) (*models.NutritionAdvice, error) {
	content, err := c.completeStream(ctx, adviseMessages(meals, summary), fn)
	if err != nil {
		return nil, fmt.Errorf("advise: %w", err)
	}
	return parseAdvice(content)
}

func adviseMessages(meals models.DailyMealData, summary models.DailyNutritionSummary) []ChatMessage {
	payload, _ := json.Marshal(map[string]any{
		"meals":   meals,
		"summary": summary,
	})

	return []ChatMessage{
		{Role: "system", Content: adviseSystemPrompt},
		{Role: "user", Content: string(payload)},
	}
}

func parseAdvice(content string) (*models.NutritionAdvice, error) {
	var advice models.NutritionAdvice
	if err := json.Unmarshal([]byte(stripFences(content)), &advice); err != nil {
		return nil, fmt.Errorf("advise: parse advice: %w", err)
	}
	advice.MacroBalanceScore = clampScore(advice.MacroBalanceScore)
	advice.MealDistributionScore = clampScore(advice.MealDistributionScore)
	return &advice, nil
}

// clampScore forces a score into [1,10].
func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
