package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
)

// aiCategorizeCostCents is the estimated cost per model call, charged
// against the shared monthly budget.
const aiCategorizeCostCents = 2

// AIClient sends a prompt to the language model and returns its text
// response.
type AIClient interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// UsageRepository tracks external API spend per month.
type UsageRepository interface {
	IncrementAPIUsage(ctx context.Context, month, service string, requests, costCents int) error
	GetMonthlyCost(ctx context.Context, month string) (int, error)
}

// AICategorization is a model-suggested category for one transaction.
type AICategorization struct {
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const aiSystemPrompt = "You are a personal finance categorizer. Given a bank transaction, " +
	"assign it to the most appropriate category from the list provided. " +
	"Return ONLY a JSON object with these fields:\n" +
	"  - \"category_id\": the best matching category ID from the list\n" +
	"  - \"confidence\": your confidence from 0.0 to 1.0\n" +
	"  - \"reasoning\": brief explanation (one sentence)\n" +
	"If you cannot determine a category, set category_id to \"uncategorized\" " +
	"and confidence to 0.0.\n" +
	"Return ONLY the JSON object, no other text."

// CategorizeWithAI asks the model to categorize one transaction. Returns
// nil (without error) when the monthly budget is exhausted, the model
// declines, or the response does not validate against the config.
func CategorizeWithAI(ctx context.Context, txn *domain.Transaction, cfg *config.Config, ai AIClient, repo UsageRepository) (*AICategorization, error) {
	log := logger.FromContext(ctx)
	month := fmt.Sprintf("%04d-%02d", txn.Date.Year, int(txn.Date.Month))

	cost, err := repo.GetMonthlyCost(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("CategorizeWithAI: checking budget: %w", err)
	}
	if cost >= cfg.MonthlyBudgetCents() {
		log.Warn().
			Int("cost_cents", cost).
			Int("budget_cents", cfg.MonthlyBudgetCents()).
			Msg("monthly model budget exceeded, skipping categorization")
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Transaction: %s\nAmount: $%.2f\nDate: %s\nAccount: %s\n\nAvailable categories: %s",
		txn.RawDescription,
		math.Abs(txn.Amount),
		txn.Date.String(),
		txn.AccountID,
		strings.Join(cfg.CategoryIDList(), ", "),
	)

	response, err := ai.Generate(ctx, aiSystemPrompt, prompt)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", txn.ID).Msg("model categorization failed")
		return nil, nil
	}

	if err := repo.IncrementAPIUsage(ctx, month, "claude_categorize", 1, aiCategorizeCostCents); err != nil {
		return nil, fmt.Errorf("CategorizeWithAI: recording usage: %w", err)
	}

	return parseAIResponse(ctx, response, cfg), nil
}

func parseAIResponse(ctx context.Context, response string, cfg *config.Config) *AICategorization {
	log := logger.FromContext(ctx)
	text := cleanModelJSON(response)

	var raw struct {
		CategoryID string          `json:"category_id"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Error().Str("response", truncate(text, 200)).Msg("failed to parse model categorization response")
		return nil
	}

	if raw.CategoryID == "" || raw.CategoryID == "uncategorized" {
		return nil
	}
	if !cfg.ValidCategoryIDs()[raw.CategoryID] {
		log.Warn().Str("category_id", raw.CategoryID).Msg("model returned category not in config")
		return nil
	}

	confidence := 0.5
	if len(raw.Confidence) > 0 {
		var f float64
		if err := json.Unmarshal(raw.Confidence, &f); err == nil {
			confidence = f
		}
	}
	confidence = math.Max(0.0, math.Min(1.0, confidence))

	return &AICategorization{
		CategoryID: raw.CategoryID,
		Confidence: confidence,
		Reasoning:  raw.Reasoning,
	}
}

// cleanModelJSON strips markdown code fences the model sometimes wraps
// around its JSON.
func cleanModelJSON(response string) string {
	text := strings.TrimSpace(response)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
