package alloc

import (
	"github.com/google/uuid"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// ModelEstimate is the projected usage for one model target.
type ModelEstimate struct {
	TargetID     uuid.UUID `json:"target_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Jobs         int       `json:"jobs"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Estimate is the projected usage for a whole run.
type Estimate struct {
	Models       []ModelEstimate `json:"models"`
	TotalTokens  int64           `json:"total_tokens"`
	TotalCostUSD float64         `json:"total_cost_usd"`
}

// Cost applies the pricing formula shared with the execution handler:
// inputTokens × inputPricePerMillion/1e6 + outputTokens × outputPricePerMillion/1e6.
func Cost(inputTokens, outputTokens int64, target models.ModelTarget) float64 {
	return float64(inputTokens)*target.InputPricePerMillion/1e6 +
		float64(outputTokens)*target.OutputPricePerMillion/1e6
}

// EstimateRun projects token usage and USD cost for a prospective run before
// anything executes. Per model: one job per question, tokens from fixed
// per-question averages. Advisory only — actual post-run cost is the sum of
// real per-job costs.
func EstimateRun(questionCount int, targets []models.ModelTarget, avgInputTokens, avgOutputTokens int) Estimate {
	est := Estimate{Models: make([]ModelEstimate, 0, len(targets))}

	for _, target := range targets {
		in := int64(questionCount) * int64(avgInputTokens)
		out := int64(questionCount) * int64(avgOutputTokens)
		cost := Cost(in, out, target)

		est.Models = append(est.Models, ModelEstimate{
			TargetID:     target.ID,
			Provider:     target.Provider,
			Model:        target.Model,
			Jobs:         questionCount,
			InputTokens:  in,
			OutputTokens: out,
			CostUSD:      cost,
		})
		est.TotalTokens += in + out
		est.TotalCostUSD += cost
	}
	return est
}
