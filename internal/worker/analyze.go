package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rahulkarwa/promptpoll/internal/analysis"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// analyzeResponse derives sentiment, mentions, and quality flags for one
// response. Analysis never fails a run; only infrastructure errors bubble up
// to the retry policy.
func (w *Worker) analyzeResponse(ctx context.Context, job *models.Job) error {
	var payload models.AnalyzeResponsePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode analyze payload: %w", err)
	}

	resp, err := w.store.GetResponse(ctx, payload.ResponseID)
	if err != nil {
		return fmt.Errorf("load response %s: %w", payload.ResponseID, err)
	}

	result := &models.AnalysisResult{
		ID:           uuid.New(),
		ResponseID:   resp.ID,
		RunID:        resp.RunID,
		JobID:        job.ID,
		Entities:     []string{},
		Brands:       []string{},
		Institutions: []string{},
		Flags:        []string{},
		CreatedAt:    time.Now().UTC(),
	}

	switch {
	case resp.Parsed == nil:
		result.Flags = append(result.Flags, models.FlagInvalidJSON)
	case analyzableText(resp) == "":
		result.Flags = append(result.Flags, models.FlagEmptyAnswer)
	default:
		text := analyzableText(resp)
		result.Sentiment = analysis.Sentiment(text)
		result.Entities = analysis.Entities(text)
		result.Brands = analysis.Brands(text)
		result.Institutions = analysis.Institutions(text)
		if len(text) < analysis.ShortAnswerThreshold {
			result.Flags = append(result.Flags, models.FlagShortAnswer)
		}
		if math.Abs(result.Sentiment) > analysis.ExtremeSentimentThreshold {
			result.Flags = append(result.Flags, models.FlagExtremeSentiment)
		}
	}

	if err := w.store.CreateAnalysisResult(ctx, result); err != nil {
		// A re-delivered job finds the row already written; that is success.
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("persist analysis: %w", err)
	}
	return nil
}

// analyzableText picks the reasoning when present (ranked questions),
// otherwise the free-text answer.
func analyzableText(resp *models.LlmResponse) string {
	if resp.Reasoning != "" {
		return resp.Reasoning
	}
	return resp.AnswerText
}
