package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rahulkarwa/promptpoll/internal/alloc"
	"github.com/rahulkarwa/promptpoll/internal/repair"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

const (
	openSystemPrompt = "You are a careful survey respondent. Answer the question directly " +
		"and honestly from your own knowledge. Respond with ONLY a JSON object " +
		"matching the schema provided in the user message."
	rankedSystemPrompt = "You are a careful evaluator. Score the question on the requested " +
		"numeric scale. Respond with ONLY a JSON object matching the schema " +
		"provided in the user message."
)

// executeQuestion performs one provider call: build the conversation, invoke
// the model, repair the reply, persist the response, and fan out analysis.
// A parse failure is not a job failure; only provider errors bubble up to the
// retry policy.
func (w *Worker) executeQuestion(ctx context.Context, job *models.Job) error {
	var payload models.ExecuteQuestionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode execute payload: %w", err)
	}

	target, err := w.store.GetModelTarget(ctx, payload.ModelTargetID)
	if err != nil {
		return fmt.Errorf("load model target %s: %w", payload.ModelTargetID, err)
	}
	provider, err := w.providers.Resolve(target.Provider)
	if err != nil {
		return err
	}

	// First execute job to land moves the run queued -> running.
	if err := w.store.MarkRunRunning(ctx, payload.RunID); err != nil {
		w.logger.Warn("mark run running", "run_id", payload.RunID, "error", err)
	}

	schema := repair.AnswerSchema(payload.QuestionType)
	userContent := payload.Prompt + "\n\nRespond with ONLY a JSON object matching this schema:\n" + schema

	messages := make([]models.ChatMessage, 0, 8)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt(payload.QuestionType)})

	if payload.Mode == models.QuestionModeThreaded {
		thread, err := w.store.GetThread(ctx, payload.ThreadKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load thread %s: %w", payload.ThreadKey, err)
		}
		if thread != nil {
			for _, m := range thread.Messages {
				messages = append(messages, models.ChatMessage{Role: m.Role, Content: m.Content})
			}
		}
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: userContent})

	result, err := provider.Chat(ctx, target.Model, messages)
	if err != nil {
		return fmt.Errorf("%s chat: %w", provider.Name(), err)
	}

	resp := &models.LlmResponse{
		ID:            uuid.New(),
		RunID:         payload.RunID,
		JobID:         job.ID,
		QuestionID:    payload.QuestionID,
		ModelTargetID: payload.ModelTargetID,
		RawText:       result.Text,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		CostUSD:       alloc.Cost(int64(result.InputTokens), int64(result.OutputTokens), *target),
		LatencyMS:     result.Latency.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}

	parsed, parseErr := repair.Repair(result.Text, schema)
	if parseErr != nil {
		// The provider call happened; record the unusable reply and move on.
		msg := parseErr.Error()
		resp.ParseError = &msg
	} else {
		resp.Parsed = parsed
		fillAnswer(resp, payload, parsed)
	}

	if err := w.store.CreateResponse(ctx, resp); err != nil {
		return fmt.Errorf("persist response: %w", err)
	}

	if payload.Mode == models.QuestionModeThreaded {
		turns := []models.ThreadMessage{
			{Role: models.RoleUser, Content: userContent},
			{Role: models.RoleAssistant, Content: result.Text},
		}
		if err := w.store.AppendThreadMessages(ctx, payload.RunID, payload.ModelTargetID, payload.ThreadKey, turns); err != nil {
			return fmt.Errorf("append thread turns: %w", err)
		}
	}

	if analysisWorthwhile(payload) {
		w.enqueueAnalysis(ctx, payload.RunID, resp.ID)
	}
	return nil
}

func systemPrompt(questionType string) string {
	if questionType == models.QuestionTypeRanked {
		return rankedSystemPrompt
	}
	return openSystemPrompt
}

// fillAnswer projects the validated payload into the response's typed columns.
func fillAnswer(resp *models.LlmResponse, payload models.ExecuteQuestionPayload, parsed json.RawMessage) {
	if payload.QuestionType == models.QuestionTypeRanked {
		var ans repair.RankedAnswer
		if err := json.Unmarshal(parsed, &ans); err != nil {
			return
		}
		score := ans.Score
		if payload.Scale != nil {
			score = float64(repair.ClampScore(ans.Score, payload.Scale.Min, payload.Scale.Max))
		}
		resp.Score = &score
		resp.Reasoning = ans.Reasoning
		return
	}

	var ans repair.OpenAnswer
	if err := json.Unmarshal(parsed, &ans); err != nil {
		return
	}
	resp.AnswerText = ans.Answer
	resp.Citations = ans.Citations
}

// analysisWorthwhile reports whether a follow-on analysis job should exist.
// A ranked question without reasoning yields only a bare number.
func analysisWorthwhile(payload models.ExecuteQuestionPayload) bool {
	if payload.QuestionType != models.QuestionTypeRanked {
		return true
	}
	return payload.Scale != nil && payload.Scale.IncludeReasoning
}

// enqueueAnalysis is best effort: the idempotency key makes re-enqueueing
// safe, and a missing analysis never blocks the run.
func (w *Worker) enqueueAnalysis(ctx context.Context, runID, responseID uuid.UUID) {
	body, _ := json.Marshal(models.AnalyzeResponsePayload{ResponseID: responseID, RunID: runID})
	now := time.Now().UTC()
	_, err := w.store.CreateJobs(ctx, []*models.Job{{
		ID:             uuid.New(),
		RunID:          runID,
		Type:           models.JobTypeAnalyzeResponse,
		Status:         models.JobStatusPending,
		IdempotencyKey: alloc.AnalysisIdempotencyKey(runID, responseID),
		Payload:        body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}})
	if err != nil {
		w.logger.Error("enqueue analysis job", "run_id", runID, "response_id", responseID, "error", err)
	}
}

// enqueueExport schedules the run artifact once the arbiter completes a run.
func (w *Worker) enqueueExport(ctx context.Context, runID uuid.UUID) {
	body, _ := json.Marshal(models.ExportRunPayload{RunID: runID})
	now := time.Now().UTC()
	_, err := w.store.CreateJobs(ctx, []*models.Job{{
		ID:             uuid.New(),
		RunID:          runID,
		Type:           models.JobTypeExportRun,
		Status:         models.JobStatusPending,
		IdempotencyKey: alloc.ExportIdempotencyKey(runID),
		Payload:        body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}})
	if err != nil {
		w.logger.Error("enqueue export job", "run_id", runID, "error", err)
	}
}
