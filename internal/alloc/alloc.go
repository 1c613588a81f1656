// Package alloc expands a run specification into its deterministic,
// idempotently-keyed set of execution jobs, and projects run cost up front.
package alloc

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rahulkarwa/promptpoll/internal/render"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// Namespace for v5 key derivation. Changing it would re-key every job ever
// allocated, so it is fixed forever.
var keyNamespace = uuid.MustParse("3c2f1a9e-6d4b-4e8a-9c7f-2b5d8e0a1f64")

// IdempotencyKey derives the duplicate-suppression key for one
// (run, model target, question) unit of work. Pure function: identical
// inputs always produce the identical key.
func IdempotencyKey(runID, targetID, questionID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte("job:"+runID.String()+":"+targetID.String()+":"+questionID.String()))
}

// AnalysisIdempotencyKey derives the key for the follow-on analysis of one
// response.
func AnalysisIdempotencyKey(runID, responseID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte("analysis:"+runID.String()+":"+responseID.String()))
}

// ExportIdempotencyKey derives the key for a run's export job.
func ExportIdempotencyKey(runID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte("export:"+runID.String()))
}

// ThreadKey derives the conversation slot for a question under one model
// target. Stateless questions key on the question itself, so every stateless
// job owns a disjoint slot; threaded questions key on their declared thread
// group, so questions sharing a group and model serialize into one
// conversation.
func ThreadKey(runID, targetID uuid.UUID, q models.Question) uuid.UUID {
	if q.Mode == models.QuestionModeThreaded && q.ThreadGroup != "" {
		return uuid.NewSHA1(keyNamespace, []byte("thread:"+runID.String()+":"+targetID.String()+":group:"+q.ThreadGroup))
	}
	return uuid.NewSHA1(keyNamespace, []byte("thread:"+runID.String()+":"+targetID.String()+":question:"+q.ID.String()))
}

// Allocate produces the complete execution job list for a run: models as the
// outer loop, questions in display order as the inner loop, so ordering is
// canonical and human-predictable. Allocation is pure computation over
// already-validated inputs; unresolved variables pass through as literal
// {{key}} text rather than failing the run.
func Allocate(runID uuid.UUID, targets []models.ModelTarget, questions []models.Question, vars map[string]string) []*models.Job {
	ordered := make([]models.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	now := time.Now().UTC()
	jobs := make([]*models.Job, 0, len(targets)*len(ordered))

	for _, target := range targets {
		for _, q := range ordered {
			prompt, _ := render.Render(q.Prompt, vars)

			payload, _ := json.Marshal(models.ExecuteQuestionPayload{
				RunID:         runID,
				ModelTargetID: target.ID,
				QuestionID:    q.ID,
				ThreadKey:     ThreadKey(runID, target.ID, q),
				Prompt:        prompt,
				Mode:          q.Mode,
				QuestionType:  q.Type,
				Scale:         q.Scale,
			})

			jobs = append(jobs, &models.Job{
				ID:             uuid.New(),
				RunID:          runID,
				Type:           models.JobTypeExecuteQuestion,
				Status:         models.JobStatusPending,
				IdempotencyKey: IdempotencyKey(runID, target.ID, q.ID),
				Payload:        payload,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}
	return jobs
}
