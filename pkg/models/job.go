package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job is created pending, becomes running only through a
// successful claim, and terminates in succeeded, failed, or cancelled.
// Retrying marks a job that failed a provider call but still has attempts
// left; the claim query treats it like pending once next_attempt_at passes.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusRetrying  = "retrying"
	JobStatusCancelled = "cancelled"
)

// Job types.
const (
	JobTypeExecuteQuestion = "execute_question"
	JobTypeAnalyzeResponse = "analyze_response"
	JobTypeExportRun       = "export_run"
)

// Job is one unit of queued work. The idempotency key is a deterministic
// function of the work itself (run+model+question, or run+response), so
// re-allocating a run can never create duplicates.
type Job struct {
	ID             uuid.UUID       `db:"id"               json:"id"`
	RunID          uuid.UUID       `db:"run_id"           json:"run_id"`
	Type           string          `db:"type"             json:"type"`
	Status         string          `db:"status"           json:"status"`
	IdempotencyKey uuid.UUID       `db:"idempotency_key"  json:"idempotency_key"`
	Attempts       int             `db:"attempts"         json:"attempts"`
	Payload        json.RawMessage `db:"payload"          json:"payload"`
	LastError      *string         `db:"last_error"       json:"last_error,omitempty"`
	NextAttemptAt  *time.Time      `db:"next_attempt_at"  json:"next_attempt_at,omitempty"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time      `db:"started_at"       json:"started_at,omitempty"`
	FinishedAt     *time.Time      `db:"finished_at"      json:"finished_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"       json:"updated_at"`
}

// Terminal reports whether the job status can never change again.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ExecuteQuestionPayload is the payload of an execute_question job.
type ExecuteQuestionPayload struct {
	RunID         uuid.UUID    `json:"run_id"`
	ModelTargetID uuid.UUID    `json:"model_target_id"`
	QuestionID    uuid.UUID    `json:"question_id"`
	ThreadKey     uuid.UUID    `json:"thread_key"`
	Prompt        string       `json:"prompt"`
	Mode          string       `json:"mode"`
	QuestionType  string       `json:"question_type"`
	Scale         *RankedScale `json:"scale,omitempty"`
}

// AnalyzeResponsePayload is the payload of an analyze_response job.
type AnalyzeResponsePayload struct {
	ResponseID uuid.UUID `json:"response_id"`
	RunID      uuid.UUID `json:"run_id"`
}

// ExportRunPayload is the payload of an export_run job.
type ExportRunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}
