package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. Completed, failed, and cancelled are terminal: once a run
// reaches one of them its status never changes again.
const (
	RunStatusDraft     = "draft"
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// SurveyRun is one execution instance of a survey against a chosen model set.
// The cost estimate is frozen at submission time; actual per-job costs can
// diverge from it.
type SurveyRun struct {
	ID                uuid.UUID         `db:"id"                  json:"id"`
	SurveyID          uuid.UUID         `db:"survey_id"           json:"survey_id"`
	Status            string            `db:"status"              json:"status"`
	ModelTargetIDs    []uuid.UUID       `db:"model_target_ids"    json:"model_target_ids"`
	VariableOverrides map[string]string `db:"variable_overrides"  json:"variable_overrides"`
	EstimatedCostUSD  float64           `db:"estimated_cost_usd"  json:"estimated_cost_usd"`
	EstimatedTokens   int64             `db:"estimated_tokens"    json:"estimated_tokens"`
	StartedAt         *time.Time        `db:"started_at"          json:"started_at,omitempty"`
	CompletedAt       *time.Time        `db:"completed_at"        json:"completed_at,omitempty"`
	CreatedAt         time.Time         `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"          json:"updated_at"`
}

// Terminal reports whether the run status can never change again.
func (r *SurveyRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunProgress is the read-only snapshot polled by external live-update
// transports: execute-job counts plus the run's current status.
type RunProgress struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Running   int       `json:"running"`
	Pending   int       `json:"pending"`
}
