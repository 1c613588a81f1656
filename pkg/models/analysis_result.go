package models

import (
	"time"

	"github.com/google/uuid"
)

// Quality flags attached by the analysis handler.
const (
	FlagInvalidJSON      = "invalid_json"
	FlagEmptyAnswer      = "empty_answer"
	FlagShortAnswer      = "short_answer"
	FlagExtremeSentiment = "extreme_sentiment"
)

// AnalysisResult holds derived signal for one LLM response. Written once by
// the analysis handler and never updated.
type AnalysisResult struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	ResponseID   uuid.UUID `db:"response_id"   json:"response_id"`
	RunID        uuid.UUID `db:"run_id"        json:"run_id"`
	JobID        uuid.UUID `db:"job_id"        json:"job_id"`
	Sentiment    float64   `db:"sentiment"     json:"sentiment"`
	Entities     []string  `db:"entities"      json:"entities"`
	Brands       []string  `db:"brands"        json:"brands"`
	Institutions []string  `db:"institutions"  json:"institutions"`
	Flags        []string  `db:"flags"         json:"flags"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
