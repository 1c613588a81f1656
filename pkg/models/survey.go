package models

import (
	"time"

	"github.com/google/uuid"
)

// Question modes. Stateless questions each own a disjoint conversation slot;
// threaded questions sharing a thread group and model serialize into one
// growing conversation.
const (
	QuestionModeStateless = "stateless"
	QuestionModeThreaded  = "threaded"
)

// Question types.
const (
	QuestionTypeOpen   = "open"
	QuestionTypeRanked = "ranked"
)

// Survey is the authored questionnaire. Authoring and CRUD live elsewhere;
// this service only reads surveys when allocating runs.
type Survey struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RankedScale configures a ranked question's score bounds and whether the
// model is asked to justify its score.
type RankedScale struct {
	Min              int  `json:"min"`
	Max              int  `json:"max"`
	IncludeReasoning bool `json:"include_reasoning"`
}

// Question is one prompt in a survey, ordered by DisplayOrder.
type Question struct {
	ID           uuid.UUID    `db:"id"            json:"id"`
	SurveyID     uuid.UUID    `db:"survey_id"     json:"survey_id"`
	Prompt       string       `db:"prompt"        json:"prompt"`
	Mode         string       `db:"mode"          json:"mode"`
	Type         string       `db:"type"          json:"type"`
	ThreadGroup  string       `db:"thread_group"  json:"thread_group,omitempty"`
	Scale        *RankedScale `db:"scale"         json:"scale,omitempty"`
	DisplayOrder int          `db:"display_order" json:"display_order"`
	CreatedAt    time.Time    `db:"created_at"    json:"created_at"`
}

// Variable is a survey-level template variable with a default value.
// Run-specific overrides take precedence at allocation time.
type Variable struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	SurveyID     uuid.UUID `db:"survey_id"     json:"survey_id"`
	Name         string    `db:"name"          json:"name"`
	DefaultValue string    `db:"default_value" json:"default_value"`
}

// ModelTarget is a concrete provider/model pair with its pricing.
type ModelTarget struct {
	ID                    uuid.UUID `db:"id"                       json:"id"`
	Provider              string    `db:"provider"                 json:"provider"`
	Model                 string    `db:"model"                    json:"model"`
	InputPricePerMillion  float64   `db:"input_price_per_million"  json:"input_price_per_million"`
	OutputPricePerMillion float64   `db:"output_price_per_million" json:"output_price_per_million"`
	CreatedAt             time.Time `db:"created_at"               json:"created_at"`
}
