package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LlmResponse records the outcome of one execute_question job. Immutable once
// written. Parsed is nil when the reply could not be repaired into the
// expected schema; ParseError then says why.
type LlmResponse struct {
	ID            uuid.UUID       `db:"id"              json:"id"`
	RunID         uuid.UUID       `db:"run_id"          json:"run_id"`
	JobID         uuid.UUID       `db:"job_id"          json:"job_id"`
	QuestionID    uuid.UUID       `db:"question_id"     json:"question_id"`
	ModelTargetID uuid.UUID       `db:"model_target_id" json:"model_target_id"`
	RawText       string          `db:"raw_text"        json:"raw_text"`
	Parsed        json.RawMessage `db:"parsed"          json:"parsed,omitempty"`
	ParseError    *string         `db:"parse_error"     json:"parse_error,omitempty"`
	AnswerText    string          `db:"answer_text"     json:"answer_text"`
	Score         *float64        `db:"score"           json:"score,omitempty"`
	Reasoning     string          `db:"reasoning"       json:"reasoning"`
	Citations     []string        `db:"citations"       json:"citations"`
	InputTokens   int             `db:"input_tokens"    json:"input_tokens"`
	OutputTokens  int             `db:"output_tokens"   json:"output_tokens"`
	CostUSD       float64         `db:"cost_usd"        json:"cost_usd"`
	LatencyMS     int64           `db:"latency_ms"      json:"latency_ms"`
	CreatedAt     time.Time       `db:"created_at"      json:"created_at"`
}

// Message roles in a conversation thread.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ThreadMessage is one role-tagged turn in a conversation thread.
type ThreadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationThread is the accumulated message history for a threaded
// question mode, keyed by (run, model target, thread key). Messages are
// appended in strict user/assistant pairs and never reordered or deleted.
type ConversationThread struct {
	ID            uuid.UUID       `db:"id"              json:"id"`
	RunID         uuid.UUID       `db:"run_id"          json:"run_id"`
	ModelTargetID uuid.UUID       `db:"model_target_id" json:"model_target_id"`
	ThreadKey     uuid.UUID       `db:"thread_key"      json:"thread_key"`
	Messages      []ThreadMessage `db:"messages"        json:"messages"`
	CreatedAt     time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"      json:"updated_at"`
}
