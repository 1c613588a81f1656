// Package repair turns raw, possibly malformed model replies into validated
// structured payloads.
package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSONObject is returned when the reply contains no {...} pair at all.
var ErrNoJSONObject = errors.New("no JSON object found")

var (
	reFenceLine     = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	quoteNormalizer = strings.NewReplacer(
		"“", `"`, // left double quotation mark
		"”", `"`, // right double quotation mark
		"„", `"`,
		"‘", `'`,
		"’", `'`,
	)
)

// Repair coerces raw into a JSON payload that validates against schemaJSON.
// Stages apply only as far as needed: strict parse first; then fence
// stripping, brace slicing, quote normalization, and trailing-comma removal
// before one re-attempt. Failure returns a nil payload and a human-readable
// error; callers decide whether that is fatal.
func Repair(raw string, schemaJSON string) (json.RawMessage, error) {
	if payload, err := parseAndValidate(raw, schemaJSON); err == nil {
		return payload, nil
	}

	s := reFenceLine.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, ErrNoJSONObject
	}
	s = s[start : end+1]

	s = quoteNormalizer.Replace(s)
	s = reTrailingComma.ReplaceAllString(s, "$1")

	payload, err := parseAndValidate(s, schemaJSON)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func parseAndValidate(s, schemaJSON string) (json.RawMessage, error) {
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &doc); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return doc, nil
}

// AnswerSchema returns the JSON schema for the given question type.
func AnswerSchema(questionType string) string {
	var schema map[string]any
	switch questionType {
	case "ranked":
		schema = map[string]any{
			"type":     "object",
			"required": []string{"score"},
			"properties": map[string]any{
				"score":     map[string]any{"type": "number"},
				"reasoning": map[string]any{"type": "string"},
			},
		}
	default:
		schema = map[string]any{
			"type":     "object",
			"required": []string{"answer"},
			"properties": map[string]any{
				"answer":     map[string]any{"type": "string"},
				"citations":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"confidence": map[string]any{"type": "number"},
			},
		}
	}
	b, _ := json.Marshal(schema)
	return string(b)
}

// OpenAnswer is the parsed payload of an open question reply.
type OpenAnswer struct {
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// RankedAnswer is the parsed payload of a ranked question reply.
type RankedAnswer struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// ClampScore rounds score to the nearest integer (half up) and saturates it
// into [min, max]. Bounds are inclusive.
func ClampScore(score float64, min, max int) int {
	rounded := int(math.Floor(score + 0.5))
	if rounded < min {
		return min
	}
	if rounded > max {
		return max
	}
	return rounded
}
