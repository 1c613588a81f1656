// Package analysis derives lexical signal (sentiment, entities, quality
// flags) from LLM response text.
package analysis

import (
	"regexp"
	"strings"
)

// Thresholds for quality flags.
const (
	ShortAnswerThreshold      = 40  // bytes of analyzed text
	ExtremeSentimentThreshold = 0.8 // absolute sentiment score
)

var reWord = regexp.MustCompile(`[a-zA-Z']+`)

// Small opinion lexicons. Tokens are matched lowercase and whole-word.
var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "best": true, "strong": true,
	"positive": true, "reliable": true, "trusted": true, "innovative": true,
	"leading": true, "impressive": true, "outstanding": true, "superior": true,
	"effective": true, "helpful": true, "robust": true, "successful": true,
	"favorable": true, "win": true, "wins": true, "love": true, "loved": true,
	"benefit": true, "benefits": true, "quality": true, "efficient": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "worst": true, "weak": true, "negative": true,
	"unreliable": true, "untrusted": true, "failing": true, "failure": true,
	"disappointing": true, "inferior": true, "ineffective": true, "harmful": true,
	"broken": true, "flawed": true, "problem": true, "problems": true,
	"risk": true, "risks": true, "hate": true, "hated": true, "lose": true,
	"loses": true, "costly": true, "slow": true, "buggy": true, "scandal": true,
}

// Sentiment computes a lexical sentiment score in [-1, 1] for text:
// (positive - negative) / (positive + negative) over sentiment-bearing
// tokens, or 0 when none are present.
func Sentiment(text string) float64 {
	var pos, neg int
	for _, word := range reWord.FindAllString(strings.ToLower(text), -1) {
		if positiveWords[word] {
			pos++
		} else if negativeWords[word] {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
