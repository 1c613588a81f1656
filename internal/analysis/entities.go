package analysis

import (
	"regexp"
	"sort"
	"strings"
)

// Capitalized word runs like "Deutsche Bank" or "OpenAI". Single common
// sentence-starters are filtered below instead of in the regex.
var reProperNoun = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\b`)

// Common sentence-leading words that look like proper nouns but aren't.
var entityStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "It": true, "This": true, "That": true,
	"These": true, "Those": true, "I": true, "In": true, "On": true, "As": true,
	"For": true, "However": true, "Overall": true, "While": true, "When": true,
	"If": true, "Yes": true, "No": true, "There": true, "They": true, "Based": true,
}

var brandKeywords = map[string]bool{
	"apple": true, "google": true, "microsoft": true, "amazon": true,
	"meta": true, "samsung": true, "sony": true, "nike": true, "adidas": true,
	"tesla": true, "toyota": true, "ibm": true, "intel": true, "netflix": true,
	"openai": true, "anthropic": true, "visa": true, "mastercard": true,
	"coca-cola": true, "pepsi": true, "spotify": true, "airbnb": true,
	"uber": true, "oracle": true, "salesforce": true, "nvidia": true,
}

var institutionMarkers = []string{
	"university", "institute", "college", "bank", "ministry", "department",
	"agency", "commission", "authority", "federation", "foundation",
	"association", "bureau", "council", "court",
}

// Entities extracts proper-noun phrases from text, de-duplicated and sorted.
func Entities(text string) []string {
	seen := map[string]bool{}
	for _, match := range reProperNoun.FindAllString(text, -1) {
		phrase := strings.TrimSpace(match)
		if entityStopwords[phrase] || len(phrase) < 2 {
			continue
		}
		seen[phrase] = true
	}
	return sortedKeys(seen)
}

// Brands returns the subset of entities matching the brand keyword table,
// plus bare lowercase brand mentions.
func Brands(text string) []string {
	seen := map[string]bool{}
	for _, word := range reWord.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if brandKeywords[lower] {
			seen[word] = true
		}
	}
	return sortedKeys(seen)
}

// Institutions returns proper-noun phrases containing an institution marker
// word (e.g. "Stanford University", "World Bank").
func Institutions(text string) []string {
	seen := map[string]bool{}
	for _, phrase := range Entities(text) {
		lower := strings.ToLower(phrase)
		for _, marker := range institutionMarkers {
			if strings.Contains(lower, marker) {
				seen[phrase] = true
				break
			}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
