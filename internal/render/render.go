// Package render substitutes {{key}} placeholders in prompt templates.
package render

import (
	"regexp"
	"sort"
)

// Placeholder regex compiled once at package init. Tolerates whitespace
// inside the braces: {{ key }} and {{key}} are equivalent.
var rePlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes {{key}} placeholders in tmpl from vars. Placeholders
// with no matching entry are left untouched; their keys are returned sorted
// and de-duplicated. A key resolves only through an explicit map entry, so
// names like "toString" or "constructor" stay unresolved unless the caller
// actually provided them.
func Render(tmpl string, vars map[string]string) (string, []string) {
	unresolved := map[string]struct{}{}

	out := rePlaceholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := rePlaceholder.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		unresolved[key] = struct{}{}
		return match
	})

	keys := make([]string, 0, len(unresolved))
	for k := range unresolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys
}

// Merge overlays run-specific overrides onto survey defaults. Neither input
// map is mutated.
func Merge(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
