package cache

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// stopWords are common English words carrying no search signal; filtering
// them keeps keyword overlap scoring meaningful on short queries.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "is": true,
	"are": true, "to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "that": true, "this": true, "it": true, "be": true,
}

// extractKeywords tokenizes free text into a lowercase, stop-word-filtered
// keyword set suitable for overlap scoring.
func extractKeywords(text string) []string {
	matches := wordPattern.FindAllString(text, -1)
	keywords := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		w := strings.ToLower(m)
		if stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
