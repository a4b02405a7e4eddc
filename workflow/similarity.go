package workflow

import (
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Scorer scores the similarity of two strings in [0,1]. The orchestration
// code only sees this interface, so the concrete algorithm is swappable.
type Scorer interface {
	Similarity(a string, b string) float64
}

// LevenshteinScorer normalizes edit distance by the length of the longer
// string: 1.0 is identical (after lower-casing and trimming), 0.0 shares
// nothing.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Similarity(a string, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	if dist >= longest {
		return 0
	}
	return 1.0 - float64(dist)/float64(longest)
}
