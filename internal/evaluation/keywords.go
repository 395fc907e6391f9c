package evaluation

import (
	"strings"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// genericStopwords are excluded from recorded keywords: common English
// filler words carry no signal and widen the chance a "generic" keyword
// is actually identifying.
var genericStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "this": true, "that": true, "it": true, "be": true, "as": true,
}

// FilterKeywords lowercases, dedupes, strips stopwords and anything
// shorter than 3 characters, and caps the result at n entries (spec.md
// §4.6 privacy invariant: "no more than 10 keywords per record"). n<=0
// defaults to types.MaxEvaluationKeywords.
func FilterKeywords(raw []string, n int) []string {
	if n <= 0 {
		n = types.MaxEvaluationKeywords
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, n)
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if len(kw) < 3 || genericStopwords[kw] || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) == n {
			break
		}
	}
	return out
}

// JaccardOverlap computes the Jaccard similarity between two keyword
// sets: |intersection| / |union|, 0 if both are empty.
func JaccardOverlap(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for kw := range setA {
		if setB[kw] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		set[strings.ToLower(kw)] = true
	}
	return set
}
