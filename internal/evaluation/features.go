package evaluation

import (
	"time"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// RelevanceFeatures are the only statistics the RelevanceScorer ever
// sees — derived numbers, never the task text or context content
// (spec.md §4.6 "Feature extraction").
type RelevanceFeatures struct {
	KeywordOverlapScore float64
	RecencyDays         float64
	AccessFrequency     float64
	WasUseful           float64 // 1.0 or 0.0, kept as a float so it composes into the weight map uniformly
}

// ToMap renders the features keyed the same way a WeightSet.Weights map
// is keyed, so RelevanceScorer can compute a single dot product.
func (f RelevanceFeatures) ToMap() map[string]float64 {
	return map[string]float64{
		"keyword_overlap_score": f.KeywordOverlapScore,
		"recency_days":          f.RecencyDays,
		"access_frequency":      f.AccessFrequency,
		"was_useful":            f.WasUseful,
	}
}

// defaultWeights seeds a brand-new WeightSet with an equal split across
// the four features before any learning has happened.
func defaultWeights() map[string]float64 {
	return map[string]float64{
		"keyword_overlap_score": 0.25,
		"recency_days":          0.25,
		"access_frequency":      0.25,
		"was_useful":            0.25,
	}
}

// ExtractFeatures derives RelevanceFeatures for a completed
// EvaluationRecord. contextKeywords are the keywords of the memory/
// skill/file the record describes (never the raw task text); overlap is
// measured against the record's own already-filtered task keywords.
func ExtractFeatures(rec *types.EvaluationRecord, contextKeywords []string, now time.Time) RelevanceFeatures {
	recencyDays := now.Sub(rec.CreatedAt).Hours() / 24
	if recencyDays < 0 {
		recencyDays = 0
	}

	accessFrequency := 0.0
	if recencyDays > 0 {
		accessFrequency = float64(rec.AccessCount) / recencyDays
	} else if rec.AccessCount > 0 {
		accessFrequency = float64(rec.AccessCount)
	}

	wasUseful := 0.0
	if rec.WasEdited || rec.WasCommitted || rec.WasCitedInResponse || rec.AccessCount > 0 {
		wasUseful = 1.0
	}

	return RelevanceFeatures{
		KeywordOverlapScore: JaccardOverlap(rec.Keywords, contextKeywords),
		RecencyDays:         recencyDays,
		AccessFrequency:     accessFrequency,
		WasUseful:           wasUseful,
	}
}
