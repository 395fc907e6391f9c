package evaluation

import (
	"context"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// confidenceSaturationSamples is the sample_count at which a WeightSet's
// confidence reaches 1.0 (spec.md §4.6 "confidence that grows with
// samples").
const confidenceSaturationSamples = 50

// RelevanceScorer scores provided context by a learned WeightSet and
// updates it online via an exponential moving average, grounded on
// original_source/src/evaluation/relevance_scorer.go's hierarchical
// scope/fallback design.
type RelevanceScorer struct {
	store *store.Store
}

// NewRelevanceScorer builds a RelevanceScorer backed by the given store.
func NewRelevanceScorer(st *store.Store) *RelevanceScorer {
	return &RelevanceScorer{store: st}
}

// Score walks key's fallback chain (most-specific first) and returns the
// dot product of the first WeightSet found with features, along with
// that WeightSet. If nothing has been learned at any level yet, it
// scores against the uniform default weights with a nil WeightSet.
func (r *RelevanceScorer) Score(ctx context.Context, key types.LookupKey, features RelevanceFeatures) (float64, *types.WeightSet, error) {
	for _, k := range key.FallbackChain() {
		ws, found, err := r.store.GetWeightSet(ctx, k)
		if err != nil {
			return 0, nil, err
		}
		if found {
			return dot(ws.Weights, features.ToMap()), ws, nil
		}
	}
	return dot(defaultWeights(), features.ToMap()), nil, nil
}

// Update applies one EMA step to the most-specific WeightSet named by
// key, creating it with default weights if it does not yet exist. The
// learning rate is fixed by key.Scope (Session 0.3, Project 0.1, Global
// 0.03 — spec.md §4.6).
func (r *RelevanceScorer) Update(ctx context.Context, key types.LookupKey, features RelevanceFeatures, taskSuccessScore float64) error {
	chain := key.FallbackChain()
	mostSpecific := chain[0]

	ws, found, err := r.store.GetWeightSet(ctx, mostSpecific)
	if err != nil {
		return err
	}
	if !found {
		ws = &types.WeightSet{
			Scope:       mostSpecific.Scope,
			ScopeID:     mostSpecific.ScopeID,
			ContextType: mostSpecific.ContextType,
			AgentRole:   mostSpecific.AgentRole,
			WorkPhase:   mostSpecific.WorkPhase,
			TaskType:    mostSpecific.TaskType,
			ErrorClass:  mostSpecific.ErrorClass,
			Weights:     defaultWeights(),
		}
	}

	alpha := mostSpecific.Scope.LearningRate()
	featureMap := features.ToMap()
	for name, value := range featureMap {
		old := ws.Weights[name]
		contribution := value * taskSuccessScore
		ws.Weights[name] = (1-alpha)*old + alpha*contribution
	}

	ws.SampleCount++
	ws.Confidence = float64(ws.SampleCount) / confidenceSaturationSamples
	if ws.Confidence > 1 {
		ws.Confidence = 1
	}
	ws.UpdatedAt = time.Now()

	return r.store.UpsertWeightSet(ctx, ws)
}

func dot(weights, features map[string]float64) float64 {
	var sum float64
	for name, value := range features {
		sum += weights[name] * value
	}
	return sum
}
