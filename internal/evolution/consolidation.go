package evolution

import (
	"context"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/store"
)

// runConsolidation finds near-duplicate memories by cosine similarity
// and merges each pair's loser into its winner (spec.md §4.5 job 4,
// "optional, requires embeddings"). It is disabled by default
// (config.EvolutionConfig.Consolidation.Enabled) since it needs an
// embedding provider configured on the store to have produced anything
// to compare.
func runConsolidation(ctx context.Context, st *store.Store, cfg config.EvolutionConfig) (JobReport, error) {
	report := JobReport{Name: "consolidation"}
	start := time.Now()

	pairs, err := st.FindNearDuplicates(ctx, cfg.MergeThreshold)
	if err != nil {
		report.Duration = time.Since(start)
		return report, err
	}
	report.Scanned = len(pairs)

	merged := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		winner, loser := pair[0], pair[1]
		if merged[winner.ID] || merged[loser.ID] {
			// Either side was already absorbed by an earlier pair this
			// run; re-merging against a stale in-memory snapshot would
			// clobber the first merge's result.
			continue
		}
		if err := st.MergeInto(ctx, winner, loser); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		merged[loser.ID] = true
		report.Mutated++
	}

	report.Duration = time.Since(start)
	return report, nil
}
