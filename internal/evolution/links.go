package evolution

import (
	"context"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/store"
)

// runLinkDecay weakens every link that has gone untraversed for the
// configured window, and drops any link whose strength has decayed
// below min_strength (spec.md §4.5 job 2).
func runLinkDecay(ctx context.Context, st *store.Store, cfg config.EvolutionConfig, batchSize int) (JobReport, error) {
	report := JobReport{Name: "link_decay"}
	start := time.Now()
	cutoff := time.Now().Add(-cfg.LinkDecayWindow)

	err := st.ScanAllLinks(ctx, batchSize, func(rec store.LinkRecord) error {
		report.Scanned++

		traversedRecently := rec.LastTraversedAt != nil && rec.LastTraversedAt.After(cutoff)
		if traversedRecently {
			return nil
		}

		decayed := rec.Strength * (1 - cfg.LinkDecayDelta)
		if decayed < cfg.LinkMinStrength {
			if err := st.DeleteLink(ctx, rec); err != nil {
				report.Errors = append(report.Errors, err.Error())
				return nil
			}
			report.Mutated++
			return nil
		}
		if err := st.UpdateLinkStrength(ctx, rec, decayed); err != nil {
			report.Errors = append(report.Errors, err.Error())
			return nil
		}
		report.Mutated++
		return nil
	})

	report.Duration = time.Since(start)
	return report, err
}
