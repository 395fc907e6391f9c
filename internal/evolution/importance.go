package evolution

import (
	"context"
	"math"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// runImportanceRecalibration recomputes importance from access
// statistics for every unarchived memory (spec.md §4.5 job 1):
// new = clamp(base + α·f(access_count, recency, link_degree) − β·staleness).
// f rewards frequent access and rich linkage, and decays with how long
// ago the memory was last touched; staleness is measured from
// updated_at so a note nobody has reviewed in a long time drifts down
// even if its one-time access_count was high.
func runImportanceRecalibration(ctx context.Context, st *store.Store, cfg config.EvolutionConfig, batchSize int) (JobReport, error) {
	report := JobReport{Name: "importance_recalibration"}
	start := time.Now()

	err := st.ScanAll(ctx, false, batchSize, func(note *types.MemoryNote) error {
		report.Scanned++
		newImportance := recalibrateImportance(note, cfg.RecalibrationAlpha, cfg.RecalibrationBeta)
		if newImportance == note.Importance {
			return nil
		}
		if err := st.UpdateImportanceAndAccessBaseline(ctx, note.ID, newImportance); err != nil {
			report.Errors = append(report.Errors, err.Error())
			return nil
		}
		report.Mutated++
		return nil
	})

	report.Duration = time.Since(start)
	return report, err
}

func recalibrateImportance(note *types.MemoryNote, alpha, beta float64) int {
	base := float64(note.Importance)
	recencyDays := daysSince(note.LastAccessedAt)
	linkDegree := float64(len(note.Links))

	f := math.Log1p(float64(note.AccessCount)) + 0.5*linkDegree - 0.05*recencyDays
	staleness := daysSince(&note.UpdatedAt)

	newVal := base + alpha*f - beta*staleness
	if newVal < 0 {
		newVal = 0
	}
	if newVal > 10 {
		newVal = 10
	}
	return int(math.Round(newVal))
}

// daysSince returns the number of days elapsed since t, or a large
// value (treated as "never") when t is nil.
func daysSince(t *time.Time) float64 {
	if t == nil {
		return 365
	}
	return time.Since(*t).Hours() / 24
}
