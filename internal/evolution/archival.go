package evolution

import (
	"context"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// runArchival archives memories whose importance has fallen below
// archive_threshold, that have not been accessed in archive_age, and
// that nothing unarchived still references (spec.md §4.5 job 3).
func runArchival(ctx context.Context, st *store.Store, cfg config.EvolutionConfig, batchSize int) (JobReport, error) {
	report := JobReport{Name: "archival"}
	start := time.Now()
	cutoff := time.Now().Add(-cfg.ArchiveAge)

	err := st.ScanAll(ctx, false, batchSize, func(note *types.MemoryNote) error {
		report.Scanned++

		if note.Importance >= cfg.ArchiveThreshold {
			return nil
		}
		if note.LastAccessedAt != nil && note.LastAccessedAt.After(cutoff) {
			return nil
		}
		if note.LastAccessedAt == nil && note.CreatedAt.After(cutoff) {
			return nil
		}

		referenced, err := st.IsReferencedByUnarchived(ctx, note.ID)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			return nil
		}
		if referenced {
			return nil
		}

		if err := st.Archive(ctx, note.ID); err != nil {
			report.Errors = append(report.Errors, err.Error())
			return nil
		}
		report.Mutated++
		return nil
	})

	report.Duration = time.Since(start)
	return report, err
}
