package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// LinkRecord is a link together with the source id, used by maintenance
// callers (internal/evolution) that need to address a specific edge
// rather than a node's own Links slice.
type LinkRecord struct {
	SourceID        string
	TargetID        string
	Type            types.LinkType
	Strength        float64
	LastTraversedAt *time.Time
}

// ScanAll walks every memory (including archived, when includeArchived
// is true) in batches of batchSize, invoking fn for each. It is used by
// the Evolution Scheduler's jobs, none of which can afford to load the
// whole table into memory at once on a large store. fn returning an
// error stops the scan and the error is returned as-is.
func (s *Store) ScanAll(ctx context.Context, includeArchived bool, batchSize int, fn func(*types.MemoryNote) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	query := noteSelectColumns() + " FROM memories"
	if !includeArchived {
		query += " WHERE is_archived = 0"
	}
	query += " ORDER BY id ASC LIMIT ? OFFSET ?"

	offset := 0
	for {
		rows, err := s.db.QueryContext(ctx, query, batchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to scan memories: %w", err)
		}
		var batch []*types.MemoryNote
		var scanErr error
		for rows.Next() {
			note, err := scanNote(rows)
			if err != nil {
				scanErr = fmt.Errorf("failed to scan memory: %w", err)
				break
			}
			batch = append(batch, note)
		}
		rows.Close()
		if scanErr != nil {
			return scanErr
		}
		// fn runs only after rows is closed: the single connection is free
		// again, so fn (and loadLinks here) can call back into the store.
		for _, note := range batch {
			links, err := s.loadLinks(note.ID)
			if err != nil {
				return err
			}
			note.Links = links
			if err := fn(note); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

// UpdateImportanceAndAccessBaseline writes a recalibrated importance
// value without disturbing access_count/last_accessed_at (spec.md §4.5
// job 1 "Writes updated importance and updated_at").
func (s *Store) UpdateImportanceAndAccessBaseline(ctx context.Context, id string, importance int) error {
	if importance < 0 {
		importance = 0
	}
	if importance > 10 {
		importance = 10
	}
	result, err := s.db.ExecContext(ctx, "UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?", importance, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update importance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("memory " + id)
	}
	s.cache.invalidate(id)
	return nil
}

// ScanAllLinks walks every link in batches of batchSize, invoking fn for
// each (spec.md §4.5 job 2, "link decay").
func (s *Store) ScanAllLinks(ctx context.Context, batchSize int, fn func(LinkRecord) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	query := `SELECT source_id, target_id, link_type, strength, last_traversed_at
		FROM links ORDER BY source_id ASC, target_id ASC, link_type ASC LIMIT ? OFFSET ?`

	offset := 0
	for {
		rows, err := s.db.QueryContext(ctx, query, batchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to scan links: %w", err)
		}
		var batch []LinkRecord
		var scanErr error
		for rows.Next() {
			var rec LinkRecord
			var linkType string
			var lastTraversed sql.NullTime
			if err := rows.Scan(&rec.SourceID, &rec.TargetID, &linkType, &rec.Strength, &lastTraversed); err != nil {
				scanErr = fmt.Errorf("failed to scan link: %w", err)
				break
			}
			rec.Type = types.LinkType(linkType)
			if lastTraversed.Valid {
				t := lastTraversed.Time
				rec.LastTraversedAt = &t
			}
			batch = append(batch, rec)
		}
		rows.Close()
		if scanErr != nil {
			return scanErr
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

// UpdateLinkStrength rewrites a single link's strength (spec.md §4.5 job
// 2's decay multiplier step).
func (s *Store) UpdateLinkStrength(ctx context.Context, rec LinkRecord, newStrength float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE links SET strength = ? WHERE source_id = ? AND target_id = ? AND link_type = ?",
		newStrength, rec.SourceID, rec.TargetID, string(rec.Type),
	)
	if err != nil {
		return fmt.Errorf("failed to update link strength: %w", err)
	}
	s.cache.invalidate(rec.SourceID)
	return nil
}

// DeleteLink removes a link whose strength has decayed below
// min_strength (spec.md §4.5 job 2).
func (s *Store) DeleteLink(ctx context.Context, rec LinkRecord) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM links WHERE source_id = ? AND target_id = ? AND link_type = ?",
		rec.SourceID, rec.TargetID, string(rec.Type),
	)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	s.cache.invalidate(rec.SourceID)
	return nil
}

// TouchLinkTraversal stamps last_traversed_at=now for a link that a
// graph-traversal or hybrid-search expansion just walked, so link decay
// does not treat it as untraversed. Best-effort: a failure here must
// never fail the read path that triggered it.
func (s *Store) TouchLinkTraversal(sourceID, targetID string, linkType types.LinkType) {
	s.db.Exec(
		"UPDATE links SET last_traversed_at = ? WHERE source_id = ? AND target_id = ? AND link_type = ?",
		time.Now(), sourceID, targetID, string(linkType),
	)
}

// IsReferencedByUnarchived reports whether any non-archived memory still
// links to id, the archival job's "not referenced by unarchived
// memories" guard (spec.md §4.5 job 3).
func (s *Store) IsReferencedByUnarchived(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM links l
		JOIN memories m ON m.id = l.source_id
		WHERE l.target_id = ? AND m.is_archived = 0
	`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check link references: %w", err)
	}
	return count > 0, nil
}

// FindNearDuplicates returns pairs of unarchived, embedded memories whose
// cosine similarity exceeds threshold, each pair ordered (higher
// importance first) so the caller can merge the loser into the winner
// (spec.md §4.5 job 4). Comparison is O(n^2) over the embedded set,
// acceptable given consolidation is an infrequent, idle-gated job.
func (s *Store) FindNearDuplicates(ctx context.Context, threshold float64) ([][2]*types.MemoryNote, error) {
	rows, err := s.db.QueryContext(ctx, noteSelectColumns()+" FROM memories WHERE is_archived = 0 AND embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded memories: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for _, note := range notes {
		if note.Links, err = s.loadLinks(note.ID); err != nil {
			return nil, err
		}
	}

	var pairs [][2]*types.MemoryNote
	for i := 0; i < len(notes); i++ {
		for j := i + 1; j < len(notes); j++ {
			sim := cosineSimilarity(notes[i].Embedding, notes[j].Embedding)
			if sim <= threshold {
				continue
			}
			winner, loser := notes[i], notes[j]
			if loser.Importance > winner.Importance {
				winner, loser = loser, winner
			}
			pairs = append(pairs, [2]*types.MemoryNote{winner, loser})
		}
	}
	return pairs, nil
}

// MergeInto merges loser into winner: winner's keywords/tags/links are
// union-merged with loser's, loser is marked superseded_by winner and
// archived (spec.md §4.5 job 4). Both notes must already be loaded with
// their Links populated (as FindNearDuplicates returns them).
func (s *Store) MergeInto(ctx context.Context, winner, loser *types.MemoryNote) error {
	winner.Keywords = unionStrings(winner.Keywords, loser.Keywords)
	winner.Tags = unionStrings(winner.Tags, loser.Tags)
	winner.Links = unionLinks(winner.Links, loser.Links)

	if err := s.UpdateNote(ctx, winner); err != nil {
		return fmt.Errorf("failed to update consolidation winner: %w", err)
	}

	_, err := s.db.ExecContext(ctx, "UPDATE memories SET superseded_by = ?, is_archived = 1, updated_at = ? WHERE id = ?",
		winner.ID, time.Now(), loser.ID)
	if err != nil {
		return fmt.Errorf("failed to archive consolidation loser: %w", err)
	}
	s.cache.invalidate(loser.ID)
	s.cache.invalidate(winner.ID)
	return nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func unionLinks(a, b []types.Link) []types.Link {
	seen := make(map[string]bool, len(a))
	key := func(l types.Link) string { return l.TargetID + "|" + string(l.Type) }
	out := make([]types.Link, 0, len(a)+len(b))
	for _, l := range a {
		if !seen[key(l)] {
			seen[key(l)] = true
			out = append(out, l)
		}
	}
	for _, l := range b {
		if !seen[key(l)] {
			seen[key(l)] = true
			out = append(out, l)
		}
	}
	return out
}
