package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// StoreNote stores or replaces a note, clamping scores, stamping timestamps,
// validating embedding dimension, and enforcing namespace scoping
// (spec.md §4.1 "store(note)").
func (s *Store) StoreNote(ctx context.Context, note *types.MemoryNote) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.ClampScores()

	now := time.Now()
	note.CreatedAt = now
	note.UpdatedAt = now

	if err := s.validateEmbedding(note); err != nil {
		return err
	}
	if err := s.validateLinks(ctx, note); err != nil {
		return err
	}

	return s.upsert(note)
}

// UpdateNote applies a content change: if content changed, the embedding
// MUST be regenerated (spec.md §4.1 "update(note)"). Callers pass the
// full desired note state; UpdateNote compares against the persisted
// content to decide whether to re-embed.
func (s *Store) UpdateNote(ctx context.Context, note *types.MemoryNote) error {
	existing, err := s.GetNote(ctx, note.ID, false)
	if err != nil {
		return err
	}

	contentChanged := existing.Content != note.Content
	note.ClampScores()
	note.CreatedAt = existing.CreatedAt
	note.UpdatedAt = time.Now()

	if contentChanged && s.embed != nil {
		embedding, err := s.embed.Embed(ctx, note.Content)
		if err != nil {
			return fmt.Errorf("failed to regenerate embedding: %w", err)
		}
		note.Embedding = embedding
		note.EmbeddingModel = s.embeddingModelTag()
	} else {
		note.Embedding = existing.Embedding
		note.EmbeddingModel = existing.EmbeddingModel
	}

	if err := s.validateEmbedding(note); err != nil {
		return err
	}
	if err := s.validateLinks(ctx, note); err != nil {
		return err
	}

	return s.upsert(note)
}

func (s *Store) validateEmbedding(note *types.MemoryNote) error {
	if len(note.Embedding) == 0 {
		return nil
	}
	if s.cfg.EmbeddingDimension > 0 && len(note.Embedding) != s.cfg.EmbeddingDimension {
		return errs.DimensionMismatch(s.cfg.EmbeddingDimension, len(note.Embedding))
	}
	return nil
}

// validateLinks enforces invariant (a): every link's target_id either
// exists in the same namespace or Global.
func (s *Store) validateLinks(ctx context.Context, note *types.MemoryNote) error {
	for _, link := range note.Links {
		target, err := s.GetNote(ctx, link.TargetID, false)
		if err != nil {
			return errs.NamespaceViolation(fmt.Sprintf("link target %s does not exist", link.TargetID))
		}
		if !note.Namespace.Visible(target.Namespace) {
			return errs.NamespaceViolation(fmt.Sprintf("link target %s is not visible from namespace %s", link.TargetID, note.Namespace))
		}
	}
	return nil
}

func (s *Store) upsert(note *types.MemoryNote) error {
	keywordsJSON, _ := json.Marshal(note.Keywords)
	tagsJSON, _ := json.Marshal(note.Tags)
	relatedFilesJSON, _ := json.Marshal(note.RelatedFiles)
	relatedEntitiesJSON, _ := json.Marshal(note.RelatedEntities)

	var embeddingBlob []byte
	if len(note.Embedding) > 0 {
		embeddingBlob = encodeEmbedding(note.Embedding)
	}

	query := `
		INSERT INTO memories (
			id, namespace_kind, namespace_project, namespace_session,
			content, summary, keywords, tags, context, memory_type,
			importance, confidence, related_files, related_entities,
			superseded_by, access_count, last_accessed_at,
			created_at, updated_at, expires_at, is_archived,
			embedding, embedding_model, owner
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace_kind = excluded.namespace_kind,
			namespace_project = excluded.namespace_project,
			namespace_session = excluded.namespace_session,
			content = excluded.content,
			summary = excluded.summary,
			keywords = excluded.keywords,
			tags = excluded.tags,
			context = excluded.context,
			memory_type = excluded.memory_type,
			importance = excluded.importance,
			confidence = excluded.confidence,
			related_files = excluded.related_files,
			related_entities = excluded.related_entities,
			superseded_by = excluded.superseded_by,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at,
			is_archived = excluded.is_archived,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			owner = excluded.owner
	`

	_, err := s.db.Exec(query,
		note.ID, string(note.Namespace.Kind), note.Namespace.Project, note.Namespace.SessionID,
		note.Content, note.Summary, string(keywordsJSON), string(tagsJSON), note.Context, string(note.MemoryType),
		note.Importance, note.Confidence, string(relatedFilesJSON), string(relatedEntitiesJSON),
		note.SupersededBy, note.AccessCount, note.LastAccessedAt,
		note.CreatedAt, note.UpdatedAt, note.ExpiresAt, boolToInt(note.IsArchived),
		embeddingBlob, note.EmbeddingModel, note.Owner,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}

	if err := s.replaceLinks(note.ID, note.Links); err != nil {
		return err
	}

	s.cache.invalidate(note.ID)
	return nil
}

func (s *Store) replaceLinks(sourceID string, links []types.Link) error {
	if _, err := s.db.Exec("DELETE FROM links WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}
	for _, l := range links {
		_, err := s.db.Exec(
			"INSERT INTO links (source_id, target_id, link_type, strength) VALUES (?, ?, ?, ?)",
			sourceID, l.TargetID, string(l.Type), l.Strength,
		)
		if err != nil {
			return fmt.Errorf("failed to store link: %w", err)
		}
	}
	return nil
}

// GetNote returns a note by id. Unless bypassAccessTracking is true, it
// increments access_count and sets last_accessed_at=now (spec.md §4.1
// "get(id)").
func (s *Store) GetNote(ctx context.Context, id string, bypassAccessTracking bool) (*types.MemoryNote, error) {
	if cached, ok := s.cache.get(id); ok {
		note := cached
		if !bypassAccessTracking {
			s.recordAccess(id)
			note.AccessCount++
		}
		return note, nil
	}

	note, err := s.scanOne(id)
	if err != nil {
		return nil, err
	}
	note.Links, err = s.loadLinks(id)
	if err != nil {
		return nil, err
	}

	s.cache.put(id, note)

	if !bypassAccessTracking {
		s.recordAccess(id)
		note.AccessCount++
	}
	return note, nil
}

func (s *Store) recordAccess(id string) {
	now := time.Now()
	s.db.Exec("UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?", now, id)
}

func (s *Store) scanOne(id string) (*types.MemoryNote, error) {
	row := s.db.QueryRow(noteSelectColumns()+" FROM memories WHERE id = ?", id)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("memory " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return note, nil
}

func (s *Store) loadLinks(sourceID string) ([]types.Link, error) {
	rows, err := s.db.Query("SELECT target_id, link_type, strength FROM links WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	defer rows.Close()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		var linkType string
		if err := rows.Scan(&l.TargetID, &linkType, &l.Strength); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.Type = types.LinkType(linkType)
		links = append(links, l)
	}
	return links, rows.Err()
}

// Archive sets is_archived=true, retaining the note for lineage
// (spec.md §4.1 "archive(id)").
func (s *Store) Archive(ctx context.Context, id string) error {
	result, err := s.db.Exec("UPDATE memories SET is_archived = 1, updated_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to archive memory: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errs.NotFound("memory " + id)
	}
	s.cache.invalidate(id)
	return nil
}

// List returns notes visible from ns, ordered per the requested order,
// excluding archived notes (spec.md §4.1 "list(...)").
func (s *Store) List(ctx context.Context, ns *types.Namespace, limit int, order types.SearchOrder) ([]*types.MemoryNote, error) {
	query := noteSelectColumns() + " FROM memories WHERE is_archived = 0"
	args := []interface{}{}

	query, args = appendNamespaceFilter(query, args, ns)

	switch order {
	case types.OrderImportance:
		query += " ORDER BY importance DESC, updated_at DESC, id ASC"
	default:
		query += " ORDER BY updated_at DESC, importance DESC, id ASC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
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
	return notes, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool { return i != 0 }
