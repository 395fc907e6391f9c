package store

import (
	"database/sql"
	"encoding/json"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// scanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with an identical signature.
type scanner interface {
	Scan(dest ...interface{}) error
}

func noteSelectColumns() string {
	return `SELECT id, namespace_kind, namespace_project, namespace_session,
		content, summary, keywords, tags, context, memory_type,
		importance, confidence, related_files, related_entities,
		superseded_by, access_count, last_accessed_at,
		created_at, updated_at, expires_at, is_archived,
		embedding, embedding_model, owner`
}

func scanNote(row scanner) (*types.MemoryNote, error) {
	note := &types.MemoryNote{}
	var (
		namespaceKind, namespaceProject, namespaceSession string
		summary, keywordsJSON, tagsJSON, context          sql.NullString
		memoryType                                        string
		relatedFilesJSON, relatedEntitiesJSON             sql.NullString
		supersededBy, owner, embeddingModel               sql.NullString
		lastAccessedAt, expiresAt                         sql.NullTime
		isArchived                                        int
		embeddingBlob                                     []byte
	)

	err := row.Scan(
		&note.ID, &namespaceKind, &namespaceProject, &namespaceSession,
		&note.Content, &summary, &keywordsJSON, &tagsJSON, &context, &memoryType,
		&note.Importance, &note.Confidence, &relatedFilesJSON, &relatedEntitiesJSON,
		&supersededBy, &note.AccessCount, &lastAccessedAt,
		&note.CreatedAt, &note.UpdatedAt, &expiresAt, &isArchived,
		&embeddingBlob, &embeddingModel, &owner,
	)
	if err != nil {
		return nil, err
	}

	note.Namespace = types.Namespace{
		Kind:      types.NamespaceKind(namespaceKind),
		Project:   namespaceProject,
		SessionID: namespaceSession,
	}
	note.MemoryType = types.MemoryType(memoryType)
	note.IsArchived = intToBool(isArchived)

	if summary.Valid {
		note.Summary = summary.String
	}
	if context.Valid {
		note.Context = context.String
	}
	if supersededBy.Valid {
		note.SupersededBy = supersededBy.String
	}
	if owner.Valid {
		note.Owner = owner.String
	}
	if embeddingModel.Valid {
		note.EmbeddingModel = embeddingModel.String
	}
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		json.Unmarshal([]byte(keywordsJSON.String), &note.Keywords)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &note.Tags)
	}
	if relatedFilesJSON.Valid && relatedFilesJSON.String != "" {
		json.Unmarshal([]byte(relatedFilesJSON.String), &note.RelatedFiles)
	}
	if relatedEntitiesJSON.Valid && relatedEntitiesJSON.String != "" {
		json.Unmarshal([]byte(relatedEntitiesJSON.String), &note.RelatedEntities)
	}
	if lastAccessedAt.Valid {
		note.LastAccessedAt = &lastAccessedAt.Time
	}
	if expiresAt.Valid {
		note.ExpiresAt = &expiresAt.Time
	}
	if len(embeddingBlob) > 0 {
		note.Embedding = decodeEmbedding(embeddingBlob)
	}

	return note, nil
}

// appendNamespaceFilter extends a query with the visibility rule from
// spec.md §4.1: Project{p} sees Global ∪ Project{p}; Session{p,s} sees
// Global ∪ Project{p} ∪ Session{p,s}; Global sees Global only. A nil ns
// means "no namespace filtering" (internal/maintenance use only).
func appendNamespaceFilter(query string, args []interface{}, ns *types.Namespace) (string, []interface{}) {
	if ns == nil {
		return query, args
	}
	switch ns.Kind {
	case types.NamespaceGlobal:
		query += " AND namespace_kind = 'global'"
	case types.NamespaceProject:
		query += " AND (namespace_kind = 'global' OR (namespace_kind = 'project' AND namespace_project = ?))"
		args = append(args, ns.Project)
	case types.NamespaceSession:
		query += ` AND (
			namespace_kind = 'global'
			OR (namespace_kind = 'project' AND namespace_project = ?)
			OR (namespace_kind = 'session' AND namespace_project = ? AND namespace_session = ?)
		)`
		args = append(args, ns.Project, ns.Project, ns.SessionID)
	}
	return query, args
}

// embeddingModelTag returns a stable tag identifying the configured
// embedding provider, stored alongside each regenerated embedding.
func (s *Store) embeddingModelTag() string {
	if s.embed == nil {
		return ""
	}
	return "configured"
}
