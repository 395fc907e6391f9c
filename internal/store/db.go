// Package store implements the Memory Store (spec.md §4.1): a single
// SQLite-backed namespaced knowledge base with keyword, vector, hybrid,
// and graph-traversal retrieval, grounded on the teacher's
// internal/memory/learning.go and operational.go (pragmas, go:embed
// schema, embedding encode/decode, cosine similarity) consolidated per
// DESIGN.md's single-file redesign.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mnemosyne/mnemosyne/internal/config"
)

//go:embed schema.sql
var schema string

// schemaVersion is bumped whenever schema.sql changes in a way that
// requires a forward migration (spec.md §6 "Schema versioning and
// forward migrations are required").
const schemaVersion = 2

// Store is the Memory Store. Exactly one *sql.DB backs it, with
// SetMaxOpenConns(1) as the teacher configures — SQLite serializes
// writers regardless, so additional connections only add contention.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	cfg    config.StoreConfig
	embed  EmbeddingProvider
	cache  *prefetchCache
}

// Open creates (or reopens) the single consolidated database file and
// applies the embedded schema and any pending migrations.
func Open(cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	path := cfg.DataDir + "/" + cfg.DBFileName
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:    db,
		log:   logger,
		cfg:   cfg,
		cache: newPrefetchCache(256),
	}, nil
}

// migrate records the current schema version. Future schema changes
// append version-gated ALTER TABLE statements here rather than mutating
// schema.sql destructively.
func migrate(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		if err := applyMigration(db, v); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", v, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", v, time.Now()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", v, err)
		}
	}
	return nil
}

// applyMigration runs the forward-only DDL for version v. schema.sql's
// CREATE TABLE IF NOT EXISTS only covers brand-new databases; a database
// created under an older schemaVersion needs its existing tables altered
// here instead.
func applyMigration(db *sql.DB, v int) error {
	switch v {
	case 2:
		// Evolution Scheduler's link decay job (spec.md §4.5) needs to
		// know when a link was last traversed; pre-v2 databases created
		// the links table without that column.
		if hasColumn(db, "links", "last_traversed_at") {
			return nil
		}
		_, err := db.Exec("ALTER TABLE links ADD COLUMN last_traversed_at DATETIME")
		return err
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk) != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// SetEmbeddingProvider configures the embedding provider used by update()
// to regenerate embeddings when content changes, and by hybrid_search's
// vector leg. StoreNote does not call it; it keeps whatever embedding
// the caller supplies.
func (s *Store) SetEmbeddingProvider(p EmbeddingProvider) {
	s.embed = p
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
