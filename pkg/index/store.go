// Package index implements the Index Layer (§4.7, component G): three
// derived, fully rebuildable indexes over committed artifacts — a
// lexical inverted index (BM25), a vector index over state/text
// embeddings, and a time index — plus the freshness guard that gates
// releases on stale query-critical kinds.
package index

import (
	"context"
	"database/sql"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"

	_ "modernc.org/sqlite"
)

// Store owns the sqlite-backed lexical and time indexes. Like
// casstore, every index here is a derived projection: dropping the
// database and reconciling from committed artifacts reproduces it
// byte-for-byte (invariant 8).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the index database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "index.Open", "open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS postings (
			term TEXT NOT NULL,
			artifact_id TEXT NOT NULL,
			bbox_x1 INTEGER NOT NULL DEFAULT 0,
			bbox_y1 INTEGER NOT NULL DEFAULT 0,
			bbox_x2 INTEGER NOT NULL DEFAULT 0,
			bbox_y2 INTEGER NOT NULL DEFAULT 0,
			ts_ms INTEGER NOT NULL,
			term_freq INTEGER NOT NULL,
			PRIMARY KEY (term, artifact_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_postings_term ON postings(term)`,
		`CREATE TABLE IF NOT EXISTS doc_stats (
			artifact_id TEXT PRIMARY KEY,
			length INTEGER NOT NULL,
			ts_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS time_entries (
			ts_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			PRIMARY KEY (ts_ms, kind, ref_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_time_entries_ts ON time_entries(ts_ms)`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "index.migrate", "begin tx", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return perr.Wrap(perr.KindStoreCorruption, "index.migrate", "apply migration", err)
		}
	}
	return tx.Commit()
}
