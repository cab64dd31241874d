// Package casstore implements the Content-Addressed Store (§4.1,
// component A): an embedded relational store for metadata/projection
// rows plus a content-addressed blob directory for media. Writes are
// transactional — envelope validation, schema check, and projection
// upsert all happen inside one sqlite transaction — so a crash mid
// write never leaves a dangling projection row.
package casstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"

	_ "modernc.org/sqlite"
)

// Store is the content-addressed metadata store. One Store owns exactly
// one sqlite file; the audit store is intentionally separate (§4.1:
// "A separate audit store is mandatory to isolate heavy append traffic
// from metadata").
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at path and
// runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.Open", "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // single-writer authority per store (§5)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			artifact_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			created_ts_ms INTEGER NOT NULL,
			envelope_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata_projection (
			artifact_id TEXT PRIMARY KEY REFERENCES records(artifact_id),
			kind TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			session_id TEXT,
			search_text TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projection_kind_ts ON metadata_projection(kind, ts_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_projection_ts ON metadata_projection(ts_ms)`,
		`CREATE TABLE IF NOT EXISTS blob_meta (
			sha256 TEXT PRIMARY KEY,
			size_bytes INTEGER NOT NULL,
			ttl_expires_at INTEGER NOT NULL,
			created_ts_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_ts_ms INTEGER NOT NULL)`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "casstore.migrate", "begin tx", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return perr.Wrap(perr.KindStoreCorruption, "casstore.migrate", "apply migration", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (version, applied_ts_ms) VALUES (1, ?)`, time.Now().UnixMilli()); err != nil {
		return perr.Wrap(perr.KindStoreCorruption, "casstore.migrate", "record migration version", err)
	}
	return tx.Commit()
}

// ProjectionRow is the denormalized row recomputable from records, used
// by scan_by_* (§4.1, invariant 8).
type ProjectionRow struct {
	ArtifactID string
	Kind       artifact.Kind
	TsMs       int64
	SessionID  string
	SearchText string
}

// PutRecord validates env (§3 invariants 1–4) and writes it plus its
// projection row in a single transaction. A validation failure never
// partially commits.
func (s *Store) PutRecord(ctx context.Context, env *artifact.Envelope, proj ProjectionRow) (string, error) {
	if err := env.Validate(); err != nil {
		return "", perr.Wrap(perr.KindProvenanceMissing, "casstore.PutRecord", "envelope failed validation", err)
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", perr.Wrap(perr.KindValidation, "casstore.PutRecord", "marshal envelope", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutRecord", "begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO records (artifact_id, kind, schema_version, created_ts_ms, envelope_json)
		VALUES (?, ?, ?, ?, ?)`,
		env.ArtifactID, string(env.Kind), env.SchemaVersion, env.CreatedTsMs, string(envJSON))
	if err != nil {
		return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutRecord", "insert record", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata_projection (artifact_id, kind, ts_ms, session_id, search_text)
		VALUES (?, ?, ?, ?, ?)`,
		env.ArtifactID, string(proj.Kind), proj.TsMs, proj.SessionID, proj.SearchText)
	if err != nil {
		return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutRecord", "upsert projection", err)
	}

	if err := tx.Commit(); err != nil {
		return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutRecord", "commit", err)
	}
	return env.ArtifactID, nil
}

// InsertIfAbsent copies one already-produced record row verbatim,
// keyed by its artifact_id, without re-validating it as a fresh
// envelope (§4.3 step 3: "copy rows into destination via INSERT OR
// IGNORE keyed by content hash"). It is used by the handoff ingestor,
// which moves rows a Stage-2 node already wrote upstream rather than
// minting new artifacts. Returns whether a row was actually inserted
// (false on a duplicate re-ingest, satisfying the Stage-1 idempotence
// invariant).
func (s *Store) InsertIfAbsent(ctx context.Context, artifactID, kind, envelopeJSON string, createdTsMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO records (artifact_id, kind, schema_version, created_ts_ms, envelope_json)
		VALUES (?, ?, 1, ?, ?)`,
		artifactID, kind, createdTsMs, envelopeJSON)
	if err != nil {
		return false, perr.Wrap(perr.KindStoreTransient, "casstore.InsertIfAbsent", "insert record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, perr.Wrap(perr.KindStoreTransient, "casstore.InsertIfAbsent", "rows affected", err)
	}
	return n > 0, nil
}

// GetRecord fetches one record by artifact_id.
func (s *Store) GetRecord(ctx context.Context, id string) (*artifact.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `SELECT envelope_json FROM records WHERE artifact_id = ?`, id)
	var envJSON string
	if err := row.Scan(&envJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("casstore: record %s not found", id)
		}
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.GetRecord", "scan", err)
	}
	var env artifact.Envelope
	if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
		return nil, perr.Wrap(perr.KindStoreCorruption, "casstore.GetRecord", "unmarshal envelope", err)
	}
	return &env, nil
}

// GetRawRecord fetches one record's kind, created_ts_ms (straight from
// the records table's own column, not reparsed from JSON), and its
// envelope_json decoded as a generic document. Unlike GetRecord, it
// does not assume the row is artifact.Envelope-shaped — rows ingested
// verbatim from an upstream capture host (e.g. frame records, see
// pkg/ingest) carry whatever JSON shape that host wrote, not ours.
func (s *Store) GetRawRecord(ctx context.Context, id string) (kind string, createdTsMs int64, payload map[string]interface{}, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT kind, created_ts_ms, envelope_json FROM records WHERE artifact_id = ?`, id)
	var raw string
	if scanErr := row.Scan(&kind, &createdTsMs, &raw); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", 0, nil, fmt.Errorf("casstore: record %s not found", id)
		}
		return "", 0, nil, perr.Wrap(perr.KindStoreTransient, "casstore.GetRawRecord", "scan", scanErr)
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", 0, nil, perr.Wrap(perr.KindStoreCorruption, "casstore.GetRawRecord", "unmarshal payload", err)
	}
	return kind, createdTsMs, payload, nil
}

// ReconcileRawProjection rebuilds metadata_projection for a raw,
// non-Envelope-shaped kind straight from the records table's own
// kind/created_ts_ms columns, instead of parsing envelope_json as an
// artifact.Envelope the way ReconcileProjection does. Rows ingested
// verbatim (§4.3 handoff) never populate the projection table on
// write, so a kind like KindFrame is invisible to scan_by_* until this
// runs once.
func (s *Store) ReconcileRawProjection(ctx context.Context, kind artifact.Kind) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileRawProjection", "begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT artifact_id, created_ts_ms FROM records WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileRawProjection", "query records", err)
	}
	type pending struct {
		id        string
		createdTs int64
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.createdTs); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, p)
	}
	rows.Close()

	count := 0
	for _, p := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO metadata_projection (artifact_id, kind, ts_ms, session_id, search_text)
			VALUES (?, ?, ?, '', '')`,
			p.id, string(kind), p.createdTs)
		if err != nil {
			return count, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileRawProjection", "upsert", err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return count, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileRawProjection", "commit", err)
	}
	return count, nil
}

// TimeRange bounds a scan_by_time / scan_by_kind query, inclusive.
type TimeRange struct {
	StartMs int64
	EndMs   int64
}

// ScanByKind reads artifact ids of a given kind in a time range from the
// projection table only (§4.1: "scan_by_* reads from projection only").
func (s *Store) ScanByKind(ctx context.Context, kind artifact.Kind, tr TimeRange) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id FROM metadata_projection
		WHERE kind = ? AND ts_ms >= ? AND ts_ms <= ?
		ORDER BY ts_ms ASC`, string(kind), tr.StartMs, tr.EndMs)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.ScanByKind", "query", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ScanByTime reads all artifact ids in a time range, any kind.
func (s *Store) ScanByTime(ctx context.Context, tr TimeRange) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id FROM metadata_projection
		WHERE ts_ms >= ? AND ts_ms <= ?
		ORDER BY ts_ms ASC`, tr.StartMs, tr.EndMs)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.ScanByTime", "query", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReconcileProjection rebuilds metadata_projection from records for the
// given kind, satisfying invariant 8 (projection recomputability). It is
// idempotent: running it twice in a row produces byte-identical
// projection rows.
func (s *Store) ReconcileProjection(ctx context.Context, kind artifact.Kind) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileProjection", "begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT artifact_id, envelope_json FROM records WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileProjection", "query records", err)
	}
	type pending struct {
		id  string
		env artifact.Envelope
	}
	var batch []pending
	for rows.Next() {
		var id, envJSON string
		if err := rows.Scan(&id, &envJSON); err != nil {
			rows.Close()
			return 0, err
		}
		var env artifact.Envelope
		if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
			rows.Close()
			return 0, perr.Wrap(perr.KindStoreCorruption, "casstore.ReconcileProjection", "unmarshal", err)
		}
		batch = append(batch, pending{id: id, env: env})
	}
	rows.Close()

	count := 0
	for _, p := range batch {
		sessionID, _ := p.env.Payload.(map[string]interface{})["session_id"].(string)
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO metadata_projection (artifact_id, kind, ts_ms, session_id, search_text)
			VALUES (?, ?, ?, ?, ?)`,
			p.id, string(p.env.Kind), p.env.CreatedTsMs, sessionID, "")
		if err != nil {
			return count, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileProjection", "upsert", err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return count, perr.Wrap(perr.KindStoreTransient, "casstore.ReconcileProjection", "commit", err)
	}
	return count, nil
}
