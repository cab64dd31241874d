// Package audit implements the per-plugin-call audit trail (§4.9,
// component I) and the ProvenanceRecord/AuditRow schemas of §3. It is a
// hash-chained, append-only, single-writer store kept physically
// separate from the metadata store to avoid lock contention between
// audit writes and the CAS store's own transactions.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"

	_ "modernc.org/sqlite"
)

// Row is one per-plugin-call audit entry (§3 AuditRow).
type Row struct {
	EntryID      string `json:"entry_id"`
	Sequence     uint64 `json:"sequence"`
	Timestamp    int64  `json:"timestamp_ms"`
	RunID        string `json:"run_id"`
	PluginID     string `json:"plugin_id"`
	Capability   string `json:"capability"`
	Method       string `json:"method"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	DurationNs   int64  `json:"duration_ns"`
	RowsIn       int    `json:"rows_in"`
	RowsOut      int    `json:"rows_out"`
	RSSBytes     int64  `json:"rss_bytes"`
	VMSBytes     int64  `json:"vms_bytes"`
	InputHash    string `json:"input_hash"`
	OutputHash   string `json:"output_hash"`
	DataHash     string `json:"data_hash"`
	CodeHash     string `json:"code_hash"`
	SettingsHash string `json:"settings_hash"`
	PayloadBytes int64  `json:"payload_bytes"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// Store is an append-only, hash-chained audit log backed by its own
// sqlite database (kept separate from casstore.Store per §4.1/§5).
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	chainHead string
	sequence  uint64
	clock     func() time.Time
}

// Open opens (creating if necessary) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "audit.Open", "open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, chainHead: "genesis", clock: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	if err := s.restoreChainHead(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_rows (
			sequence INTEGER PRIMARY KEY,
			entry_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			plugin_id TEXT NOT NULL,
			capability TEXT,
			method TEXT,
			success INTEGER NOT NULL,
			error TEXT,
			duration_ns INTEGER,
			rows_in INTEGER,
			rows_out INTEGER,
			rss_bytes INTEGER,
			vms_bytes INTEGER,
			input_hash TEXT,
			output_hash TEXT,
			data_hash TEXT,
			code_hash TEXT,
			settings_hash TEXT,
			payload_bytes INTEGER,
			previous_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL
		)`)
	if err != nil {
		return perr.Wrap(perr.KindStoreCorruption, "audit.migrate", "create table", err)
	}
	return nil
}

func (s *Store) restoreChainHead(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT sequence, entry_hash FROM audit_rows ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var hash string
	if err := row.Scan(&seq, &hash); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return perr.Wrap(perr.KindStoreTransient, "audit.restoreChainHead", "scan", err)
	}
	s.sequence = seq
	s.chainHead = hash
	return nil
}

// Append writes a new row, stamping sequence, previous_hash, and
// entry_hash. It never mutates or deletes — audit rows are append-only
// and never deleted (§3 Lifecycle).
func (s *Store) Append(ctx context.Context, row Row) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	row.Sequence = s.sequence
	if row.EntryID == "" {
		row.EntryID = uuid.New().String()
	}
	if row.Timestamp == 0 {
		row.Timestamp = s.clock().UnixMilli()
	}
	row.PreviousHash = s.chainHead
	row.EntryHash = computeEntryHash(row)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_rows (
			sequence, entry_id, timestamp_ms, run_id, plugin_id, capability, method,
			success, error, duration_ns, rows_in, rows_out, rss_bytes, vms_bytes,
			input_hash, output_hash, data_hash, code_hash, settings_hash, payload_bytes,
			previous_hash, entry_hash
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		row.Sequence, row.EntryID, row.Timestamp, row.RunID, row.PluginID, row.Capability, row.Method,
		boolToInt(row.Success), row.Error, row.DurationNs, row.RowsIn, row.RowsOut, row.RSSBytes, row.VMSBytes,
		row.InputHash, row.OutputHash, row.DataHash, row.CodeHash, row.SettingsHash, row.PayloadBytes,
		row.PreviousHash, row.EntryHash)
	if err != nil {
		s.sequence--
		return nil, perr.Wrap(perr.KindStoreTransient, "audit.Append", "insert row", err)
	}
	s.chainHead = row.EntryHash
	return &row, nil
}

// VerifyChain walks the full audit log and confirms every entry_hash
// matches its recomputation and that previous_hash links are unbroken.
// Returns the list of sequence numbers with a detected break, empty if
// the chain is intact.
func (s *Store) VerifyChain(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, entry_id, timestamp_ms, run_id, plugin_id, capability, method,
		success, error, duration_ns, rows_in, rows_out, rss_bytes, vms_bytes,
		input_hash, output_hash, data_hash, code_hash, settings_hash, payload_bytes,
		previous_hash, entry_hash FROM audit_rows ORDER BY sequence ASC`)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "audit.VerifyChain", "query", err)
	}
	defer rows.Close()

	var broken []uint64
	prevHash := "genesis"
	for rows.Next() {
		var r Row
		var success int
		if err := rows.Scan(&r.Sequence, &r.EntryID, &r.Timestamp, &r.RunID, &r.PluginID, &r.Capability, &r.Method,
			&success, &r.Error, &r.DurationNs, &r.RowsIn, &r.RowsOut, &r.RSSBytes, &r.VMSBytes,
			&r.InputHash, &r.OutputHash, &r.DataHash, &r.CodeHash, &r.SettingsHash, &r.PayloadBytes,
			&r.PreviousHash, &r.EntryHash); err != nil {
			return nil, err
		}
		r.Success = success != 0
		if r.PreviousHash != prevHash {
			broken = append(broken, r.Sequence)
		}
		recomputed := computeEntryHash(Row{
			Sequence: r.Sequence, EntryID: r.EntryID, Timestamp: r.Timestamp, RunID: r.RunID,
			PluginID: r.PluginID, Capability: r.Capability, Method: r.Method, Success: r.Success,
			Error: r.Error, DurationNs: r.DurationNs, RowsIn: r.RowsIn, RowsOut: r.RowsOut,
			RSSBytes: r.RSSBytes, VMSBytes: r.VMSBytes, InputHash: r.InputHash, OutputHash: r.OutputHash,
			DataHash: r.DataHash, CodeHash: r.CodeHash, SettingsHash: r.SettingsHash,
			PayloadBytes: r.PayloadBytes, PreviousHash: r.PreviousHash,
		})
		if recomputed != r.EntryHash {
			broken = append(broken, r.Sequence)
		}
		prevHash = r.EntryHash
	}
	return broken, rows.Err()
}

func computeEntryHash(r Row) string {
	r.EntryHash = ""
	b, _ := json.Marshal(r)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LatestRow returns the most recently appended row for pluginID, or nil
// if none exists yet.
func (s *Store) LatestRow(ctx context.Context, pluginID string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT sequence, entry_id, timestamp_ms, run_id, plugin_id, capability, method,
		success, error, duration_ns, rows_in, rows_out, rss_bytes, vms_bytes,
		input_hash, output_hash, data_hash, code_hash, settings_hash, payload_bytes,
		previous_hash, entry_hash FROM audit_rows WHERE plugin_id = ? ORDER BY sequence DESC LIMIT 1`, pluginID)
	var r Row
	var success int
	if err := row.Scan(&r.Sequence, &r.EntryID, &r.Timestamp, &r.RunID, &r.PluginID, &r.Capability, &r.Method,
		&success, &r.Error, &r.DurationNs, &r.RowsIn, &r.RowsOut, &r.RSSBytes, &r.VMSBytes,
		&r.InputHash, &r.OutputHash, &r.DataHash, &r.CodeHash, &r.SettingsHash, &r.PayloadBytes,
		&r.PreviousHash, &r.EntryHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, perr.Wrap(perr.KindStoreTransient, "audit.LatestRow", "scan", err)
	}
	r.Success = success != 0
	return &r, nil
}

// CountByAction returns the number of rows matching (plugin_id, method)
// — used by S1 (Stage-1 idempotence) to assert exactly one
// system.ingest.handoff.completed row per invocation.
func (s *Store) CountByAction(ctx context.Context, pluginID, method string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_rows WHERE plugin_id = ? AND method = ?`, pluginID, method)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}
