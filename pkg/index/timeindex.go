package index

import (
	"context"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

// TimeRange bounds a time-index query, inclusive.
type TimeRange struct {
	StartMs int64
	EndMs   int64
}

// TimeEntry is one (ts_ms) -> {state_id | delta_id | action_id} row
// (§4.7: "Time index: (ts_ms) → {state_id, delta_id, action_id}
// B-tree equivalent").
type TimeEntry struct {
	TsMs  int64
	Kind  string
	RefID string
}

// IndexTime upserts one time-index entry.
func (s *Store) IndexTime(ctx context.Context, entry TimeEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO time_entries (ts_ms, kind, ref_id) VALUES (?, ?, ?)`,
		entry.TsMs, entry.Kind, entry.RefID)
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "index.IndexTime", "upsert entry", err)
	}
	return nil
}

// RangeQuery returns every entry in [tr.StartMs, tr.EndMs], ascending
// by ts_ms, optionally filtered to one kind.
func (s *Store) RangeQuery(ctx context.Context, tr TimeRange, kind string) ([]TimeEntry, error) {
	var rows = func() (queryRows, error) {
		if kind == "" {
			return s.db.QueryContext(ctx, `
				SELECT ts_ms, kind, ref_id FROM time_entries
				WHERE ts_ms >= ? AND ts_ms <= ? ORDER BY ts_ms ASC`, tr.StartMs, tr.EndMs)
		}
		return s.db.QueryContext(ctx, `
			SELECT ts_ms, kind, ref_id FROM time_entries
			WHERE ts_ms >= ? AND ts_ms <= ? AND kind = ? ORDER BY ts_ms ASC`, tr.StartMs, tr.EndMs, kind)
	}
	r, err := rows()
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "index.RangeQuery", "query", err)
	}
	defer r.Close()

	var out []TimeEntry
	for r.Next() {
		var e TimeEntry
		if err := r.Scan(&e.TsMs, &e.Kind, &e.RefID); err != nil {
			return nil, perr.Wrap(perr.KindStoreTransient, "index.RangeQuery", "scan", err)
		}
		out = append(out, e)
	}
	return out, r.Err()
}

// queryRows is the subset of *sql.Rows RangeQuery needs, so its
// helper closure can return either of two query shapes uniformly.
type queryRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}
