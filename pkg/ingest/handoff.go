// Package ingest implements the Stage-1 Handoff Ingestor (§4.3,
// component C): a fast, idempotent import of an upstream capture
// host's handoff directory into the content-addressed store. It never
// invokes OCR/VLM/embedding models — Stage-1 runtime scales with bytes
// moved only.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ninjra/autocapture-pipeline/pkg/audit"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"
	"github.com/gofrs/flock"

	_ "modernc.org/sqlite"
)

// Mode selects how media blobs are transferred from the handoff
// directory into the destination blob store.
type Mode string

const (
	ModeHardlink Mode = "hardlink"
	ModeCopy     Mode = "copy"
)

// ReapMarker is the v1 schema written into the handoff directory once
// ingest completes, authorizing the upstream reaper to delete it
// (§6: "Upstream reaper deletes handoff only on valid v1 parse.").
type ReapMarker struct {
	Schema        string      `json:"schema"`
	HandoffRoot   string      `json:"handoff_root"`
	DestDataRoot  string      `json:"dest_data_root"`
	IngestedAtUTC string      `json:"ingested_at_utc"`
	IngestRunID   string      `json:"ingest_run_id"`
	Counts        ReapCounts  `json:"counts"`
	Integrity     ReapIntegrity `json:"integrity"`
}

type ReapCounts struct {
	MetadataRowsCopied int `json:"metadata_rows_copied"`
	MediaFilesLinked   int `json:"media_files_linked"`
	MediaFilesCopied   int `json:"media_files_copied"`
	BytesIngested      int64 `json:"bytes_ingested"`
}

type ReapIntegrity struct {
	DestMetadataDBSHA256 string `json:"dest_metadata_db_sha256,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

const ReapMarkerSchema = "autocapture.handoff.reap_eligible.v1"

// Ingestor runs Stage-1 handoff imports into a single destination data
// root.
type Ingestor struct {
	store     *casstore.Store
	blobs     *casstore.BlobStore
	auditLog  *audit.Store
	dataRoot  string
	clock     func() time.Time
}

// New builds an Ingestor writing into store/blobs/auditLog, all rooted
// at dataRoot (used for the exclusive destination lock file).
func New(dataRoot string, store *casstore.Store, blobs *casstore.BlobStore, auditLog *audit.Store) *Ingestor {
	return &Ingestor{store: store, blobs: blobs, auditLog: auditLog, dataRoot: dataRoot, clock: time.Now}
}

// Result summarizes one Ingest call.
type Result struct {
	Marker ReapMarker
}

// Ingest runs the §4.3 algorithm against a single handoff directory.
func (in *Ingestor) Ingest(ctx context.Context, handoffRoot string, mode Mode, strict bool) (*Result, error) {
	lockPath := filepath.Join(in.dataRoot, ".ingest.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil || !locked {
		return nil, perr.New(perr.KindStoreTransient, "ingest.Ingest", "could not acquire destination data root lock")
	}
	defer fl.Unlock()

	completePath := filepath.Join(handoffRoot, "COMPLETE.json")
	if _, err := os.Stat(completePath); err != nil {
		return nil, perr.Wrap(perr.KindHandoffIncomplete, "ingest.Ingest", "COMPLETE.json missing; skipping", err)
	}

	runID := uuid.NewString()
	metaPath := filepath.Join(handoffRoot, "metadata.db")
	srcDB, err := sql.Open("sqlite", "file:"+metaPath+"?mode=ro&immutable=1")
	if err != nil {
		return nil, perr.Wrap(perr.KindHandoffIncomplete, "ingest.Ingest", "attach source metadata.db", err)
	}
	defer srcDB.Close()

	rows, err := srcDB.QueryContext(ctx, `SELECT id, kind, payload_json, ts_ms FROM records ORDER BY id`)
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreCorruption, "ingest.Ingest", "read source records", err)
	}
	defer rows.Close()

	counts := ReapCounts{}
	var mediaRefs []string
	newRefs := make(map[string]bool) // blobs referenced by rows this run inserted
	for rows.Next() {
		var id, kind, payload string
		var tsMs int64
		if err := rows.Scan(&id, &kind, &payload, &tsMs); err != nil {
			return nil, perr.Wrap(perr.KindStoreCorruption, "ingest.Ingest", "scan source row", err)
		}
		copied, refs, err := in.copyMetadataRow(ctx, id, kind, payload, tsMs)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		if copied {
			counts.MetadataRowsCopied++
			for _, r := range refs {
				newRefs[r] = true
			}
		}
		mediaRefs = append(mediaRefs, refs...)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(perr.KindStoreCorruption, "ingest.Ingest", "iterate source rows", err)
	}

	for _, sha := range mediaRefs {
		srcBlob := filepath.Join(handoffRoot, "media", sha[:2], sha+".blob")
		if _, err := os.Stat(srcBlob); err != nil {
			return nil, perr.Wrap(perr.KindHandoffIncomplete, "ingest.Ingest", fmt.Sprintf("referenced blob %s missing", sha), err)
		}
		digest, hardlinked, err := in.materializeBlob(ctx, srcBlob, mode)
		if err != nil {
			return nil, perr.Wrap(perr.KindStoreTransient, "ingest.Ingest", "copy blob", err)
		}
		if digest != sha {
			return nil, perr.New(perr.KindStoreCorruption, "ingest.Ingest", fmt.Sprintf("blob checksum mismatch: expected %s got %s", sha, digest))
		}
		if !newRefs[sha] {
			continue // row ingested by an earlier run: blob verified above, not counted again
		}
		info, _ := os.Stat(srcBlob)
		if info != nil {
			counts.BytesIngested += info.Size()
		}
		if hardlinked {
			counts.MediaFilesLinked++
		} else {
			counts.MediaFilesCopied++
		}
	}

	if _, err := in.auditLog.Append(ctx, audit.Row{
		RunID:    runID,
		PluginID: "system.ingest.handoff",
		Method:   "completed",
		Success:  true,
		RowsIn:   counts.MetadataRowsCopied,
		RowsOut:  counts.MetadataRowsCopied,
		PayloadBytes: counts.BytesIngested,
	}); err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "ingest.Ingest", "write audit row", err)
	}

	marker := ReapMarker{
		Schema:        ReapMarkerSchema,
		HandoffRoot:   handoffRoot,
		DestDataRoot:  in.dataRoot,
		IngestedAtUTC: in.clock().UTC().Format(time.RFC3339),
		IngestRunID:   runID,
		Counts:        counts,
	}
	if err := writeMarkerAtomic(filepath.Join(handoffRoot, "reap_eligible.json"), marker); err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "ingest.Ingest", "write reap marker", err)
	}

	return &Result{Marker: marker}, nil
}

// materializeBlob transfers srcBlob into the destination blob store,
// honoring the requested mode: hardlink mode attempts Link first and
// falls back to a streamed copy on EXDEV (§4.3 step 4); copy mode
// always streams, e.g. when handoff and data root are known to be on
// separate filesystems.
func (in *Ingestor) materializeBlob(ctx context.Context, srcBlob string, mode Mode) (digest string, hardlinked bool, err error) {
	if mode == ModeCopy {
		data, err := os.ReadFile(srcBlob)
		if err != nil {
			return "", false, fmt.Errorf("ingest: read source blob: %w", err)
		}
		digest, err = in.blobs.PutBlob(ctx, data, in.clock().Add(casstore.DefaultTTL))
		return digest, false, err
	}
	return casstore.CopyBlobFromFile(ctx, in.blobs, srcBlob, in.clock().Add(casstore.DefaultTTL))
}

// copyMetadataRow copies one source row into the destination store via
// INSERT OR IGNORE semantics (idempotence under re-ingest, §4.3 step 3
// / invariant "S1"). It returns the media sha256 references embedded
// in payload so the caller can materialize blobs.
func (in *Ingestor) copyMetadataRow(ctx context.Context, id, kind, payload string, tsMs int64) (copied bool, mediaRefs []string, err error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return false, nil, perr.Wrap(perr.KindStoreCorruption, "ingest.copyMetadataRow", "parse payload", err)
	}
	if sha, ok := doc["image_sha256"].(string); ok && sha != "" {
		mediaRefs = append(mediaRefs, sha)
	}

	inserted, err := in.store.InsertIfAbsent(ctx, id, kind, payload, tsMs)
	if err != nil {
		return false, mediaRefs, perr.Wrap(perr.KindStoreTransient, "ingest.copyMetadataRow", "insert destination row", err)
	}
	return inserted, mediaRefs, nil
}

func writeMarkerAtomic(path string, marker ReapMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("ingest: marshal reap marker: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ingest: write temp marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ingest: rename marker into place: %w", err)
	}
	return nil
}
