package casstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

// BlobStore is the separate media store referenced by §3 invariant 5:
// "media blobs live in a separate store with mandatory TTL metadata."
// No raw-pixel bytes are ever stored in the derived (metadata) store —
// only this store, keyed by the first two hex bytes of the sha256.
type BlobStore struct {
	root  string
	store *Store // TTL metadata lives in the shared sqlite store
}

// DefaultTTL is the TTL applied when a caller does not specify one
// (§3 invariant 5).
const DefaultTTL = 60 * 24 * time.Hour

// NewBlobStore creates a blob store rooted at dir, backed by store for
// TTL bookkeeping.
func NewBlobStore(dir string, store *Store) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.NewBlobStore", "mkdir", err)
	}
	return &BlobStore{root: dir, store: store}, nil
}

func (b *BlobStore) pathFor(sha256hex string) string {
	return filepath.Join(b.root, sha256hex[:2], sha256hex+".blob")
}

// PutBlob writes data content-addressed by its SHA-256 digest and
// records a TTL expiry. Writing the same bytes twice does not rewrite
// the file (content addressing makes the write idempotent) but does
// replace the blob's TTL metadata with ttlExpiresAt.
func (b *BlobStore) PutBlob(ctx context.Context, data []byte, ttlExpiresAt time.Time) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	path := b.pathFor(digest)
	if _, err := os.Stat(path); err != nil { // not yet present: write it
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutBlob", "mkdir", err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutBlob", "write tmp", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutBlob", "rename", err)
		}
	}

	_, err := b.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blob_meta (sha256, size_bytes, ttl_expires_at, created_ts_ms)
		VALUES (?, ?, ?, ?)`,
		digest, len(data), ttlExpiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return "", perr.Wrap(perr.KindStoreTransient, "casstore.PutBlob", "record ttl metadata", err)
	}
	return digest, nil
}

// GetBlob reads blob bytes by digest. It fails if the blob is past its
// TTL (§4.1: "fails if past TTL"), even if the file has not yet been
// swept from disk.
func (b *BlobStore) GetBlob(ctx context.Context, digest string) ([]byte, error) {
	var ttlMs int64
	row := b.store.db.QueryRowContext(ctx, `SELECT ttl_expires_at FROM blob_meta WHERE sha256 = ?`, digest)
	if err := row.Scan(&ttlMs); err != nil {
		return nil, fmt.Errorf("casstore: blob %s not found", digest)
	}
	if time.Now().UnixMilli() > ttlMs {
		return nil, fmt.Errorf("casstore: blob %s past TTL", digest)
	}
	data, err := os.ReadFile(b.pathFor(digest))
	if err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "casstore.GetBlob", "read", err)
	}
	return data, nil
}

// CopyBlobFromFile hardlinks src into the blob store keyed by its verified
// sha256, falling back to a streamed copy on EXDEV (§4.3 step 4). It
// returns the digest and whether a hardlink was used.
func CopyBlobFromFile(ctx context.Context, b *BlobStore, src string, ttlExpiresAt time.Time) (digest string, hardlinked bool, err error) {
	f, err := os.Open(src)
	if err != nil {
		return "", false, perr.Wrap(perr.KindHandoffIncomplete, "casstore.CopyBlobFromFile", "open source", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false, perr.Wrap(perr.KindHandoffIncomplete, "casstore.CopyBlobFromFile", "hash source", err)
	}
	digest = hex.EncodeToString(h.Sum(nil))
	dst := b.pathFor(digest)

	if _, statErr := os.Stat(dst); statErr == nil {
		if err := recordTTL(ctx, b, digest, f, ttlExpiresAt); err != nil {
			return "", false, err
		}
		return digest, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", false, perr.Wrap(perr.KindStoreTransient, "casstore.CopyBlobFromFile", "mkdir", err)
	}

	if err := os.Link(src, dst); err == nil {
		if tErr := recordTTL(ctx, b, digest, f, ttlExpiresAt); tErr != nil {
			return "", false, tErr
		}
		return digest, true, nil
	}

	// EXDEV or unsupported filesystem: stream copy.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", false, perr.Wrap(perr.KindHandoffIncomplete, "casstore.CopyBlobFromFile", "seek", err)
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", false, perr.Wrap(perr.KindStoreTransient, "casstore.CopyBlobFromFile", "create tmp", err)
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		return "", false, perr.Wrap(perr.KindHandoffIncomplete, "casstore.CopyBlobFromFile", "stream copy", err)
	}
	out.Close()
	if err := os.Rename(tmp, dst); err != nil {
		return "", false, perr.Wrap(perr.KindStoreTransient, "casstore.CopyBlobFromFile", "rename", err)
	}
	if err := recordTTL(ctx, b, digest, f, ttlExpiresAt); err != nil {
		return "", false, err
	}
	return digest, false, nil
}

func recordTTL(ctx context.Context, b *BlobStore, digest string, f *os.File, ttlExpiresAt time.Time) error {
	info, err := f.Stat()
	if err != nil {
		return perr.Wrap(perr.KindHandoffIncomplete, "casstore.recordTTL", "stat", err)
	}
	_, err = b.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blob_meta (sha256, size_bytes, ttl_expires_at, created_ts_ms)
		VALUES (?, ?, ?, ?)`,
		digest, info.Size(), ttlExpiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "casstore.recordTTL", "record", err)
	}
	return nil
}
