package casstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnvelope(t *testing.T, text string, ts int64) *artifact.Envelope {
	t.Helper()
	ev := []artifact.EvidenceRef{{MediaID: "m1", SHA256: "deadbeef", FrameIndex: 0}}
	env, err := artifact.NewEnvelope(artifact.KindTextToken, 1,
		artifact.Producer{PluginID: "ocr", PluginVersion: "1.0.0", ConfigHash: "c1"},
		nil, map[string]interface{}{"text": text}, ev, 0.9, time.UnixMilli(ts))
	require.NoError(t, err)
	return env
}

func TestPutAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	env := testEnvelope(t, "hello", 1000)
	id, err := s.PutRecord(context.Background(), env, ProjectionRow{Kind: env.Kind, TsMs: env.CreatedTsMs})
	require.NoError(t, err)
	require.Equal(t, env.ArtifactID, id)

	got, err := s.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, env.ArtifactID, got.ArtifactID)
}

func TestPutRecord_RejectsIncompleteEnvelope(t *testing.T) {
	s := newTestStore(t)
	bad := &artifact.Envelope{ArtifactID: "x", Kind: artifact.KindTextToken}
	_, err := s.PutRecord(context.Background(), bad, ProjectionRow{})
	require.Error(t, err)
}

func TestScanByKind_OrdersByTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e1 := testEnvelope(t, "a", 1000)
	e2 := testEnvelope(t, "b", 2000)
	_, err := s.PutRecord(ctx, e1, ProjectionRow{Kind: e1.Kind, TsMs: e1.CreatedTsMs})
	require.NoError(t, err)
	_, err = s.PutRecord(ctx, e2, ProjectionRow{Kind: e2.Kind, TsMs: e2.CreatedTsMs})
	require.NoError(t, err)

	ids, err := s.ScanByKind(ctx, artifact.KindTextToken, TimeRange{StartMs: 0, EndMs: 3000})
	require.NoError(t, err)
	require.Equal(t, []string{e1.ArtifactID, e2.ArtifactID}, ids)
}

func TestReconcileProjection_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := testEnvelope(t, "hello", 1000)
	_, err := s.PutRecord(ctx, env, ProjectionRow{Kind: env.Kind, TsMs: env.CreatedTsMs})
	require.NoError(t, err)

	n1, err := s.ReconcileProjection(ctx, artifact.KindTextToken)
	require.NoError(t, err)
	n2, err := s.ReconcileProjection(ctx, artifact.KindTextToken)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
}

func TestBlobStore_PutGetAndTTL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer s.Close()

	bs, err := NewBlobStore(filepath.Join(dir, "media"), s)
	require.NoError(t, err)

	data := []byte("pretend-this-is-a-frame")
	digest, err := bs.PutBlob(context.Background(), data, time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := bs.GetBlob(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = bs.PutBlob(context.Background(), data, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = bs.GetBlob(context.Background(), digest)
	require.Error(t, err) // now past TTL
}

func TestCopyBlobFromFile_HardlinkThenStreamFallback(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer s.Close()

	bs, err := NewBlobStore(filepath.Join(dir, "media"), s)
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "src.blob")
	require.NoError(t, os.WriteFile(srcPath, []byte("frame-bytes"), 0o600))

	digest, hardlinked, err := CopyBlobFromFile(context.Background(), bs, srcPath, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, hardlinked)

	got, err := bs.GetBlob(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, []byte("frame-bytes"), got)
}
