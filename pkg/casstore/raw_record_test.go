package casstore

import (
	"context"
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/stretchr/testify/require"
)

func TestGetRawRecord_ReadsVerbatimIngestedFrame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertIfAbsent(ctx, "frame-1", string(artifact.KindFrame),
		`{"image_sha256":"deadbeef","width_px":1920,"height_px":1080}`, 5000)
	require.NoError(t, err)
	require.True(t, inserted)

	kind, createdTsMs, payload, err := s.GetRawRecord(ctx, "frame-1")
	require.NoError(t, err)
	require.Equal(t, string(artifact.KindFrame), kind)
	require.EqualValues(t, 5000, createdTsMs)
	require.Equal(t, "deadbeef", payload["image_sha256"])
}

func TestGetRawRecord_MissingIDReturnsError(t *testing.T) {
	s := newTestStore(t)
	_, _, _, err := s.GetRawRecord(context.Background(), "nope")
	require.Error(t, err)
}

func TestReconcileRawProjection_MakesVerbatimFramesScannable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertIfAbsent(ctx, "frame-1", string(artifact.KindFrame), `{"image_sha256":"a"}`, 1000)
	require.NoError(t, err)
	_, err = s.InsertIfAbsent(ctx, "frame-2", string(artifact.KindFrame), `{"image_sha256":"b"}`, 2000)
	require.NoError(t, err)

	ids, err := s.ScanByKind(ctx, artifact.KindFrame, TimeRange{StartMs: 0, EndMs: 9999})
	require.NoError(t, err)
	require.Empty(t, ids, "InsertIfAbsent must not populate metadata_projection on its own")

	n, err := s.ReconcileRawProjection(ctx, artifact.KindFrame)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ids, err = s.ScanByKind(ctx, artifact.KindFrame, TimeRange{StartMs: 0, EndMs: 9999})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"frame-1", "frame-2"}, ids)
}
