package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexTime_RangeQueryReturnsAscendingByTs(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTime(ctx, TimeEntry{TsMs: 200, Kind: "state_id", RefID: "s2"}))
	require.NoError(t, s.IndexTime(ctx, TimeEntry{TsMs: 100, Kind: "state_id", RefID: "s1"}))

	out, err := s.RangeQuery(ctx, TimeRange{StartMs: 0, EndMs: 1000}, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].RefID)
	assert.Equal(t, "s2", out[1].RefID)
}

func TestIndexTime_RangeQueryFiltersByKind(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTime(ctx, TimeEntry{TsMs: 100, Kind: "state_id", RefID: "s1"}))
	require.NoError(t, s.IndexTime(ctx, TimeEntry{TsMs: 100, Kind: "delta_id", RefID: "d1"}))

	out, err := s.RangeQuery(ctx, TimeRange{StartMs: 0, EndMs: 1000}, "delta_id")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].RefID)
}

func TestIndexTime_RangeQueryExcludesOutOfRange(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTime(ctx, TimeEntry{TsMs: 5000, Kind: "state_id", RefID: "s1"}))

	out, err := s.RangeQuery(ctx, TimeRange{StartMs: 0, EndMs: 1000}, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}
