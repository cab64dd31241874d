package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppend_ChainsHashes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, err := s.Append(ctx, Row{RunID: "run-1", PluginID: "ocr", Method: "Execute", Success: true})
	require.NoError(t, err)
	require.Equal(t, "genesis", r1.PreviousHash)
	require.NotEmpty(t, r1.EntryHash)

	r2, err := s.Append(ctx, Row{RunID: "run-1", PluginID: "ui.parse", Method: "Execute", Success: true})
	require.NoError(t, err)
	require.Equal(t, r1.EntryHash, r2.PreviousHash)

	broken, err := s.VerifyChain(ctx)
	require.NoError(t, err)
	require.Empty(t, broken)
}

func TestCountByAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, Row{RunID: "r1", PluginID: "system.ingest.handoff", Method: "completed", Success: true})
	require.NoError(t, err)
	_, err = s.Append(ctx, Row{RunID: "r2", PluginID: "system.ingest.handoff", Method: "completed", Success: true})
	require.NoError(t, err)

	n, err := s.CountByAction(ctx, "system.ingest.handoff", "completed")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
