package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndexStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenize_LowercasesAndSplitsOnPunctuation(t *testing.T) {
	out := Tokenize("Hello, World!")
	assert.Equal(t, []string{"hello", "world"}, out)
}

func TestTokenize_EmptyStringYieldsEmptySlice(t *testing.T) {
	assert.Empty(t, Tokenize(""))
}

func TestIndexText_IsIdempotentOnReindex(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexText(ctx, "doc-1", "hello world", [4]int{}, 1000))
	require.NoError(t, s.IndexText(ctx, "doc-1", "hello world", [4]int{}, 1000))

	results, err := s.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Postings[0].TermFreq)
}

func TestSearch_RanksExactMatchAboveSingleTermOverlap(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexText(ctx, "doc-exact", "deploy the pipeline now", [4]int{}, 1000))
	require.NoError(t, s.IndexText(ctx, "doc-partial", "deploy something else entirely", [4]int{}, 1001))

	results, err := s.Search(ctx, "deploy the pipeline", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-exact", results[0].ArtifactID)
}

func TestSearch_NoMatchingTermsYieldsEmpty(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexText(ctx, "doc-1", "hello world", [4]int{}, 1000))

	results, err := s.Search(ctx, "nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyCorpusYieldsEmpty(t *testing.T) {
	s := newTestIndexStore(t)
	results, err := s.Search(context.Background(), "hello", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RespectsTopK(t *testing.T) {
	s := newTestIndexStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.IndexText(ctx, string(rune('a'+i)), "shared term", [4]int{}, int64(i)))
	}
	results, err := s.Search(ctx, "shared", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
