package evidence

import (
	"context"
	"fmt"
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/index"
	"github.com/ninjra/autocapture-pipeline/pkg/tape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpans struct {
	spans map[string]*tape.StateSpan
	edges map[string][]tape.StateEdge
}

func newFakeSpans() *fakeSpans {
	return &fakeSpans{spans: make(map[string]*tape.StateSpan), edges: make(map[string][]tape.StateEdge)}
}

func (f *fakeSpans) add(span tape.StateSpan) {
	s := span
	f.spans[s.StateID] = &s
}

func (f *fakeSpans) link(from, to string, predErr float64) {
	f.edges[from] = append(f.edges[from], tape.StateEdge{
		EdgeID: fmt.Sprintf("%s->%s", from, to), FromStateID: from, ToStateID: to, PredError: predErr,
	})
}

func (f *fakeSpans) Span(stateID string) (*tape.StateSpan, error) {
	s, ok := f.spans[stateID]
	if !ok {
		return nil, fmt.Errorf("STATE_TAPE_MISS: %s", stateID)
	}
	return s, nil
}

func (f *fakeSpans) SpansInRange(startMs, endMs int64) []tape.StateSpan {
	var out []tape.StateSpan
	for _, s := range f.spans {
		if s.TsStartMs < endMs && s.TsEndMs > startMs {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeSpans) EdgesFrom(stateID string) []tape.StateEdge { return f.edges[stateID] }

type fakeText struct{ m map[string]string }

func (f fakeText) SnippetFor(stateID string) (string, bool) {
	s, ok := f.m[stateID]
	return s, ok
}

func testSpan(id, app string, start, end int64) tape.StateSpan {
	return tape.StateSpan{
		StateID:         id,
		SessionID:       "sess-1",
		TsStartMs:       start,
		TsEndMs:         end,
		SummaryFeatures: tape.SummaryFeatures{App: app},
		Evidence: []artifact.EvidenceRef{
			{MediaID: "m-1", TsStartMs: start, TsEndMs: end, SHA256: "deadbeef"},
		},
	}
}

func noopPolicy(t *testing.T) *PolicyGate {
	t.Helper()
	g, err := NewPolicyGate("", "")
	require.NoError(t, err)
	return g
}

func TestCompiler_Compile_TimeRangeYieldsHit(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "notes_app", 1000, 2000))

	c := &Compiler{Spans: spans, Policy: noopPolicy(t), DefaultTopK: 8}
	bundle, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000})
	require.NoError(t, err)
	require.Len(t, bundle.Hits, 1)
	assert.Equal(t, "s1", bundle.Hits[0].StateID)
	assert.Len(t, bundle.Hits[0].Evidence, 1)
}

func TestCompiler_Compile_ExpandsAlongEdgesWithinMaxHops(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "notes_app", 1000, 2000))
	spans.add(testSpan("s2", "notes_app", 2000, 3000))
	spans.add(testSpan("s3", "notes_app", 3000, 4000))
	spans.link("s1", "s2", 0.1)
	spans.link("s2", "s3", 0.1)

	c := &Compiler{Spans: spans, Policy: noopPolicy(t), DefaultTopK: 8}
	bundle, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 1999, MaxHops: 2})
	require.NoError(t, err)
	ids := make([]string, 0, len(bundle.Hits))
	for _, h := range bundle.Hits {
		ids = append(ids, h.StateID)
	}
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, ids)
}

func TestCompiler_Compile_AppFilterExcludesMismatchedSpans(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "notes_app", 1000, 2000))
	spans.add(testSpan("s2", "banking_app", 1000, 2000))

	c := &Compiler{Spans: spans, Policy: noopPolicy(t), DefaultTopK: 8}
	bundle, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000, App: "notes_app"})
	require.NoError(t, err)
	require.Len(t, bundle.Hits, 1)
	assert.Equal(t, "s1", bundle.Hits[0].StateID)
}

func TestCompiler_Compile_AppDenylistDropsHit(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "banking_app", 1000, 2000))

	gate, err := NewPolicyGate(`app == "banking_app"`, "")
	require.NoError(t, err)

	c := &Compiler{Spans: spans, Policy: gate, DefaultTopK: 8}
	_, err = c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000})
	require.Error(t, err)
}

func TestCompiler_Compile_RedactsSnippetText(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "notes_app", 1000, 2000))
	text := fakeText{m: map[string]string{"s1": "email me at jane.doe@example.com"}}

	c := &Compiler{Spans: spans, Text: text, Policy: noopPolicy(t), DefaultTopK: 8}
	bundle, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000})
	require.NoError(t, err)
	require.Len(t, bundle.Hits, 1)
	require.Len(t, bundle.Hits[0].ExtractedTextSnippets, 1)
	snippet := bundle.Hits[0].ExtractedTextSnippets[0]
	assert.True(t, snippet.Redacted)
	assert.NotContains(t, snippet.Text, "jane.doe@example.com")
}

func TestCompiler_Compile_EmptyResultReturnsNoEvidence(t *testing.T) {
	c := &Compiler{Spans: newFakeSpans(), Policy: noopPolicy(t), DefaultTopK: 8}
	_, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000})
	require.Error(t, err)
}

func TestCompiler_Compile_ExportFlagsDefaultFalse(t *testing.T) {
	spans := newFakeSpans()
	spans.add(testSpan("s1", "notes_app", 1000, 2000))

	c := &Compiler{Spans: spans, Policy: noopPolicy(t), DefaultTopK: 8}
	bundle, err := c.Compile(context.Background(), QueryFilters{TimeStartMs: 0, TimeEndMs: 5000})
	require.NoError(t, err)
	assert.False(t, bundle.ExportFlags.CanExportText)
	assert.False(t, bundle.ExportFlags.CanShowRawMedia)
}

func TestCompiler_Compile_TopKLimitsCandidatesBeforeExpansion(t *testing.T) {
	spans := newFakeSpans()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		spans.add(testSpan(id, "notes_app", int64(i*1000), int64(i*1000+500)))
	}
	c := &Compiler{Spans: spans, Vectors: index.NewLinearScanIndex(), Policy: noopPolicy(t), DefaultTopK: 2}
	for i := 0; i < 5; i++ {
		c.Vectors.(*index.LinearScanIndex).Upsert(fmt.Sprintf("s%d", i), []float32{float32(i), 0})
	}
	bundle, err := c.Compile(context.Background(), QueryFilters{QueryEmbedding: []float32{4, 0}, TopK: 2})
	require.NoError(t, err)
	assert.Len(t, bundle.Hits, 2)
}
