package tape

import (
	"testing"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/require"
)

func testProducer() artifact.Producer {
	return artifact.Producer{PluginID: "build.tape", PluginVersion: "1.0.0", ConfigHash: "cfg-1"}
}

func testBuilder(windowSeconds int) *Builder {
	fixed := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	return NewBuilder(BuilderConfig{
		SessionID:         "sess-1",
		WindowSeconds:     windowSeconds,
		BoundaryMode:      BoundaryAppChangePreferred,
		AppVocab:          []string{"chrome", "vscode"},
		PredErrorBaseline: true,
		Producer:          testProducer(),
		Now:               func() time.Time { return fixed },
	})
}

func obsAt(tsMs int64, app, title string, text string) FrameObservation {
	return FrameObservation{
		Frame: extract.Frame{TsMs: tsMs, AppHint: app, WindowTitle: title},
		State: extract.ScreenState{
			Elements: []extract.UIElement{{ElementID: "e1", Type: "button", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
			Tokens:   []extract.OCRToken{{Text: text, Confidence: 0.9}},
		},
		FrameArtifactID: "frame-" + title,
		Evidence:        []artifact.EvidenceRef{{MediaID: "m1", SHA256: "h1"}},
	}
}

func TestBuilder_WindowClosesOnDuration(t *testing.T) {
	b := testBuilder(6)
	span, edge, err := b.Feed(obsAt(0, "chrome", "tab-a", "hello"))
	require.NoError(t, err)
	require.Nil(t, span)
	require.Nil(t, edge)

	span, edge, err = b.Feed(obsAt(7000, "chrome", "tab-a", "world"))
	require.NoError(t, err)
	require.NotNil(t, span)
	require.Nil(t, edge) // first span has no predecessor
	require.Less(t, span.TsStartMs, span.TsEndMs)
}

func TestBuilder_WindowClosesOnAppChange(t *testing.T) {
	b := testBuilder(600)
	_, _, err := b.Feed(obsAt(0, "chrome", "tab-a", "hello"))
	require.NoError(t, err)

	span, _, err := b.Feed(obsAt(1000, "vscode", "main.go", "func"))
	require.NoError(t, err)
	require.NotNil(t, span)
	require.Equal(t, "chrome", span.SummaryFeatures.App)
}

func TestBuilder_SecondWindowEmitsEdge(t *testing.T) {
	b := testBuilder(5)
	_, _, err := b.Feed(obsAt(0, "chrome", "tab-a", "hello"))
	require.NoError(t, err)
	firstSpan, _, err := b.Feed(obsAt(6000, "chrome", "tab-a", "world"))
	require.NoError(t, err)
	require.NotNil(t, firstSpan)

	_, _, err = b.Feed(obsAt(6100, "chrome", "tab-a", "again"))
	require.NoError(t, err)
	secondSpan, edge, err := b.Feed(obsAt(12200, "chrome", "tab-a", "more"))
	require.NoError(t, err)
	require.NotNil(t, secondSpan)
	require.NotNil(t, edge)
	require.Equal(t, firstSpan.StateID, edge.FromStateID)
	require.Equal(t, secondSpan.StateID, edge.ToStateID)
	require.NotEqual(t, edge.FromStateID, edge.ToStateID)
	require.GreaterOrEqual(t, edge.PredError, 0.0)
	require.LessOrEqual(t, edge.PredError, 2.0)
}

func TestBuilder_Flush_ClosesOpenWindow(t *testing.T) {
	b := testBuilder(600)
	_, _, err := b.Feed(obsAt(0, "chrome", "tab-a", "hello"))
	require.NoError(t, err)

	span, _, err := b.Flush()
	require.NoError(t, err)
	require.NotNil(t, span)
}

func TestBuilder_SpanCarriesEvidenceAndCompleteProvenance(t *testing.T) {
	b := testBuilder(6)
	_, _, _ = b.Feed(obsAt(0, "chrome", "tab-a", "hello"))
	span, _, err := b.Flush()
	require.NoError(t, err)
	require.NotEmpty(t, span.Evidence)
	require.True(t, span.Provenance.Complete())
}

func TestReader_SpanMissReturnsStateTapeMiss(t *testing.T) {
	r := NewReader(nil, nil)
	_, err := r.Span("missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "STATE_TAPE_MISS")
}

func TestReader_EdgesFromFiltersByFromStateID(t *testing.T) {
	edges := []StateEdge{
		{EdgeID: "e1", FromStateID: "a", ToStateID: "b"},
		{EdgeID: "e2", FromStateID: "b", ToStateID: "c"},
	}
	r := NewReader(nil, edges)
	out := r.EdgesFrom("a")
	require.Len(t, out, 1)
	require.Equal(t, "e1", out[0].EdgeID)
}

func TestReader_SpansInRangeFiltersOverlap(t *testing.T) {
	spans := []StateSpan{
		{StateID: "s1", TsStartMs: 0, TsEndMs: 100},
		{StateID: "s2", TsStartMs: 100, TsEndMs: 200},
	}
	r := NewReader(spans, nil)
	out := r.SpansInRange(50, 150)
	require.Len(t, out, 2)
}

func TestSessionSummary_WriteRead(t *testing.T) {
	dir := t.TempDir()
	spans := []StateSpan{{StateID: "s1", TsStartMs: 0, TsEndMs: 100, Provenance: artifact.Provenance{ModelVersion: "hash-1"}}}
	summary := BuildSessionSummary("sess-1", spans, nil)
	require.NoError(t, WriteSessionSummary(dir, summary))

	loaded, err := ReadSessionSummary(dir)
	require.NoError(t, err)
	require.Equal(t, "sess-1", loaded.SessionID)
	require.Len(t, loaded.Spans, 1)
}

func TestVerifyReconciliation_DetectsProjectionDrift(t *testing.T) {
	committed := &SessionSummary{
		SessionID: "sess-1",
		Spans:     []SpanSummaryItem{{StateID: "s1", ProjectionHash: "hash-old"}},
	}
	rebuilt := []StateSpan{{StateID: "s1", Provenance: artifact.Provenance{ModelVersion: "hash-new"}}}

	issues := VerifyReconciliation(committed, rebuilt, nil)
	require.NotEmpty(t, issues)
}

func TestVerifyReconciliation_CleanMatchYieldsNoIssues(t *testing.T) {
	committed := &SessionSummary{
		SessionID: "sess-1",
		Spans:     []SpanSummaryItem{{StateID: "s1", ProjectionHash: "hash-1"}},
	}
	rebuilt := []StateSpan{{StateID: "s1", Provenance: artifact.Provenance{ModelVersion: "hash-1"}}}

	issues := VerifyReconciliation(committed, rebuilt, nil)
	require.Empty(t, issues)
}
