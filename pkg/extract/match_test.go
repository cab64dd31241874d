package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureOf_NormalizesBBoxAgainstFrameSize(t *testing.T) {
	e := extract.UIElement{ElementID: "e1", Type: "button", BBox: extract.BBox{X1: 0, Y1: 0, X2: 50, Y2: 100}}
	sig := extract.SignatureOf(e, "", 100, 200)
	assert.Equal(t, 0.5, sig.NormalizedBBox.X2)
	assert.Equal(t, 0.5, sig.NormalizedBBox.Y2)
}

func TestMatchElementIDs_PreservesIDForStableElement(t *testing.T) {
	prev := []extract.ElementSignature{
		extract.SignatureOf(extract.UIElement{ElementID: "btn-1", Type: "button", Text: "OK", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}, "", 100, 100),
	}
	curr := []extract.ElementSignature{
		extract.SignatureOf(extract.UIElement{ElementID: "", Type: "button", Text: "OK", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}, "", 100, 100),
	}

	results := extract.MatchElementIDs(prev, curr, func() string { return "new-id" })
	require.Len(t, results, 1)
	assert.True(t, results[0].Matched)
	assert.Equal(t, "btn-1", results[0].ElementID)
}

func TestMatchElementIDs_MintsNewIDWhenNoPlausibleMatch(t *testing.T) {
	prev := []extract.ElementSignature{
		extract.SignatureOf(extract.UIElement{ElementID: "btn-1", Type: "button", Text: "OK", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}, "", 100, 100),
	}
	curr := []extract.ElementSignature{
		extract.SignatureOf(extract.UIElement{ElementID: "", Type: "textbox", Text: "totally different", BBox: extract.BBox{X1: 500, Y1: 500, X2: 600, Y2: 600}}, "", 1000, 1000),
	}

	results := extract.MatchElementIDs(prev, curr, func() string { return "minted-id" })
	require.Len(t, results, 1)
	assert.False(t, results[0].Matched)
	assert.Equal(t, "minted-id", results[0].ElementID)
}

func TestMatchElementIDs_EmptyPrevAlwaysMints(t *testing.T) {
	curr := []extract.ElementSignature{{ElementID: "", Type: "button"}}
	results := extract.MatchElementIDs(nil, curr, func() string { return "fresh" })
	require.Len(t, results, 1)
	assert.False(t, results[0].Matched)
}

func TestMatchPlugin_Call_DerivesCurrentSignaturesFromUIElementsAndPreservesID(t *testing.T) {
	p := extract.NewMatchPlugin(func() string { return "should-not-be-used" })
	frame := &extract.Frame{WidthPx: 100, HeightPx: 100}
	elements := []extract.UIElement{
		{ElementID: "btn-1", Type: "button", Text: "OK", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
	}
	prev := []extract.ElementSignature{
		extract.SignatureOf(elements[0], "", 100, 100),
	}

	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame":           frame,
		"ui_elements":     elements,
		"prev_signatures": prev,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	mr, ok := result.Items[0].(extract.MatchResult)
	require.True(t, ok)
	assert.True(t, mr.Matched)
	assert.Equal(t, "btn-1", mr.ElementID)
	assert.Equal(t, "button", mr.Signature.Type)
}
