package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructCodeLines_DerivesIndentFromLeftOffset(t *testing.T) {
	tokens := []extract.OCRToken{
		{Text: "func", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{Text: "return", BBox: extract.BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}},
	}
	lines := extract.ReconstructCodeLines(tokens, 10)
	require.Len(t, lines, 2)
	assert.Equal(t, 0, lines[0].Indent)
	assert.Equal(t, 2, lines[1].Indent)
}

func TestReconstructCodeLines_ZeroMedianWidthDoesNotPanic(t *testing.T) {
	tokens := []extract.OCRToken{{Text: "x", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}}
	assert.NotPanics(t, func() {
		extract.ReconstructCodeLines(tokens, 0)
	})
}

func TestDetectCaret_PicksThinTallBar(t *testing.T) {
	candidates := []extract.BBox{
		{X1: 0, Y1: 0, X2: 30, Y2: 10},  // wide, not a caret
		{X1: 0, Y1: 0, X2: 2, Y2: 20},   // thin and tall
	}
	caret := extract.DetectCaret(candidates, 3)
	require.NotNil(t, caret)
	assert.Equal(t, 2.0, caret.X2)
}

func TestDetectCaret_NoneQualifiesReturnsNil(t *testing.T) {
	candidates := []extract.BBox{{X1: 0, Y1: 0, X2: 30, Y2: 10}}
	assert.Nil(t, extract.DetectCaret(candidates, 3))
}

func TestCodePlugin_Call(t *testing.T) {
	p := extract.NewCodePlugin()
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"ocr_tokens": []extract.OCRToken{{Text: "x", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		"ui_elements": []extract.UIElement{
			{ElementID: "editor", Type: extract.UIElementTypeCodeEditor, BBox: extract.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	obs, ok := result.Items[0].(extract.CodeObservation)
	require.True(t, ok)
	assert.Len(t, obs.Lines, 1)
}

func TestCodePlugin_Call_NoEditorElementYieldsEmptyObservation(t *testing.T) {
	p := extract.NewCodePlugin()
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	obs, ok := result.Items[0].(extract.CodeObservation)
	require.True(t, ok)
	assert.Empty(t, obs.Lines)
}
