package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSpreadsheet_ParsesValidA1Address(t *testing.T) {
	obs := extract.DetectSpreadsheet("B12", extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, nil, nil)
	assert.Equal(t, "B12", obs.ActiveCellA1)
	assert.False(t, obs.A1ConflictsPixel)
}

func TestDetectSpreadsheet_RejectsInvalidAddress(t *testing.T) {
	obs := extract.DetectSpreadsheet("not-an-address", extract.BBox{}, nil, nil)
	assert.Empty(t, obs.ActiveCellA1)
}

func TestDetectSpreadsheet_FlagsPixelConflict(t *testing.T) {
	gridCol := func(x float64) int { return 99 } // deliberately wrong
	gridRow := func(y float64) int { return 99 }
	obs := extract.DetectSpreadsheet("A1", extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, gridCol, gridRow)
	assert.True(t, obs.A1ConflictsPixel)
}

func TestSpreadsheetPlugin_Call(t *testing.T) {
	p := extract.NewSpreadsheetPlugin()
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"ui_elements": []extract.UIElement{
			{ElementID: "nb", Type: extract.UIElementTypeNameBox, Text: "C3"},
			{ElementID: "ac", Type: extract.UIElementTypeActiveCell, BBox: extract.BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}},
		},
	})
	assert.NoError(t, err)
	require.Len(t, result.Items, 1)
	obs, ok := result.Items[0].(extract.SpreadsheetObservation)
	require.True(t, ok)
	assert.Equal(t, "C3", obs.ActiveCellA1)
}
