package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridTokens() []extract.OCRToken {
	return []extract.OCRToken{
		{Text: "a1", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{Text: "b1", BBox: extract.BBox{X1: 50, Y1: 0, X2: 60, Y2: 10}},
		{Text: "a2", BBox: extract.BBox{X1: 0, Y1: 20, X2: 10, Y2: 30}},
		{Text: "b2", BBox: extract.BBox{X1: 50, Y1: 20, X2: 60, Y2: 30}},
	}
}

func TestInferTableGrid_AssignsTwoByTwoAddresses(t *testing.T) {
	cells := extract.InferTableGrid(gridTokens())
	require.Len(t, cells, 4)

	seen := map[[2]int]string{}
	for _, c := range cells {
		seen[[2]int{c.Row, c.Col}] = c.Text
	}
	assert.Equal(t, "a1", seen[[2]int{0, 0}])
	assert.Equal(t, "b1", seen[[2]int{0, 1}])
	assert.Equal(t, "a2", seen[[2]int{1, 0}])
	assert.Equal(t, "b2", seen[[2]int{1, 1}])
}

func TestExportGrid_CSVRoundTripsExpectedShape(t *testing.T) {
	cells := extract.InferTableGrid(gridTokens())
	csv := extract.ExportGrid(cells, ",")
	assert.Equal(t, "a1,b1\na2,b2\n", csv)
}

func TestExportGrid_EscapesDelimiterAndQuotes(t *testing.T) {
	cells := []extract.TableCell{{Row: 0, Col: 0, Text: `has,comma and "quote"`}}
	csv := extract.ExportGrid(cells, ",")
	assert.Equal(t, "\"has,comma and \"\"quote\"\"\"\n", csv)
}

func TestExportGrid_EmptyCellsYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", extract.ExportGrid(nil, ","))
}

func TestTablePlugin_Call_NoTableElementYieldsNoItems(t *testing.T) {
	p := extract.NewTablePlugin()
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestTablePlugin_Call_FiltersTokensToTableRegionAndYieldsCells(t *testing.T) {
	p := extract.NewTablePlugin()
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"ocr_tokens": append(gridTokens(), extract.OCRToken{Text: "outside", BBox: extract.BBox{X1: 500, Y1: 500, X2: 510, Y2: 510}}),
		"ui_elements": []extract.UIElement{
			{ElementID: "tbl-1", Type: extract.UIElementTypeTable, BBox: extract.BBox{X1: 0, Y1: 0, X2: 60, Y2: 30}},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 4)
}
