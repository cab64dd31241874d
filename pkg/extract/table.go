package extract

import (
	"context"
	"sort"
	"strings"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

const tableColumnAlignTolerancePx = 6.0

// InferTableGrid assigns deterministic (r, c) addresses to tokens
// inside a detected table region via the token-alignment fallback
// (§4.5 extract.table: "token alignment fallback"). Rows are formed by
// y-overlap the same way layout.assemble groups lines; columns are
// formed by clustering distinct token left-edges within a tolerance.
func InferTableGrid(tokens []OCRToken) []TableCell {
	rows := groupIntoLines(tokens) // line grouping doubles as row grouping
	sort.Slice(rows, func(i, j int) bool { return rows[i].BBox.Y1 < rows[j].BBox.Y1 })

	var colEdges []float64
	for _, row := range rows {
		for _, tok := range row.Tokens {
			colEdges = append(colEdges, tok.BBox.X1)
		}
	}
	sort.Float64s(colEdges)
	var clusters []float64
	for _, x := range colEdges {
		if len(clusters) == 0 || x-clusters[len(clusters)-1] > tableColumnAlignTolerancePx {
			clusters = append(clusters, x)
		}
	}

	colIndex := func(x float64) int {
		best, bestDist := 0, -1.0
		for i, c := range clusters {
			d := absf(x - c)
			if bestDist < 0 || d < bestDist {
				bestDist = d
				best = i
			}
		}
		return best
	}

	var cells []TableCell
	for r, row := range rows {
		for _, tok := range row.Tokens {
			cells = append(cells, TableCell{Row: r, Col: colIndex(tok.BBox.X1), Text: tok.Text, BBox: tok.BBox})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	return cells
}

// csvEscape quotes a field per RFC 4180 whenever it contains the
// delimiter, a quote, or a newline.
func csvEscape(field, delimiter string) string {
	if strings.ContainsAny(field, delimiter+"\"\n\r") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return field
}

// ExportGrid renders cells as delimited text (CSV when delimiter is
// ",", TSV when "\t"), filling any missing (r, c) slot with an empty
// field.
func ExportGrid(cells []TableCell, delimiter string) string {
	if len(cells) == 0 {
		return ""
	}
	maxRow, maxCol := 0, 0
	for _, c := range cells {
		if c.Row > maxRow {
			maxRow = c.Row
		}
		if c.Col > maxCol {
			maxCol = c.Col
		}
	}
	grid := make([][]string, maxRow+1)
	for i := range grid {
		grid[i] = make([]string, maxCol+1)
	}
	for _, c := range cells {
		grid[c.Row][c.Col] = c.Text
	}

	var sb strings.Builder
	for _, row := range grid {
		escaped := make([]string, len(row))
		for i, f := range row {
			escaped[i] = csvEscape(f, delimiter)
		}
		sb.WriteString(strings.Join(escaped, delimiter))
		sb.WriteString("\n")
	}
	return sb.String()
}

// TablePlugin wraps InferTableGrid as a DAG node.
type TablePlugin struct {
	manifest *pluginrt.Manifest
}

// NewTablePlugin builds the extract.table node.
func NewTablePlugin() *TablePlugin {
	return &TablePlugin{manifest: &pluginrt.Manifest{
		ID:           "extract.table",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapTable},
		Requires:     []string{"ocr_tokens", "ui_elements"},
		Provides:     []string{"tables"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *TablePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *TablePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	tokens, _ := input["ocr_tokens"].([]OCRToken)
	elements, _ := input["ui_elements"].([]UIElement)
	region, ok := firstBBoxOfType(elements, UIElementTypeTable)
	if !ok {
		return pluginrt.Result{Items: nil}, nil
	}
	regionTokens := tokensWithinBBox(tokens, region)
	if len(regionTokens) == 0 {
		return pluginrt.Result{Items: nil}, nil
	}
	cells := InferTableGrid(regionTokens)
	items := make([]interface{}, len(cells))
	for i, c := range cells {
		items[i] = c
	}
	return pluginrt.Result{Items: items, Metrics: map[string]float64{"csv_bytes": float64(len(ExportGrid(cells, ",")))}}, nil
}
