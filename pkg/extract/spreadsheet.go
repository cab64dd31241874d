package extract

import (
	"context"
	"regexp"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// SpreadsheetObservation is the output of extract.spreadsheet.
type SpreadsheetObservation struct {
	ActiveCellA1       string
	ActiveCellBBox     BBox
	A1ConflictsPixel   bool
	FormulaBarText     string
}

var a1Pattern = regexp.MustCompile(`^[A-Z]{1,3}[1-9][0-9]*$`)

// DetectSpreadsheet records the active-cell bbox via a thick-border
// heuristic (the widest-stroke token-adjacent rectangle supplied by
// the caller) and cross-checks it against the A1 address read from the
// name box, flagging a conflict when the two disagree (§4.5
// extract.spreadsheet).
func DetectSpreadsheet(nameBoxText string, activeCellBBox BBox, gridColFromPixel func(x float64) int, gridRowFromPixel func(y float64) int) SpreadsheetObservation {
	obs := SpreadsheetObservation{ActiveCellBBox: activeCellBBox}
	addr := normalizeText(nameBoxText)
	if a1Pattern.MatchString(addr) {
		obs.ActiveCellA1 = addr
	}

	if gridColFromPixel != nil && gridRowFromPixel != nil && obs.ActiveCellA1 != "" {
		pixelCol := gridColFromPixel((activeCellBBox.X1 + activeCellBBox.X2) / 2)
		pixelRow := gridRowFromPixel((activeCellBBox.Y1 + activeCellBBox.Y2) / 2)
		wantCol, wantRow := parseA1(obs.ActiveCellA1)
		if pixelCol != wantCol || pixelRow != wantRow {
			obs.A1ConflictsPixel = true
		}
	}
	return obs
}

// parseA1 decodes an A1-style address into 0-based (col, row).
func parseA1(addr string) (col, row int) {
	i := 0
	for i < len(addr) && addr[i] >= 'A' && addr[i] <= 'Z' {
		col = col*26 + int(addr[i]-'A'+1)
		i++
	}
	col--
	for j := i; j < len(addr); j++ {
		row = row*10 + int(addr[j]-'0')
	}
	row--
	return col, row
}

// SpreadsheetPlugin wraps DetectSpreadsheet as a DAG node.
type SpreadsheetPlugin struct {
	manifest *pluginrt.Manifest
}

// NewSpreadsheetPlugin builds the extract.spreadsheet node.
func NewSpreadsheetPlugin() *SpreadsheetPlugin {
	return &SpreadsheetPlugin{manifest: &pluginrt.Manifest{
		ID:           "extract.spreadsheet",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapSpreadsheet},
		Requires:     []string{"ocr_tokens", "ui_elements"},
		Provides:     []string{"spreadsheet_state"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *SpreadsheetPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *SpreadsheetPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	elements, _ := input["ui_elements"].([]UIElement)
	var nameBox string
	var activeCellBBox BBox
	for _, e := range elements {
		switch e.Type {
		case UIElementTypeNameBox:
			nameBox = e.Text
		case UIElementTypeActiveCell:
			activeCellBBox = e.BBox
		}
	}
	obs := DetectSpreadsheet(nameBox, activeCellBBox, nil, nil)
	return pluginrt.Result{Items: []interface{}{obs}}, nil
}
