package extract

import "sort"

// UI element type vocabulary emitted by the injected detector/VLM
// model (ui.parse) and consumed by the region-specific extraction
// nodes downstream. A node that needs one particular region (the
// table grid, the spreadsheet name box, a code editor pane, a chart's
// plot area) finds it by filtering ui_elements on these types rather
// than expecting a bespoke bag key no upstream node actually provides.
const (
	UIElementTypeTable      = "table"
	UIElementTypeNameBox    = "name_box"
	UIElementTypeActiveCell = "active_cell"
	UIElementTypeCodeEditor = "code_editor"
	UIElementTypeChart      = "chart"
	UIElementTypeCaret      = "caret"
)

// firstBBoxOfType returns the bbox of the first element matching typ,
// in input order.
func firstBBoxOfType(elements []UIElement, typ string) (BBox, bool) {
	for _, e := range elements {
		if e.Type == typ {
			return e.BBox, true
		}
	}
	return BBox{}, false
}

// elementsOfType returns every element matching typ, in input order.
func elementsOfType(elements []UIElement, typ string) []UIElement {
	var out []UIElement
	for _, e := range elements {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// tokensWithinBBox returns the OCR tokens whose center point falls
// inside region.
func tokensWithinBBox(tokens []OCRToken, region BBox) []OCRToken {
	var out []OCRToken
	for _, tok := range tokens {
		cx := (tok.BBox.X1 + tok.BBox.X2) / 2
		cy := (tok.BBox.Y1 + tok.BBox.Y2) / 2
		if cx >= region.X1 && cx <= region.X2 && cy >= region.Y1 && cy <= region.Y2 {
			out = append(out, tok)
		}
	}
	return out
}

// medianCharWidth estimates a token block's per-character pixel width
// from each token's box width divided by its rune count, for deriving
// code-line indentation (§4.5 extract.code) without a precomputed
// caller-supplied width.
func medianCharWidth(tokens []OCRToken) float64 {
	var widths []float64
	for _, tok := range tokens {
		n := len([]rune(tok.Text))
		if n == 0 {
			continue
		}
		w := (tok.BBox.X2 - tok.BBox.X1) / float64(n)
		if w > 0 {
			widths = append(widths, w)
		}
	}
	if len(widths) == 0 {
		return 0
	}
	sort.Float64s(widths)
	return widths[len(widths)/2]
}
