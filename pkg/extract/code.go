package extract

import (
	"context"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// CodeLine is one reconstructed line of monospace text, with leading
// indentation preserved via the region's median character width.
type CodeLine struct {
	Text   string
	Indent int
}

// CodeObservation is the output of extract.code.
type CodeObservation struct {
	Lines           []CodeLine
	CaretBBox       *BBox
	SelectionBBoxes []BBox
}

// ReconstructCodeLines groups tokens into lines (reusing the
// layout.assemble line grouping), then derives each line's indent
// level from its left-edge offset divided by the block's median
// character width (§4.5 extract.code: "preserving indentation via
// median char width").
func ReconstructCodeLines(tokens []OCRToken, medianCharWidthPx float64) []CodeLine {
	if medianCharWidthPx <= 0 {
		medianCharWidthPx = 1
	}
	lines := groupIntoLines(tokens)
	sort.Slice(lines, func(i, j int) bool { return lines[i].BBox.Y1 < lines[j].BBox.Y1 })

	minX := 0.0
	for i, ln := range lines {
		if i == 0 || ln.BBox.X1 < minX {
			minX = ln.BBox.X1
		}
	}

	out := make([]CodeLine, 0, len(lines))
	for _, ln := range lines {
		var sb []byte
		for i, tok := range ln.Tokens {
			if i > 0 {
				sb = append(sb, ' ')
			}
			sb = append(sb, tok.Text...)
		}
		indent := int((ln.BBox.X1 - minX) / medianCharWidthPx)
		out = append(out, CodeLine{Text: string(sb), Indent: indent})
	}
	return out
}

// DetectCaret finds a thin, tall, high-contrast bar among candidate
// regions — approximated here as the narrowest tall box supplied by
// the caller's detector pass.
func DetectCaret(candidates []BBox, maxWidthPx float64) *BBox {
	var best *BBox
	for i := range candidates {
		b := candidates[i]
		w := b.X2 - b.X1
		h := b.Y2 - b.Y1
		if w <= maxWidthPx && h > w*3 {
			if best == nil || w < (best.X2-best.X1) {
				bb := b
				best = &bb
			}
		}
	}
	return best
}

// CodePlugin wraps code-region reconstruction as a DAG node.
type CodePlugin struct {
	manifest *pluginrt.Manifest
}

// NewCodePlugin builds the extract.code node.
func NewCodePlugin() *CodePlugin {
	return &CodePlugin{manifest: &pluginrt.Manifest{
		ID:           "extract.code",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapCode},
		Requires:     []string{"ocr_tokens", "ui_elements"},
		Provides:     []string{"code_regions"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *CodePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *CodePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	tokens, _ := input["ocr_tokens"].([]OCRToken)
	elements, _ := input["ui_elements"].([]UIElement)

	region, ok := firstBBoxOfType(elements, UIElementTypeCodeEditor)
	if !ok {
		return pluginrt.Result{Items: []interface{}{CodeObservation{}}}, nil
	}
	regionTokens := tokensWithinBBox(tokens, region)

	var caretCandidates []BBox
	for _, e := range elementsOfType(elements, UIElementTypeCaret) {
		caretCandidates = append(caretCandidates, e.BBox)
	}

	lines := ReconstructCodeLines(regionTokens, medianCharWidth(regionTokens))
	obs := CodeObservation{Lines: lines, CaretBBox: DetectCaret(caretCandidates, 3)}
	return pluginrt.Result{Items: []interface{}{obs}}, nil
}
