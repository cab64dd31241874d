package extract

import (
	"context"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

const (
	lineYOverlapThreshold    = 0.5
	blockProximityPx         = 24.0
	blockLeftAlignTolerance  = 8.0
)

// AssembleLayout groups tokens into lines by y-overlap, then lines into
// blocks by vertical proximity and left alignment (§4.5 layout.assemble).
func AssembleLayout(tokens []OCRToken) []Block {
	lines := groupIntoLines(tokens)
	return groupIntoBlocks(lines)
}

func groupIntoLines(tokens []OCRToken) []Line {
	sorted := append([]OCRToken(nil), tokens...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].BBox.Y1 != sorted[j].BBox.Y1 {
			return sorted[i].BBox.Y1 < sorted[j].BBox.Y1
		}
		return sorted[i].BBox.X1 < sorted[j].BBox.X1
	})

	var lines []Line
	for _, tok := range sorted {
		placed := false
		for i := range lines {
			if yOverlapRatio(lines[i].BBox, tok.BBox) >= lineYOverlapThreshold {
				lines[i].Tokens = append(lines[i].Tokens, tok)
				lines[i].BBox = unionBBox(lines[i].BBox, tok.BBox)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, Line{BBox: tok.BBox, Tokens: []OCRToken{tok}})
		}
	}
	for i := range lines {
		sort.Slice(lines[i].Tokens, func(a, b int) bool { return lines[i].Tokens[a].BBox.X1 < lines[i].Tokens[b].BBox.X1 })
	}
	return lines
}

func groupIntoBlocks(lines []Line) []Block {
	sorted := append([]Line(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BBox.Y1 < sorted[j].BBox.Y1 })

	var blocks []Block
	for _, ln := range sorted {
		placed := false
		for i := range blocks {
			last := blocks[i].Lines[len(blocks[i].Lines)-1]
			verticalGap := ln.BBox.Y1 - last.BBox.Y2
			leftAligned := absf(ln.BBox.X1-last.BBox.X1) <= blockLeftAlignTolerance
			if verticalGap <= blockProximityPx && leftAligned {
				blocks[i].Lines = append(blocks[i].Lines, ln)
				blocks[i].BBox = unionBBox(blocks[i].BBox, ln.BBox)
				placed = true
				break
			}
		}
		if !placed {
			blocks = append(blocks, Block{BBox: ln.BBox, Lines: []Line{ln}})
		}
	}
	return blocks
}

func yOverlapRatio(a, b BBox) float64 {
	top := max(a.Y1, b.Y1)
	bottom := min(a.Y2, b.Y2)
	overlap := bottom - top
	if overlap <= 0 {
		return 0
	}
	shorter := min(a.Y2-a.Y1, b.Y2-b.Y1)
	if shorter <= 0 {
		return 0
	}
	return overlap / shorter
}

func unionBBox(a, b BBox) BBox {
	return BBox{X1: min(a.X1, b.X1), Y1: min(a.Y1, b.Y1), X2: max(a.X2, b.X2), Y2: max(a.Y2, b.Y2)}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// LayoutPlugin wraps AssembleLayout as a DAG node.
type LayoutPlugin struct {
	manifest *pluginrt.Manifest
}

// NewLayoutPlugin builds the layout.assemble node.
func NewLayoutPlugin() *LayoutPlugin {
	return &LayoutPlugin{manifest: &pluginrt.Manifest{
		ID:           "layout.assemble",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapLayout},
		Requires:     []string{"ocr_tokens"},
		Provides:     []string{"blocks"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *LayoutPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *LayoutPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	tokens, _ := input["ocr_tokens"].([]OCRToken)
	blocks := AssembleLayout(tokens)
	items := make([]interface{}, len(blocks))
	for i, b := range blocks {
		items[i] = b
	}
	return pluginrt.Result{Items: items}, nil
}
