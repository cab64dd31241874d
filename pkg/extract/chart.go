package extract

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// ChartTick is one readable axis tick label mapped to a pixel position.
type ChartTick struct {
	PixelPos float64
	Value    float64
}

// ChartObservation is the output of extract.chart. Series stays empty
// whenever axis mapping is impossible — the node never invents values
// (§4.5 extract.chart).
type ChartObservation struct {
	PlotRegion BBox
	XTicks     []ChartTick
	YTicks     []ChartTick
	Series     [][]float64
}

// mapPixelToValue performs a simple linear interpolation between the
// two ticks bracketing px. Requires >= 2 readable ticks on the axis.
func mapPixelToValue(ticks []ChartTick, px float64) (float64, bool) {
	if len(ticks) < 2 {
		return 0, false
	}
	for i := 0; i < len(ticks)-1; i++ {
		a, b := ticks[i], ticks[i+1]
		if (px >= a.PixelPos && px <= b.PixelPos) || (px <= a.PixelPos && px >= b.PixelPos) {
			if b.PixelPos == a.PixelPos {
				return a.Value, true
			}
			t := (px - a.PixelPos) / (b.PixelPos - a.PixelPos)
			return a.Value + t*(b.Value-a.Value), true
		}
	}
	// Extrapolate from the nearest pair when px falls outside the
	// readable tick range, rather than refusing outright.
	a, b := ticks[0], ticks[1]
	if b.PixelPos == a.PixelPos {
		return a.Value, true
	}
	t := (px - a.PixelPos) / (b.PixelPos - a.PixelPos)
	return a.Value + t*(b.Value-a.Value), true
}

// MapSeriesPixels converts a series of raw (x, y) pixel positions into
// data values, only when both axes have >= 2 readable ticks.
func MapSeriesPixels(xTicks, yTicks []ChartTick, pixelPoints [][2]float64) []float64 {
	if len(xTicks) < 2 || len(yTicks) < 2 {
		return nil
	}
	out := make([]float64, 0, len(pixelPoints))
	for _, pt := range pixelPoints {
		_, xOK := mapPixelToValue(xTicks, pt[0])
		v, yOK := mapPixelToValue(yTicks, pt[1])
		if !xOK || !yOK {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// ChartPlugin wraps chart axis mapping as a DAG node.
type ChartPlugin struct {
	manifest *pluginrt.Manifest
}

// NewChartPlugin builds the extract.chart node.
func NewChartPlugin() *ChartPlugin {
	return &ChartPlugin{manifest: &pluginrt.Manifest{
		ID:           "extract.chart",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapChart},
		Requires:     []string{"ui_elements", "ocr_tokens"},
		Provides:     []string{"charts"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *ChartPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *ChartPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	elements, _ := input["ui_elements"].([]UIElement)
	tokens, _ := input["ocr_tokens"].([]OCRToken)
	frame, _ := input["frame"].(*Frame)

	plotRegion, ok := firstBBoxOfType(elements, UIElementTypeChart)
	if !ok {
		return pluginrt.Result{Items: []interface{}{ChartObservation{}}}, nil
	}

	xTicks := axisTicksFromTokens(tokens, plotRegion, true)
	yTicks := axisTicksFromTokens(tokens, plotRegion, false)
	points := tracePlotSeries(frame, plotRegion)

	obs := ChartObservation{PlotRegion: plotRegion, XTicks: xTicks, YTicks: yTicks}
	if values := MapSeriesPixels(xTicks, yTicks, points); values != nil {
		obs.Series = [][]float64{values}
	}
	return pluginrt.Result{Items: []interface{}{obs}}, nil
}

const chartTickMarginPx = 40.0

// axisTicksFromTokens finds OCR tokens that parse as numbers just
// outside the plot region's bottom edge (x axis) or left edge (y
// axis) and maps each to its pixel position along that axis (§4.5
// extract.chart).
func axisTicksFromTokens(tokens []OCRToken, region BBox, xAxis bool) []ChartTick {
	var ticks []ChartTick
	for _, tok := range tokens {
		val, err := strconv.ParseFloat(strings.TrimSpace(tok.Text), 64)
		if err != nil {
			continue
		}
		cx := (tok.BBox.X1 + tok.BBox.X2) / 2
		cy := (tok.BBox.Y1 + tok.BBox.Y2) / 2
		if xAxis {
			if cy > region.Y2 && cy <= region.Y2+chartTickMarginPx {
				ticks = append(ticks, ChartTick{PixelPos: cx, Value: val})
			}
		} else {
			if cx < region.X1 && cx >= region.X1-chartTickMarginPx {
				ticks = append(ticks, ChartTick{PixelPos: cy, Value: val})
			}
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].PixelPos < ticks[j].PixelPos })
	return ticks
}

// tracePlotSeries traces a single line series through the plot region
// by taking, for each pixel column, the darkest row — a line-chart
// heuristic, not a general chart-type classifier.
func tracePlotSeries(frame *Frame, region BBox) [][2]float64 {
	if frame == nil || len(frame.Gray) == 0 {
		return nil
	}
	x1, y1, x2, y2 := int(region.X1), int(region.Y1), int(region.X2), int(region.Y2)
	if x2 <= x1 || y2 <= y1 {
		return nil
	}
	var points [][2]float64
	for x := x1; x < x2; x++ {
		bestY, bestDark := -1, 256
		for y := y1; y < y2; y++ {
			idx := y*frame.WidthPx + x
			if idx < 0 || idx >= len(frame.Gray) {
				continue
			}
			v := int(frame.Gray[idx])
			if v < bestDark {
				bestDark = v
				bestY = y
			}
		}
		if bestY >= 0 {
			points = append(points, [2]float64{float64(x), float64(bestY)})
		}
	}
	return points
}
