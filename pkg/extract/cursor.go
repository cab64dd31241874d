package extract

import (
	"context"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// CursorTemplate is one built-in cursor shape to match against.
type CursorTemplate struct {
	Name string
	Gray []byte
	W, H int
}

var cursorMatchScales = []float64{0.75, 1.0, 1.25}

const cursorMatchThreshold = 0.6

// MatchCursor runs the supplied score function for each template at
// each scale against the search region, returning the best match or
// Unknown=true below threshold (§4.5 track.cursor).
func MatchCursor(region []byte, regionW, regionH int, templates []CursorTemplate, score func(region []byte, regionW, regionH int, tmpl []byte, tw, th int) (x, y int, confidence float64)) CursorObservation {
	best := CursorObservation{Unknown: true}
	bestConf := -1.0

	for _, tmpl := range templates {
		for _, scale := range cursorMatchScales {
			tw := int(float64(tmpl.W) * scale)
			th := int(float64(tmpl.H) * scale)
			if tw <= 0 || th <= 0 || tw > regionW || th > regionH {
				continue
			}
			scaled := resizeGray(tmpl.Gray, tmpl.W, tmpl.H, tw, th)
			x, y, conf := score(region, regionW, regionH, scaled, tw, th)
			if conf > bestConf {
				bestConf = conf
				best = CursorObservation{
					Position:   BBox{X1: float64(x), Y1: float64(y), X2: float64(x + tw), Y2: float64(y + th)},
					Template:   tmpl.Name,
					Scale:      scale,
					Confidence: conf,
					Unknown:    conf < cursorMatchThreshold,
				}
			}
		}
	}
	return best
}

// resizeGray nearest-neighbor resamples a grayscale template to (tw, th).
func resizeGray(gray []byte, w, h, tw, th int) []byte {
	out := make([]byte, tw*th)
	for y := 0; y < th; y++ {
		sy := y * h / th
		for x := 0; x < tw; x++ {
			sx := x * w / tw
			out[y*tw+x] = gray[sy*w+sx]
		}
	}
	return out
}

// CursorPlugin wraps MatchCursor as a DAG node.
type CursorPlugin struct {
	manifest  *pluginrt.Manifest
	templates []CursorTemplate
	score     func(region []byte, regionW, regionH int, tmpl []byte, tw, th int) (x, y int, confidence float64)
}

// NewCursorPlugin builds the track.cursor node. score implements the
// actual matching metric (DefaultCursorScore's sum-of-absolute-
// differences search in the shipped CLI; pluggable here so tests can
// substitute a cheap stub).
func NewCursorPlugin(templates []CursorTemplate, score func([]byte, int, int, []byte, int, int) (int, int, float64)) *CursorPlugin {
	return &CursorPlugin{templates: templates, score: score, manifest: &pluginrt.Manifest{
		ID:           "track.cursor",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapCursor},
		Requires:     []string{"normalized_frame"},
		Provides:     []string{"cursor"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *CursorPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *CursorPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	frame, ok := input["frame"].(*Frame)
	if !ok || frame == nil {
		return pluginrt.Result{Items: []interface{}{CursorObservation{Unknown: true}}}, nil
	}
	obs := MatchCursor(frame.Gray, frame.WidthPx, frame.HeightPx, p.templates, p.score)
	return pluginrt.Result{Items: []interface{}{obs}}, nil
}
