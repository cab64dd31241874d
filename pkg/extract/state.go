package extract

import (
	"context"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// ComponentConfidence is one weighted input to state_confidence.
type ComponentConfidence struct {
	Weight     float64
	Confidence float64
}

// WeightedMeanConfidence computes state_confidence as the weighted
// mean of component confidences (§4.5 build.state). Zero-weight total
// yields 0 rather than dividing by zero.
func WeightedMeanConfidence(components []ComponentConfidence) float64 {
	var weightSum, scoreSum float64
	for _, c := range components {
		weightSum += c.Weight
		scoreSum += c.Weight * c.Confidence
	}
	if weightSum == 0 {
		return 0
	}
	return scoreSum / weightSum
}

// StatePlugin assembles the ScreenState from every prior node's output
// (§4.5 build.state).
type StatePlugin struct {
	manifest *pluginrt.Manifest
}

// NewStatePlugin builds the build.state node.
func NewStatePlugin() *StatePlugin {
	return &StatePlugin{manifest: &pluginrt.Manifest{
		ID:           "build.state",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapStateBuild},
		Requires:     []string{"ui_elements", "ocr_tokens", "tables", "cursor"},
		Provides:     []string{"screen_state"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *StatePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *StatePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	elements, _ := input["ui_elements"].([]UIElement)
	tokens, _ := input["ocr_tokens"].([]OCRToken)
	tableCells := tableCellsFromBagValue(input["tables"])
	cursor, _ := input["cursor"].(CursorObservation)
	var frameID string
	if frame, ok := input["frame"].(*Frame); ok && frame != nil {
		frameID = frame.ArtifactID
	}

	components := []ComponentConfidence{
		{Weight: 1.0, Confidence: meanOCRConfidence(tokens)},
		{Weight: 0.5, Confidence: cursor.Confidence},
	}

	var tables [][]TableCell
	if len(tableCells) > 0 {
		tables = [][]TableCell{tableCells}
	}

	state := ScreenState{
		FrameID:         frameID,
		Elements:        elements,
		Tokens:          tokens,
		Tables:          tables,
		Cursor:          cursor,
		StateConfidence: WeightedMeanConfidence(components),
	}
	return pluginrt.Result{Items: []interface{}{state}}, nil
}

// tableCellsFromBagValue unwraps the DAG bag's "tables" entry, which
// extract.table provides as a single TableCell when exactly one cell
// was extracted and as a []interface{} of TableCell otherwise (see
// dag.go's Provides-copy logic).
func tableCellsFromBagValue(v interface{}) []TableCell {
	switch t := v.(type) {
	case []TableCell:
		return t
	case TableCell:
		return []TableCell{t}
	case []interface{}:
		out := make([]TableCell, 0, len(t))
		for _, item := range t {
			if c, ok := item.(TableCell); ok {
				out = append(out, c)
			}
		}
		return out
	default:
		return nil
	}
}

func meanOCRConfidence(tokens []OCRToken) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tokens {
		sum += t.Confidence
	}
	return sum / float64(len(tokens))
}
