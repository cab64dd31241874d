package extract

import (
	"context"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// UIParseModel is the injected detector/VLM call. VLM-mode output is
// schema-validated by the runtime before this node ever sees it
// (§4.2 determinism contract); an empty slice here means "invalid,
// already discarded".
type UIParseModel func(ctx context.Context, frame *Frame) ([]UIElement, error)

const nearestOCRIoUThreshold = 0.1

// UIParsePlugin dedupes the model's elements by ElementID, attaches nearest OCR tokens
// by IoU, and assigns z-order by containment depth then top-to-bottom
// (§4.5 ui.parse).
type UIParsePlugin struct {
	manifest *pluginrt.Manifest
	model    UIParseModel
}

// NewUIParsePlugin builds the ui.parse node around model.
func NewUIParsePlugin(model UIParseModel) *UIParsePlugin {
	return &UIParsePlugin{model: model, manifest: &pluginrt.Manifest{
		ID:           "ui.parse",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapUIParse},
		Requires:     []string{"normalized_frame", "ocr_tokens"},
		Provides:     []string{"ui_elements"},
		ModelBacked:  true,
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *UIParsePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *UIParsePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	frame, ok := input["frame"].(*Frame)
	if !ok || frame == nil {
		return pluginrt.Result{Diagnostics: []string{"ui.parse: missing frame input"}}, nil
	}
	tokens, _ := input["ocr_tokens"].([]OCRToken)

	elements, err := p.model(ctx, frame)
	if err != nil || len(elements) == 0 {
		return pluginrt.Result{Diagnostics: []string{"ui.parse: empty graph (model error or invalid output)"}}, nil
	}

	flattened := flattenElements(elements)
	assignNearestTokens(flattened, tokens)
	assignZOrder(flattened)

	items := make([]interface{}, len(flattened))
	for i, e := range flattened {
		items[i] = e
	}
	return pluginrt.Result{Items: items}, nil
}

// flattenElements returns every element of the input slice once by
// ElementID, in first-seen input order (a later duplicate's contents
// replace the earlier one's). Children edges are not followed, so an
// element that appears only as a child id is not added.
func flattenElements(elements []UIElement) []UIElement {
	byID := make(map[string]UIElement, len(elements))
	var order []string
	for _, e := range elements {
		if _, exists := byID[e.ElementID]; !exists {
			order = append(order, e.ElementID)
		}
		byID[e.ElementID] = e
	}
	flat := make([]UIElement, 0, len(order))
	for _, id := range order {
		flat = append(flat, byID[id])
	}
	return flat
}

// assignNearestTokens attaches each element's best-overlapping OCR
// token (IoU >= threshold) as its text, leaving prior text untouched
// when no token clears the bar.
func assignNearestTokens(elements []UIElement, tokens []OCRToken) {
	for i := range elements {
		best := -1.0
		var bestText string
		for _, tok := range tokens {
			iou := elements[i].BBox.IoU(tok.BBox)
			if iou >= nearestOCRIoUThreshold && iou > best {
				best = iou
				bestText = tok.Text
			}
		}
		if best >= nearestOCRIoUThreshold {
			elements[i].Text = bestText
		}
	}
}

// containmentDepth counts how many other elements geometrically
// contain e (smaller IoU-style containment proxy: e's box is fully
// inside other's box).
func containmentDepth(e UIElement, all []UIElement) int {
	depth := 0
	for _, other := range all {
		if other.ElementID == e.ElementID {
			continue
		}
		if other.BBox.X1 <= e.BBox.X1 && other.BBox.Y1 <= e.BBox.Y1 &&
			other.BBox.X2 >= e.BBox.X2 && other.BBox.Y2 >= e.BBox.Y2 &&
			other.BBox.Area() > e.BBox.Area() {
			depth++
		}
	}
	return depth
}

// assignZOrder sets Z by containment depth (deeper = higher z), then
// top-to-bottom within the same depth.
func assignZOrder(elements []UIElement) {
	depths := make([]int, len(elements))
	for i, e := range elements {
		depths[i] = containmentDepth(e, elements)
	}
	order := make([]int, len(elements))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if depths[a] != depths[b] {
			return depths[a] < depths[b]
		}
		return elements[a].BBox.Y1 < elements[b].BBox.Y1
	})
	for z, idx := range order {
		elements[idx].Z = z
	}
}
