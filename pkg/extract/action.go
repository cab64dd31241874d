package extract

import (
	"context"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// ActionKind enumerates the candidate actions scored by infer.action.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionRightClick  ActionKind = "right_click"
	ActionType        ActionKind = "type"
	ActionScroll      ActionKind = "scroll"
	ActionDrag        ActionKind = "drag"
	ActionKeyShortcut ActionKind = "key_shortcut"
	ActionUnknown     ActionKind = "unknown"
)

// ImpactKind classifies a delta's composition (§4.5 infer.action).
type ImpactKind string

const (
	ImpactDeleted  ImpactKind = "deleted"
	ImpactCreated  ImpactKind = "created"
	ImpactModified ImpactKind = "modified"
)

// ActionCandidate is one scored action hypothesis.
type ActionCandidate struct {
	Kind       ActionKind
	Confidence float64
}

// ActionSignals bundles the observation inputs infer.action scores
// against.
type ActionSignals struct {
	CursorElementOverlapIoU float64
	FocusChanged            bool
	TextInserted            bool
	ContentTranslatedPx     float64 // magnitude of bulk content shift, e.g. scroll
	ScrollbarMotionPx       float64
}

const actionLowConfidenceThreshold = 0.5

// ScoreActions ranks action candidates from signals, always returning
// at least one candidate with the highest-scoring kind first (§4.5
// infer.action: "Always emit a primary.kind (possibly unknown)"). When
// no kind scores above zero, unknown leads and the zero-scored kinds
// follow it.
func ScoreActions(sig ActionSignals) []ActionCandidate {
	candidates := []ActionCandidate{
		{Kind: ActionClick, Confidence: sig.CursorElementOverlapIoU * 0.8},
		{Kind: ActionDoubleClick, Confidence: sig.CursorElementOverlapIoU * 0.4},
		{Kind: ActionRightClick, Confidence: sig.CursorElementOverlapIoU * 0.3},
		{Kind: ActionType, Confidence: boolScore(sig.TextInserted) * 0.9},
		{Kind: ActionScroll, Confidence: clamp01(sig.ScrollbarMotionPx / 100)},
		{Kind: ActionDrag, Confidence: clamp01(sig.ContentTranslatedPx / 200)},
		{Kind: ActionKeyShortcut, Confidence: boolScore(sig.FocusChanged && !sig.TextInserted) * 0.5},
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })

	if candidates[0].Confidence <= 0 {
		return append([]ActionCandidate{{Kind: ActionUnknown, Confidence: 0}}, candidates...)
	}
	return candidates
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClassifyImpact derives the impact kind from a delta's change
// composition: removals with no modifications are "deleted" when they
// are at least as many as the additions, pure additions are "created",
// anything else is "modified".
func ClassifyImpact(d Delta) ImpactKind {
	var adds, removes, modifies int
	for _, c := range d.Changes {
		switch c.Kind {
		case ChangeAdd:
			adds++
		case ChangeRemove:
			removes++
		case ChangeModify:
			modifies++
		}
	}
	switch {
	case removes > 0 && removes >= adds && modifies == 0:
		return ImpactDeleted
	case adds > 0 && removes == 0 && modifies == 0:
		return ImpactCreated
	default:
		return ImpactModified
	}
}

// ActionResult is the output of infer.action.
type ActionResult struct {
	Primary      ActionCandidate
	Alternatives []ActionCandidate
	Impact       ImpactKind
}

// InferAction picks the primary action, attaching at least one
// alternative when confidence is low (§4.5 infer.action).
func InferAction(sig ActionSignals, delta Delta) ActionResult {
	candidates := ScoreActions(sig)
	result := ActionResult{Primary: candidates[0], Impact: ClassifyImpact(delta)}
	if result.Primary.Confidence < actionLowConfidenceThreshold && len(candidates) > 1 {
		result.Alternatives = candidates[1:2]
	}
	return result
}

// ActionPlugin wraps InferAction as a DAG node.
type ActionPlugin struct {
	manifest *pluginrt.Manifest
}

// NewActionPlugin builds the infer.action node.
func NewActionPlugin() *ActionPlugin {
	return &ActionPlugin{manifest: &pluginrt.Manifest{
		ID:           "infer.action",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapAction},
		Requires:     []string{"delta", "cursor", "ui_elements"},
		Provides:     []string{"action"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *ActionPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *ActionPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	delta, _ := input["delta"].(Delta)
	cursor, _ := input["cursor"].(CursorObservation)
	elements, _ := input["ui_elements"].([]UIElement)

	sig := deriveActionSignals(cursor, elements, delta)
	result := InferAction(sig, delta)
	return pluginrt.Result{Items: []interface{}{result}}, nil
}

// deriveActionSignals builds ActionSignals from the nodes already
// available in the bag rather than expecting a precomputed signals
// bundle no upstream node produces (§4.5 infer.action). Scrollbar
// motion has no dedicated detector here and stays zero.
func deriveActionSignals(cursor CursorObservation, elements []UIElement, delta Delta) ActionSignals {
	var overlap float64
	for _, e := range elements {
		if iou := cursor.Position.IoU(e.BBox); iou > overlap {
			overlap = iou
		}
	}

	var focusChanged, textInserted bool
	var translated float64
	for _, c := range delta.Changes {
		switch c.Kind {
		case ChangeModify:
			focusChanged = true
			if c.Detail != "" {
				textInserted = true
			}
		case ChangeAdd, ChangeRemove:
			translated++
		}
	}

	return ActionSignals{
		CursorElementOverlapIoU: overlap,
		FocusChanged:            focusChanged,
		TextInserted:            textInserted,
		ContentTranslatedPx:     translated,
	}
}
