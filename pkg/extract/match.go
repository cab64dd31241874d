package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

const matchCostAcceptThreshold = 0.7

// ElementSignature is the per-element signature used for cost
// computation (§4.5 match.ids).
type ElementSignature struct {
	ElementID       string
	Type            string
	NormalizedBBox  BBox // normalized to [0,1] against frame size
	TextHash        string
	ParentSignature string
}

// SignatureOf derives an ElementSignature from a UIElement and its
// parent id, frame dimensions used for bbox normalization.
func SignatureOf(e UIElement, parentSig string, frameW, frameH float64) ElementSignature {
	sum := sha256.Sum256([]byte(e.Text))
	norm := BBox{}
	if frameW > 0 && frameH > 0 {
		norm = BBox{X1: e.BBox.X1 / frameW, Y1: e.BBox.Y1 / frameH, X2: e.BBox.X2 / frameW, Y2: e.BBox.Y2 / frameH}
	}
	return ElementSignature{
		ElementID:       e.ElementID,
		Type:            e.Type,
		NormalizedBBox:  norm,
		TextHash:        hex.EncodeToString(sum[:])[:16],
		ParentSignature: parentSig,
	}
}

// textDistance is a cheap normalized Hamming-style distance between
// two text hash prefixes: 0 when identical, 1 when fully different.
func textDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 1
	}
	diff := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			diff++
		}
	}
	return float64(diff) / float64(n)
}

// matchCost implements §4.5's documented cost function:
// 1 - IoU + 0.5*type_mismatch + 0.3*text_distance + 0.2*parent_mismatch.
func matchCost(a, b ElementSignature) float64 {
	iou := a.NormalizedBBox.IoU(b.NormalizedBBox)
	typeMismatch := 0.0
	if a.Type != b.Type {
		typeMismatch = 1.0
	}
	parentMismatch := 0.0
	if a.ParentSignature != b.ParentSignature {
		parentMismatch = 1.0
	}
	return (1 - iou) + 0.5*typeMismatch + 0.3*textDistance(a.TextHash, b.TextHash) + 0.2*parentMismatch
}

// MatchResult maps each current-frame signature to either a preserved
// prior element_id (matched) or a freshly minted one. Signature is the
// current-frame signature this result was computed from — callers
// carry it forward as next frame's prev_signatures.
type MatchResult struct {
	ElementID string
	Matched   bool
	Signature ElementSignature
}

// MatchElementIDs solves the assignment problem between previous and
// current signatures, preserving element_id across matches with cost
// <= threshold and minting new ids otherwise (§4.5 match.ids).
func MatchElementIDs(prev, curr []ElementSignature, mintID func() string) []MatchResult {
	costs := make([][]float64, len(curr))
	for i := range costs {
		costs[i] = make([]float64, len(prev))
		for j := range costs[i] {
			costs[i][j] = matchCost(curr[i], prev[j])
		}
	}

	var assignment []int
	if len(prev) > 0 && len(curr) > 0 {
		assignment = solveHungarian(costs)
	}

	results := make([]MatchResult, len(curr))
	usedPrev := make(map[int]bool)
	for i := range curr {
		matchedJ := -1
		if assignment != nil && i < len(assignment) {
			j := assignment[i]
			if j >= 0 && j < len(prev) && !usedPrev[j] && costs[i][j] <= matchCostAcceptThreshold {
				matchedJ = j
			}
		}
		if matchedJ >= 0 {
			usedPrev[matchedJ] = true
			results[i] = MatchResult{ElementID: prev[matchedJ].ElementID, Matched: true, Signature: curr[i]}
		} else {
			results[i] = MatchResult{ElementID: mintID(), Matched: false, Signature: curr[i]}
		}
	}
	return results
}

// MatchPlugin wraps MatchElementIDs as a DAG node.
type MatchPlugin struct {
	manifest *pluginrt.Manifest
	mintID   func() string
	counter  int
}

// NewMatchPlugin builds the match.ids node.
func NewMatchPlugin(mintID func() string) *MatchPlugin {
	return &MatchPlugin{mintID: mintID, manifest: &pluginrt.Manifest{
		ID:           "match.ids",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapMatchIDs},
		Requires:     []string{"ui_elements", "prev_signatures"},
		Provides:     []string{"matched_elements"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *MatchPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *MatchPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	prev, _ := input["prev_signatures"].([]ElementSignature)
	elements, _ := input["ui_elements"].([]UIElement)
	frameW, frameH := 0.0, 0.0
	if frame, ok := input["frame"].(*Frame); ok && frame != nil {
		frameW, frameH = float64(frame.WidthPx), float64(frame.HeightPx)
	}
	byID := make(map[string]UIElement, len(elements))
	for _, e := range elements {
		byID[e.ElementID] = e
	}
	textHash := make(map[string]string, len(elements)) // element_id -> its own signature's text hash
	var sigOf func(id string) ElementSignature
	sigOf = func(id string) ElementSignature {
		e := byID[id]
		parent := ""
		if e.ParentID != "" {
			if h, ok := textHash[e.ParentID]; ok {
				parent = h
			} else {
				parent = sigOf(e.ParentID).TextHash
			}
		}
		s := SignatureOf(e, parent, frameW, frameH)
		textHash[id] = s.TextHash
		return s
	}
	curr := make([]ElementSignature, len(elements))
	for i, e := range elements {
		curr[i] = sigOf(e.ElementID)
	}
	mint := p.mintID
	if mint == nil {
		mint = func() string {
			p.counter++
			return fmt.Sprintf("elem-%d-%d", cc.TsMs, p.counter)
		}
	}
	results := MatchElementIDs(prev, curr, mint)
	items := make([]interface{}, len(results))
	for i, r := range results {
		items[i] = r
	}
	return pluginrt.Result{Items: items}, nil
}
