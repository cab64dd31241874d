package extract

import (
	"context"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

const (
	dStable   = 4
	dBoundary = 12
)

// SegmentDecision is the outcome of temporal.segment for one frame
// pair.
type SegmentDecision struct {
	Boundary   bool
	Hamming    int
	UsedVisualDiff bool
}

// VisualDiffFunc computes a cheap downscaled visual diff score in
// [0,1] between two frames, ignoring volatile regions when a mask is
// supplied. Only invoked in the ambiguous band between dStable and
// dBoundary.
type VisualDiffFunc func(prevGray, currGray []byte, volatileMask []bool) float64

const visualDiffBoundaryThreshold = 0.15

// SegmentBoundary decides whether a temporal boundary exists between
// the previous and current frame, per §4.5 temporal.segment.
func SegmentBoundary(prevHash, currHash uint64, prevGray, currGray []byte, volatileMask []bool, diff VisualDiffFunc) SegmentDecision {
	d := HammingDistance64(prevHash, currHash)
	switch {
	case d <= dStable:
		return SegmentDecision{Boundary: false, Hamming: d}
	case d >= dBoundary:
		return SegmentDecision{Boundary: true, Hamming: d}
	default:
		if diff == nil {
			return SegmentDecision{Boundary: false, Hamming: d}
		}
		score := diff(prevGray, currGray, volatileMask)
		return SegmentDecision{Boundary: score >= visualDiffBoundaryThreshold, Hamming: d, UsedVisualDiff: true}
	}
}

// TemporalSegmentPlugin wraps SegmentBoundary as a DAG node.
type TemporalSegmentPlugin struct {
	manifest *pluginrt.Manifest
	diff     VisualDiffFunc
}

// NewTemporalSegmentPlugin builds the temporal.segment node.
func NewTemporalSegmentPlugin(diff VisualDiffFunc) *TemporalSegmentPlugin {
	return &TemporalSegmentPlugin{diff: diff, manifest: &pluginrt.Manifest{
		ID:           "temporal.segment",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapTemporalSegment},
		Requires:     []string{"normalized_frame", "prev_phash", "prev_gray"},
		Provides:     []string{"segment_decision"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *TemporalSegmentPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *TemporalSegmentPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	prevHash, _ := input["prev_phash"].(uint64)
	prevGray, _ := input["prev_gray"].([]byte)
	volatileMask, _ := input["volatile_mask"].([]bool)

	normalized, _ := input["normalized_frame"].(NormalizeResult)
	currHash := normalized.PHash
	var currGray []byte
	if frame, ok := input["frame"].(*Frame); ok && frame != nil && len(frame.Gray) == frame.WidthPx*frame.HeightPx {
		currGray = downscaleTo32Gray(frame.Gray, frame.WidthPx, frame.HeightPx)
	}

	decision := SegmentBoundary(prevHash, currHash, prevGray, currGray, volatileMask, p.diff)
	return pluginrt.Result{Items: []interface{}{decision}}, nil
}
