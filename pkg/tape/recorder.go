package tape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/extract"
)

// BoundaryMode selects how a window closes (§4.6).
type BoundaryMode string

const (
	BoundaryAppChangePreferred BoundaryMode = "app_change_preferred"
	BoundaryTimeBased          BoundaryMode = "time_based"
)

// BuilderConfig parameterizes windowing and embedding. Its fields
// mirror internal/config's SpanWindowSeconds/SpanBoundaryMode/
// PredErrorBaseline, but the batch process command does not read
// those: it sets WindowSeconds from --window-seconds, fixes
// BoundaryMode to app_change_preferred and leaves PredErrorBaseline
// false.
type BuilderConfig struct {
	SessionID         string
	WindowSeconds     int
	BoundaryMode      BoundaryMode
	ConfThreshold     float64
	AppVocab          []string
	PredErrorBaseline bool
	Producer          artifact.Producer
	Matrix            *ProjectionMatrix
	Now               func() time.Time
}

// FrameObservation is one frame's contribution to the tape, already
// produced by the Extraction DAG (component E).
type FrameObservation struct {
	Frame           extract.Frame
	State           extract.ScreenState
	Segment         extract.SegmentDecision
	FrameArtifactID string
	Evidence        []artifact.EvidenceRef
}

// Builder windows a stream of FrameObservations into committed
// StateSpan/StateEdge artifacts (§4.6 build). Feed is not
// goroutine-safe; callers serialize calls per session, matching the
// Extraction DAG's per-frame sequential processing.
type Builder struct {
	cfg BuilderConfig

	openStart  int64
	openEnd    int64
	elements   []extract.UIElement
	tokens     []extract.OCRToken
	app        string
	windowHash string
	frameRefs  []artifact.InputRef
	evidence   []artifact.EvidenceRef
	haveOpen   bool

	prevStateID   string
	prevEmbedding []float32
}

// NewBuilder constructs a Builder, filling in a default confidence
// threshold and a freshly derived projection matrix when the caller
// leaves them zero.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ConfThreshold == 0 {
		cfg.ConfThreshold = DefaultOCRConfidenceThreshold
	}
	if cfg.Matrix == nil {
		cfg.Matrix = NewProjectionMatrix(DefaultProjectionSeed, OutputDim, ConcatDim)
	}
	return &Builder{cfg: cfg}
}

// Feed ingests one frame's observation, returning a committed span
// (and, once a prior span exists, the edge from it) whenever the
// frame closes the currently open window. Returns all nils when the
// frame only extends the still-open window.
func (b *Builder) Feed(obs FrameObservation) (*StateSpan, *StateEdge, error) {
	if b.haveOpen && b.shouldCloseWindow(obs) {
		span, edge, err := b.closeWindow()
		if err != nil {
			return nil, nil, err
		}
		b.accumulate(obs)
		return span, edge, nil
	}
	b.accumulate(obs)
	return nil, nil, nil
}

// Flush closes a still-open window at stream end (e.g. session
// shutdown) so a final partial window is not silently dropped.
func (b *Builder) Flush() (*StateSpan, *StateEdge, error) {
	if !b.haveOpen {
		return nil, nil, nil
	}
	return b.closeWindow()
}

func (b *Builder) shouldCloseWindow(obs FrameObservation) bool {
	durationMs := int64(b.cfg.WindowSeconds) * 1000
	if durationMs > 0 && obs.Frame.TsMs-b.openStart >= durationMs {
		return true
	}
	if b.cfg.BoundaryMode != BoundaryAppChangePreferred {
		return false
	}
	if obs.Segment.Boundary {
		return true
	}
	return windowTitleHashOf(obs.Frame.WindowTitle) != b.windowHash
}

func (b *Builder) accumulate(obs FrameObservation) {
	if !b.haveOpen {
		b.openStart = obs.Frame.TsMs
		b.app = obs.Frame.AppHint
		b.windowHash = windowTitleHashOf(obs.Frame.WindowTitle)
		b.haveOpen = true
	}
	b.openEnd = obs.Frame.TsMs
	b.elements = append(b.elements, obs.State.Elements...)
	b.tokens = append(b.tokens, obs.State.Tokens...)
	b.evidence = append(b.evidence, obs.Evidence...)
	if obs.FrameArtifactID != "" {
		b.frameRefs = append(b.frameRefs, artifact.InputRef{ArtifactID: obs.FrameArtifactID, Role: "frame"})
	}
}

func (b *Builder) closeWindow() (*StateSpan, *StateEdge, error) {
	if b.openEnd <= b.openStart {
		b.openEnd = b.openStart + 1 // keeps invariant 6 (ts_start_ms < ts_end_ms) for single-frame windows
	}

	region := meanRegionEmbed(b.elements, 1, 1)
	text := meanTextEmbed(b.tokens, b.cfg.ConfThreshold)
	app := appOneHot(b.app, b.cfg.AppVocab)
	winHash := windowHashEmbed(b.windowHash)
	z := b.cfg.Matrix.Project(concatFeatures(region, text, app, winHash))

	payload := map[string]interface{}{
		"ts_start_ms": b.openStart,
		"ts_end_ms":   b.openEnd,
		"embedding":   z,
	}
	stateID, err := artifact.DeriveID(b.cfg.Producer, b.frameRefs, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("tape: derive state_id: %w", err)
	}

	now := b.cfg.Now()
	span := &StateSpan{
		StateID:    stateID,
		SessionID:  b.cfg.SessionID,
		TsStartMs:  b.openStart,
		TsEndMs:    b.openEnd,
		ZEmbedding: EmbeddingVector{Dim: len(z), Dtype: "float32", Blob: z},
		SummaryFeatures: SummaryFeatures{
			App:             b.app,
			WindowTitleHash: b.windowHash,
			TopEntities:     topEntities(b.tokens, 5),
		},
		Evidence: dedupeEvidence(b.evidence),
		Provenance: artifact.Provenance{
			ProducerPluginID:      b.cfg.Producer.PluginID,
			ProducerPluginVersion: b.cfg.Producer.PluginVersion,
			ModelVersion:          b.cfg.Matrix.Hash,
			ConfigHash:            b.cfg.Producer.ConfigHash,
			InputArtifactIDs:      inputIDs(b.frameRefs),
			CreatedTsMs:           now.UnixMilli(),
		},
	}

	var edge *StateEdge
	if b.prevStateID != "" && b.prevStateID != stateID {
		delta := DeltaEmbedding(z, b.prevEmbedding)
		var predErr float64
		if b.cfg.PredErrorBaseline {
			predErr = PredError(z, b.prevEmbedding)
		}
		edgeRefs := []artifact.InputRef{
			{ArtifactID: b.prevStateID, Role: "from"},
			{ArtifactID: stateID, Role: "to"},
		}
		edgeID, derr := artifact.DeriveID(b.cfg.Producer, edgeRefs, map[string]interface{}{"pred_error": predErr})
		if derr != nil {
			return nil, nil, fmt.Errorf("tape: derive edge_id: %w", derr)
		}
		edge = &StateEdge{
			EdgeID:         edgeID,
			FromStateID:    b.prevStateID,
			ToStateID:      stateID,
			DeltaEmbedding: EmbeddingVector{Dim: len(delta), Dtype: "float32", Blob: delta},
			PredError:      predErr,
			Evidence:       span.Evidence,
			Provenance:     span.Provenance,
		}
	}

	b.prevStateID = stateID
	b.prevEmbedding = z
	b.resetWindow()
	return span, edge, nil
}

func (b *Builder) resetWindow() {
	b.haveOpen = false
	b.elements = nil
	b.tokens = nil
	b.app = ""
	b.windowHash = ""
	b.frameRefs = nil
	b.evidence = nil
}

func windowTitleHashOf(title string) string {
	if title == "" {
		return ""
	}
	h := sha256.Sum256([]byte(title))
	return hex.EncodeToString(h[:])
}

func inputIDs(refs []artifact.InputRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range artifact.SortInputRefs(refs) {
		out = append(out, r.ArtifactID)
	}
	return out
}

func dedupeEvidence(refs []artifact.EvidenceRef) []artifact.EvidenceRef {
	seen := make(map[string]bool, len(refs))
	out := make([]artifact.EvidenceRef, 0, len(refs))
	for _, r := range refs {
		key := r.MediaID + ":" + r.SHA256
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
