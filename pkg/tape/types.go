// Package tape builds the state tape (§4.6, component F): the
// sequence of StateSpan/StateEdge artifacts that compress the
// Extraction DAG's per-frame output into temporally windowed
// embeddings a downstream index and evidence compiler can query
// without re-walking every frame.
package tape

import "github.com/ninjra/autocapture-pipeline/pkg/artifact"

// EmbeddingVector is a dense vector carried on a StateSpan/StateEdge,
// tagged with its dtype so a consumer can validate it without
// guessing (§3 DATA MODEL).
type EmbeddingVector struct {
	Dim   int       `json:"dim"`
	Dtype string    `json:"dtype"` // "float32"
	Blob  []float32 `json:"blob"`
}

// SummaryFeatures are the cheap, non-embedding descriptors carried
// alongside a span's embedding so callers can filter without
// decoding the blob.
type SummaryFeatures struct {
	App             string   `json:"app"`
	WindowTitleHash string   `json:"window_title_hash"`
	TopEntities     []string `json:"top_entities"`
}

// StateSpan is one windowed span of screen state (§3 DATA MODEL,
// §4.6). ts_start_ms < ts_end_ms per invariant 6.
type StateSpan struct {
	StateID         string              `json:"state_id"`
	SessionID       string              `json:"session_id"`
	TsStartMs       int64               `json:"ts_start_ms"`
	TsEndMs         int64               `json:"ts_end_ms"`
	ZEmbedding      EmbeddingVector     `json:"z_embedding"`
	SummaryFeatures SummaryFeatures     `json:"summary_features"`
	Evidence        []artifact.EvidenceRef `json:"evidence"`
	Provenance      artifact.Provenance `json:"provenance"`
}

// StateEdge is the transition between two consecutive StateSpans.
// from_state_id != to_state_id per invariant 6; pred_error in [0,2]
// per invariant 7.
type StateEdge struct {
	EdgeID         string              `json:"edge_id"`
	FromStateID    string              `json:"from_state_id"`
	ToStateID      string              `json:"to_state_id"`
	DeltaEmbedding EmbeddingVector     `json:"delta_embedding"`
	PredError      float64             `json:"pred_error"`
	Evidence       []artifact.EvidenceRef `json:"evidence"`
	Provenance     artifact.Provenance `json:"provenance"`
}
