// Package artifact implements the envelope, deterministic identity, and
// persistence-boundary invariants shared by every derived record in the
// pipeline (§3).
package artifact

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/canonicalize"
)

// Kind enumerates the persisted record kinds.
type Kind string

const (
	KindFrame       Kind = "frame"
	KindTextToken   Kind = "text_token"
	KindUIElement   Kind = "ui_element"
	KindElementGraph Kind = "element_graph"
	KindTable       Kind = "table"
	KindCodeBlock   Kind = "code_block"
	KindChart       Kind = "chart"
	KindScreenState Kind = "screen_state"
	KindStateSpan   Kind = "state_span"
	KindStateEdge   Kind = "state_edge"
	KindDeltaEvent  Kind = "delta_event"
	KindActionEvent Kind = "action_event"
)

// Producer identifies the plugin/model combination that created an artifact.
// It is the first component of the deterministic id per invariant 2.
type Producer struct {
	PluginID      string `json:"plugin_id"`
	PluginVersion string `json:"plugin_version"`
	ModelVersion  string `json:"model_version,omitempty"`
	ConfigHash    string `json:"config_hash"`
}

// Provenance is the mandatory provenance record carried by every derived
// artifact (§3 ProvenanceRecord, invariant 1).
type Provenance struct {
	ProducerPluginID      string    `json:"producer_plugin_id"`
	ProducerPluginVersion string    `json:"producer_plugin_version"`
	ModelID               string    `json:"model_id,omitempty"`
	ModelVersion          string    `json:"model_version,omitempty"`
	ConfigHash            string    `json:"config_hash"`
	InputArtifactIDs      []string  `json:"input_artifact_ids"`
	CreatedTsMs           int64     `json:"created_ts_ms"`
}

// Complete reports whether the provenance record satisfies invariant 1.
func (p Provenance) Complete() bool {
	if p.ProducerPluginID == "" || p.ProducerPluginVersion == "" || p.ConfigHash == "" {
		return false
	}
	return p.CreatedTsMs > 0
}

// EvidenceRef is a citation pointing at a specific media frame/region/text
// span that backs a derived claim (§3 EvidenceRef, §GLOSSARY).
type EvidenceRef struct {
	MediaID          string    `json:"media_id"`
	TsStartMs        int64     `json:"ts_start_ms"`
	TsEndMs          int64     `json:"ts_end_ms"`
	FrameIndex       int       `json:"frame_index"`
	BBoxXYWH         [4]int    `json:"bbox_xywh,omitempty"`
	TextSpanStart    int       `json:"text_span_start,omitempty"`
	TextSpanEnd      int       `json:"text_span_end,omitempty"`
	SHA256           string    `json:"sha256"`
	RedactionApplied bool      `json:"redaction_applied"`
}

// Envelope is the common wrapper carried by every persisted derived object.
type Envelope struct {
	ArtifactID    string      `json:"artifact_id"`
	Kind          Kind        `json:"kind"`
	SchemaVersion int         `json:"schema_version"`
	CreatedTsMs   int64       `json:"created_ts_ms"`
	Producer      Producer    `json:"extractor"`
	Provenance    Provenance  `json:"provenance"`
	Confidence    float64     `json:"confidence"`
	Evidence      []EvidenceRef `json:"evidence"`
	Payload       interface{} `json:"payload"`
}

var (
	// ErrProvenanceIncomplete is returned when an envelope is missing
	// required provenance fields. It is fatal for the offending artifact
	// only — the pipeline continues (§7 ProvenanceIncomplete).
	ErrProvenanceIncomplete = errors.New("artifact: provenance incomplete")
	// ErrNoEvidence is returned when a derived artifact carries no
	// evidence references (§3 invariant 1).
	ErrNoEvidence = errors.New("artifact: evidence list is empty")
)

// Validate enforces invariant 1 (non-empty evidence, complete provenance)
// at the persistence boundary. Callers must refuse to write an envelope
// that fails validation rather than coercing it into a valid shape.
func (e *Envelope) Validate() error {
	if len(e.Evidence) == 0 {
		return fmt.Errorf("%w: kind=%s", ErrNoEvidence, e.Kind)
	}
	if !e.Provenance.Complete() {
		return fmt.Errorf("%w: kind=%s", ErrProvenanceIncomplete, e.Kind)
	}
	return nil
}

// InputRef identifies one upstream artifact consumed to produce another.
// Canonical ordering of input refs is part of the deterministic-id
// contract (invariant 3: lists are sorted by documented keys before
// hashing).
type InputRef struct {
	ArtifactID string `json:"artifact_id"`
	Role       string `json:"role,omitempty"`
}

// SortInputRefs sorts input references by (role, artifact_id) — the
// documented key for this list, per invariant 3.
func SortInputRefs(refs []InputRef) []InputRef {
	out := make([]InputRef, len(refs))
	copy(out, refs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	return out
}

// idInput is the canonical structure hashed to derive an artifact_id.
type idInput struct {
	PluginID      string     `json:"plugin_id"`
	PluginVersion string     `json:"plugin_version"`
	ModelVersion  string     `json:"model_version,omitempty"`
	ConfigHash    string     `json:"config_hash"`
	InputRefs     []InputRef `json:"input_refs"`
	Payload       interface{} `json:"payload"`
}

// DeriveID computes the deterministic artifact_id per invariant 2:
//
//	artifact_id = sha256(canonical_json({plugin_id, plugin_version,
//	  model_version, config_hash, canonical(input_refs), canonical(payload)}))
//
// Canonicalization is RFC 8785 JCS (pkg/canonicalize), which guarantees
// identical bytes for identical logical content across platforms and
// Go map-iteration orders.
func DeriveID(producer Producer, inputRefs []InputRef, payload interface{}) (string, error) {
	sorted := SortInputRefs(inputRefs)
	in := idInput{
		PluginID:      producer.PluginID,
		PluginVersion: producer.PluginVersion,
		ModelVersion:  producer.ModelVersion,
		ConfigHash:    producer.ConfigHash,
		InputRefs:     sorted,
		Payload:       payload,
	}
	hash, err := canonicalize.CanonicalHash(in)
	if err != nil {
		return "", fmt.Errorf("artifact: derive id: %w", err)
	}
	return hash, nil
}

// NewEnvelope builds and validates an envelope, deriving its artifact_id
// from the producer/input/payload tuple. It does not persist anything;
// callers pass the result to a store's Put, which re-validates at the
// transaction boundary.
func NewEnvelope(kind Kind, schemaVersion int, producer Producer, inputRefs []InputRef, payload interface{}, evidence []EvidenceRef, confidence float64, now time.Time) (*Envelope, error) {
	id, err := DeriveID(producer, inputRefs, payload)
	if err != nil {
		return nil, err
	}
	inputIDs := make([]string, 0, len(inputRefs))
	for _, r := range SortInputRefs(inputRefs) {
		inputIDs = append(inputIDs, r.ArtifactID)
	}
	env := &Envelope{
		ArtifactID:    id,
		Kind:          kind,
		SchemaVersion: schemaVersion,
		CreatedTsMs:   now.UnixMilli(),
		Producer:      producer,
		Provenance: Provenance{
			ProducerPluginID:      producer.PluginID,
			ProducerPluginVersion: producer.PluginVersion,
			ModelID:               "",
			ModelVersion:          producer.ModelVersion,
			ConfigHash:            producer.ConfigHash,
			InputArtifactIDs:      inputIDs,
			CreatedTsMs:           now.UnixMilli(),
		},
		Confidence: confidence,
		Evidence:   evidence,
		Payload:    payload,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
