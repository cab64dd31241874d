// Package evidence implements the Evidence Compiler and Policy Gate
// (§4.8, component H): the sole path by which retrieval hits reach an
// answer layer. Nothing outside a compiled QueryEvidenceBundle is ever
// visible downstream — no raw frame, no unredacted text, no span the
// policy gate has not cleared.
package evidence

import "github.com/ninjra/autocapture-pipeline/pkg/artifact"

// QueryFilters is the parsed form of a popup/batch query request
// (§4.8 step 1: "Parse structured filters (time range, app, entity)").
type QueryFilters struct {
	TimeStartMs    int64
	TimeEndMs      int64
	App            string
	Entity         string
	QueryText      string
	QueryEmbedding []float32
	TopK           int
	MaxHops        int
}

// TextSnippet is one redacted (or redaction-clean) excerpt of text
// backing a hit.
type TextSnippet struct {
	Text     string
	Redacted bool
}

// EvidenceHit is one state span admitted into a bundle, with its
// supporting text and citations compiled and its policy decisions
// already applied.
type EvidenceHit struct {
	StateID               string
	App                   string
	TsStartMs             int64
	TsEndMs               int64
	ExtractedTextSnippets []TextSnippet
	Evidence              []artifact.EvidenceRef
}

// ExportFlags gate what an answer layer may do with a bundle's
// contents beyond citing it (§4.8: "export flags... default false").
type ExportFlags struct {
	CanShowRawMedia bool
	CanExportText   bool
}

// QueryEvidenceBundle is the only input an answer layer is permitted
// to see (spec overview, item 4). A caller receiving a bundle with no
// hits must report "no evidence" rather than treat it as an answer of
// exclusion.
type QueryEvidenceBundle struct {
	Hits        []EvidenceHit
	ExportFlags ExportFlags
}
