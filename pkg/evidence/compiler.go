package evidence

import (
	"context"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/index"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"
	"github.com/ninjra/autocapture-pipeline/pkg/tape"
)

// SpanSource is the subset of *tape.Reader the compiler needs: a
// lookup by id, a time-range scan, and the k-hop expansion primitive.
// Defined as an interface so the compiler can be tested against a
// fake without a real state tape.
type SpanSource interface {
	Span(stateID string) (*tape.StateSpan, error)
	SpansInRange(startMs, endMs int64) []tape.StateSpan
	EdgesFrom(stateID string) []tape.StateEdge
}

// TextSource resolves the raw (unredacted) text backing a state span,
// e.g. the concatenation of OCR tokens that window covered. Separated
// from SpanSource because span storage (tape) and text storage (the
// OCR/CAS layer) are different components.
type TextSource interface {
	SnippetFor(stateID string) (string, bool)
}

const defaultMaxHops = 2

// Compiler implements the query -> QueryEvidenceBundle pipeline
// (§4.8). It is the sole path by which retrieval hits may reach an
// answer layer: everything it returns has already passed the policy
// gate.
type Compiler struct {
	Spans   SpanSource
	Vectors index.VectorIndex
	Text    TextSource
	Policy  *PolicyGate

	DefaultTopK int
	MaxTopK     int
}

// Compile runs the five-step algorithm and returns a bundle, or a
// perr.KindNoEvidence error if nothing survives retrieval and policy.
func (c *Compiler) Compile(ctx context.Context, filters QueryFilters) (*QueryEvidenceBundle, error) {
	topK := filters.TopK
	if topK <= 0 {
		topK = c.DefaultTopK
	}
	if c.MaxTopK > 0 && topK > c.MaxTopK {
		topK = c.MaxTopK
	}
	maxHops := filters.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	candidates, err := c.candidateStateIDs(filters, topK)
	if err != nil {
		return nil, err
	}
	expanded := c.expand(candidates, maxHops)

	hits := make([]EvidenceHit, 0, len(expanded))
	for _, stateID := range expanded {
		span, err := c.Spans.Span(stateID)
		if err != nil {
			continue // span fell out of the tape between expansion and lookup
		}
		if !filters.matchesMetadata(span) {
			continue
		}
		hit, ok, err := c.compileHit(span)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].TsStartMs < hits[j].TsStartMs })

	if len(hits) == 0 {
		return nil, perr.New(perr.KindNoEvidence, "evidence.Compile", "no hits survived retrieval and policy")
	}

	flags, err := c.Policy.ExportFlags(filters.App, filters.Entity)
	if err != nil {
		return nil, perr.Wrap(perr.KindPolicyDenied, "evidence.Compile", "export policy evaluation failed", err)
	}

	return &QueryEvidenceBundle{Hits: hits, ExportFlags: flags}, nil
}

// candidateStateIDs implements step 2: vector topK when a query
// embedding is present, otherwise a metadata time-range scan.
func (c *Compiler) candidateStateIDs(filters QueryFilters, topK int) ([]string, error) {
	if len(filters.QueryEmbedding) > 0 && c.Vectors != nil {
		scored, err := c.Vectors.Search(filters.QueryEmbedding, topK)
		if err != nil {
			return nil, perr.Wrap(perr.KindStoreTransient, "evidence.candidateStateIDs", "vector search", err)
		}
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.ArtifactID
		}
		return ids, nil
	}

	spans := c.Spans.SpansInRange(filters.TimeStartMs, filters.TimeEndMs)
	ids := make([]string, 0, len(spans))
	for _, s := range spans {
		ids = append(ids, s.StateID)
	}
	if topK > 0 && len(ids) > topK {
		ids = ids[:topK]
	}
	return ids, nil
}

// expand implements step 3: a bounded breadth-first walk along
// StateEdge out-edges from each candidate, up to maxHops away.
func (c *Compiler) expand(seeds []string, maxHops int) []string {
	visited := make(map[string]bool, len(seeds))
	var order []string
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if !visited[id] {
			visited[id] = true
			order = append(order, id)
			frontier = append(frontier, id)
		}
	}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, e := range c.Spans.EdgesFrom(id) {
				if !visited[e.ToStateID] {
					visited[e.ToStateID] = true
					order = append(order, e.ToStateID)
					next = append(next, e.ToStateID)
				}
			}
		}
		frontier = next
	}
	return order
}

// compileHit implements steps 4-5 for a single span: snippet and
// citation compilation, then redaction and the app denylist. A hit
// that cannot be redacted to completeness, or whose app is denied, is
// dropped (ok=false) rather than surfaced partially scrubbed.
func (c *Compiler) compileHit(span *tape.StateSpan) (EvidenceHit, bool, error) {
	denied, err := c.Policy.IsDenied(span.SummaryFeatures.App, "")
	if err != nil {
		return EvidenceHit{}, false, perr.Wrap(perr.KindPolicyDenied, "evidence.compileHit", "app denylist evaluation failed", err)
	}
	if denied {
		return EvidenceHit{}, false, nil
	}

	var snippets []TextSnippet
	if c.Text != nil {
		if raw, ok := c.Text.SnippetFor(span.StateID); ok && raw != "" {
			redacted, residue := Redact(raw)
			if residue {
				return EvidenceHit{}, false, nil
			}
			snippets = append(snippets, TextSnippet{Text: redacted, Redacted: redacted != raw})
		}
	}

	evidence := make([]artifact.EvidenceRef, len(span.Evidence))
	copy(evidence, span.Evidence)

	return EvidenceHit{
		StateID:               span.StateID,
		App:                   span.SummaryFeatures.App,
		TsStartMs:             span.TsStartMs,
		TsEndMs:               span.TsEndMs,
		ExtractedTextSnippets: snippets,
		Evidence:              evidence,
	}, true, nil
}

// matchesMetadata applies the remaining structured filters (app,
// entity) that a vector or time-range pass alone cannot encode.
func (f QueryFilters) matchesMetadata(span *tape.StateSpan) bool {
	if f.App != "" && span.SummaryFeatures.App != f.App {
		return false
	}
	if f.Entity != "" {
		found := false
		for _, e := range span.SummaryFeatures.TopEntities {
			if e == f.Entity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
