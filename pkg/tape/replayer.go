package tape

import (
	"fmt"
	"sort"
	"sync"
)

// Reader serves committed StateSpan/StateEdge records to downstream
// consumers (the index layer, component G) in the same
// fail-closed-on-miss style the original tape replayer used for
// recorded I/O: a query for a span/edge the reader was never given
// returns an explicit error rather than a zero value.
type Reader struct {
	mu    sync.Mutex
	spans map[string]*StateSpan
	edges map[string]*StateEdge
	order []string // state_id in ts_start_ms order, for Next/sequential scans
}

// NewReader builds a Reader over a committed batch of spans and
// edges, e.g. one session's worth produced by a Builder.
func NewReader(spans []StateSpan, edges []StateEdge) *Reader {
	r := &Reader{
		spans: make(map[string]*StateSpan, len(spans)),
		edges: make(map[string]*StateEdge, len(edges)),
	}
	ordered := make([]StateSpan, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TsStartMs < ordered[j].TsStartMs })
	for i := range ordered {
		s := ordered[i]
		r.spans[s.StateID] = &s
		r.order = append(r.order, s.StateID)
	}
	for i := range edges {
		e := edges[i]
		r.edges[e.EdgeID] = &e
	}
	return r
}

// Span looks up a span by state_id. Returns STATE_TAPE_MISS if the
// reader was never given this id — fail closed rather than returning
// a zero-value span that looks valid.
func (r *Reader) Span(stateID string) (*StateSpan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spans[stateID]
	if !ok {
		return nil, fmt.Errorf("STATE_TAPE_MISS: state_id=%s not found", stateID)
	}
	return s, nil
}

// Edge looks up an edge by edge_id. Returns STATE_TAPE_MISS on a
// miss, matching Span.
func (r *Reader) Edge(edgeID string) (*StateEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.edges[edgeID]
	if !ok {
		return nil, fmt.Errorf("STATE_TAPE_MISS: edge_id=%s not found", edgeID)
	}
	return e, nil
}

// EdgesFrom returns every edge whose FromStateID is stateID, the
// primitive the evidence compiler's k-hop expansion walks on.
func (r *Reader) EdgesFrom(stateID string) []StateEdge {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StateEdge
	for _, e := range r.edges {
		if e.FromStateID == stateID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out
}

// SpansInRange returns every span whose window overlaps
// [startMs, endMs), in ts_start_ms order.
func (r *Reader) SpansInRange(startMs, endMs int64) []StateSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StateSpan
	for _, id := range r.order {
		s := r.spans[id]
		if s.TsStartMs < endMs && s.TsEndMs > startMs {
			out = append(out, *s)
		}
	}
	return out
}

// Count returns the number of spans available.
func (r *Reader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans)
}
