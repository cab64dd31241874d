package index

import (
	"fmt"
	"sync"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

// FreshnessGuard tracks how many documents of each kind are pending
// reindex after a Stage-2 commit, and gates a release if any
// query-critical kind still has stale docs (§4.7: "a gate fails
// release if any query-critical kind has stale docs").
type FreshnessGuard struct {
	mu          sync.Mutex
	staleCounts map[string]int
	criticalKinds map[string]bool
}

// NewFreshnessGuard builds a guard that treats the given kinds as
// query-critical.
func NewFreshnessGuard(criticalKinds []string) *FreshnessGuard {
	g := &FreshnessGuard{
		staleCounts:   make(map[string]int),
		criticalKinds: make(map[string]bool, len(criticalKinds)),
	}
	for _, k := range criticalKinds {
		g.criticalKinds[k] = true
	}
	return g
}

// MarkStale records that a Stage-2 commit produced n new/changed docs
// of kind that have not yet been reindexed.
func (g *FreshnessGuard) MarkStale(kind string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.staleCounts[kind] += n
}

// MarkReconciled clears kind's stale count once the scheduler's
// index-refresh task has caught up.
func (g *FreshnessGuard) MarkReconciled(kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.staleCounts, kind)
}

// StaleDocsCount returns the current stale_docs_count metric value
// for kind.
func (g *FreshnessGuard) StaleDocsCount(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.staleCounts[kind]
}

// TotalStaleDocsCount returns the metric published after every
// Stage-2 commit, summed across all kinds.
func (g *FreshnessGuard) TotalStaleDocsCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.staleCounts {
		total += n
	}
	return total
}

// CheckGate returns a KindValidation error if any query-critical kind
// has a nonzero stale_docs_count, otherwise nil.
func (g *FreshnessGuard) CheckGate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind := range g.criticalKinds {
		if n := g.staleCounts[kind]; n > 0 {
			return perr.New(perr.KindValidation, "index.FreshnessGuard.CheckGate",
				fmt.Sprintf("query-critical kind %q has %d stale docs", kind, n))
		}
	}
	return nil
}
