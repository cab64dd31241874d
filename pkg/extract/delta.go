package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// ChangeKind enumerates the delta change types (§4.5 build.delta).
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeRemove ChangeKind = "remove"
	ChangeModify ChangeKind = "modify"
)

// Change is one unit of a Delta's sorted change list.
type Change struct {
	Kind     ChangeKind
	TargetID string
	Detail   string
}

// Delta is the output of build.delta between two consecutive states.
type Delta struct {
	Changes []Change
}

// DiffElements compares two element sets keyed by element_id (already
// stabilized by match.ids) and emits add/remove/modify changes.
func DiffElements(prev, curr []UIElement) []Change {
	prevByID := make(map[string]UIElement, len(prev))
	for _, e := range prev {
		prevByID[e.ElementID] = e
	}
	currByID := make(map[string]UIElement, len(curr))
	for _, e := range curr {
		currByID[e.ElementID] = e
	}

	var changes []Change
	for id, c := range currByID {
		if p, ok := prevByID[id]; !ok {
			changes = append(changes, Change{Kind: ChangeAdd, TargetID: id})
		} else if p.Text != c.Text || p.Type != c.Type || p.BBox != c.BBox {
			changes = append(changes, Change{Kind: ChangeModify, TargetID: id, Detail: fmt.Sprintf("text %q -> %q", p.Text, c.Text)})
		}
	}
	for id := range prevByID {
		if _, ok := currByID[id]; !ok {
			changes = append(changes, Change{Kind: ChangeRemove, TargetID: id})
		}
	}
	return changes
}

// DiffTables diffs two grids by (r, c) -> normalized text.
func DiffTables(prev, curr []TableCell) []Change {
	key := func(r, c int) string { return fmt.Sprintf("%d,%d", r, c) }
	prevByAddr := make(map[string]string, len(prev))
	for _, c := range prev {
		prevByAddr[key(c.Row, c.Col)] = normalizeText(c.Text)
	}
	currByAddr := make(map[string]string, len(curr))
	for _, c := range curr {
		currByAddr[key(c.Row, c.Col)] = normalizeText(c.Text)
	}

	var changes []Change
	for addr, text := range currByAddr {
		if old, ok := prevByAddr[addr]; !ok {
			changes = append(changes, Change{Kind: ChangeAdd, TargetID: "cell:" + addr, Detail: text})
		} else if old != text {
			changes = append(changes, Change{Kind: ChangeModify, TargetID: "cell:" + addr, Detail: fmt.Sprintf("%q -> %q", old, text)})
		}
	}
	for addr := range prevByAddr {
		if _, ok := currByAddr[addr]; !ok {
			changes = append(changes, Change{Kind: ChangeRemove, TargetID: "cell:" + addr})
		}
	}
	return changes
}

// DiffCodeLines computes a Myers-style LCS-based line diff, emitting
// one change per added/removed line (modified lines surface as a
// remove+add pair, matching a plain unified diff).
func DiffCodeLines(prev, curr []CodeLine) []Change {
	n, m := len(prev), len(curr)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if prev[i].Text == curr[j].Text {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var changes []Change
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case prev[i].Text == curr[j].Text:
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			changes = append(changes, Change{Kind: ChangeRemove, TargetID: fmt.Sprintf("line:%d", i), Detail: prev[i].Text})
			i++
		default:
			changes = append(changes, Change{Kind: ChangeAdd, TargetID: fmt.Sprintf("line:%d", j), Detail: curr[j].Text})
			j++
		}
	}
	for ; i < n; i++ {
		changes = append(changes, Change{Kind: ChangeRemove, TargetID: fmt.Sprintf("line:%d", i), Detail: prev[i].Text})
	}
	for ; j < m; j++ {
		changes = append(changes, Change{Kind: ChangeAdd, TargetID: fmt.Sprintf("line:%d", j), Detail: curr[j].Text})
	}
	return changes
}

// SortChanges orders a change list by (kind, target_id) (§4.5
// build.delta).
func SortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Kind != changes[j].Kind {
			return changes[i].Kind < changes[j].Kind
		}
		return changes[i].TargetID < changes[j].TargetID
	})
}

// DeltaPlugin wraps the element/table/code diffs as a DAG node.
type DeltaPlugin struct {
	manifest *pluginrt.Manifest
}

// NewDeltaPlugin builds the build.delta node.
func NewDeltaPlugin() *DeltaPlugin {
	return &DeltaPlugin{manifest: &pluginrt.Manifest{
		ID:           "build.delta",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapDelta},
		Requires:     []string{"screen_state", "prev_state", "code_regions", "prev_code_lines"},
		Provides:     []string{"delta"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *DeltaPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *DeltaPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	prev, _ := input["prev_state"].(ScreenState)
	curr, _ := input["screen_state"].(ScreenState)
	prevCode, _ := input["prev_code_lines"].([]CodeLine)
	var currCode []CodeLine
	if obs, ok := input["code_regions"].(CodeObservation); ok {
		currCode = obs.Lines
	}

	var changes []Change
	changes = append(changes, DiffElements(prev.Elements, curr.Elements)...)
	if len(prev.Tables) > 0 && len(curr.Tables) > 0 {
		changes = append(changes, DiffTables(prev.Tables[0], curr.Tables[0])...)
	}
	changes = append(changes, DiffCodeLines(prevCode, currCode)...)
	SortChanges(changes)

	return pluginrt.Result{Items: []interface{}{Delta{Changes: changes}}}, nil
}
