package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// NodeConfig pins one DAG node to a loaded plugin and its per-call
// timeout (§4.5: "A fixed topological order of plugins is loaded from
// config").
type NodeConfig struct {
	PluginID string
	Timeout  time.Duration
}

// DAG runs a fixed ordered list of nodes against a shared input/output
// bag, committing each node's outputs under its declared `provides`
// keys before the next node runs.
type DAG struct {
	runtime *pluginrt.Runtime
	nodes   []NodeConfig
	gate    *ConcurrencyGate
}

// New builds a DAG that schedules nodes, in order, against runtime.
func New(runtime *pluginrt.Runtime, nodes []NodeConfig) *DAG {
	return &DAG{runtime: runtime, nodes: nodes}
}

// WithConcurrencyGate attaches the per-plugin/GPU/foreground-ceiling
// concurrency gate described in §5. Without one, Run schedules nodes
// with no concurrency limiting (suitable for single-frame tests).
func (d *DAG) WithConcurrencyGate(gate *ConcurrencyGate) *DAG {
	d.gate = gate
	return d
}

// CommitFunc persists one node's successful output, keyed by its
// plugin id and the frame being processed. The DAG itself does not
// know about casstore — the caller wires persistence so extraction
// logic and storage stay decoupled.
type CommitFunc func(ctx context.Context, pluginID string, result pluginrt.Result) error

// Run executes every configured node in order against a starting input
// bag, short-circuiting on a node's requires being unsatisfied (the
// node that produced them was dropped or demoted) rather than failing
// the whole frame — matching §4.5's "runs each node when all requires
// inputs are present".
func (d *DAG) Run(ctx context.Context, cc pluginrt.CallContext, manifests map[string]*pluginrt.Manifest, initialInputs map[string]interface{}, commit CommitFunc) error {
	bag := make(map[string]interface{}, len(initialInputs))
	for k, v := range initialInputs {
		bag[k] = v
	}

	for _, node := range d.nodes {
		m, ok := manifests[node.PluginID]
		if !ok {
			return fmt.Errorf("extract: no manifest registered for node %s", node.PluginID)
		}
		if !d.runtime.Available(node.PluginID) {
			continue // demoted earlier this run; downstream nodes requiring its output simply see it absent
		}
		if !requiresSatisfied(m.Requires, bag) {
			continue
		}

		input := selectInputs(m.Requires, bag)

		var release func()
		if d.gate != nil {
			r, acquireErr := d.gate.Acquire(ctx, node.PluginID)
			if acquireErr != nil {
				return fmt.Errorf("extract: acquire concurrency slot for %s: %w", node.PluginID, acquireErr)
			}
			release = r
		}
		result, err := d.runtime.Invoke(ctx, cc, node.PluginID, input, node.Timeout)
		if release != nil {
			release()
		}
		if err != nil {
			d.runtime.Demote(node.PluginID)
			continue
		}

		for _, key := range m.Provides {
			if len(result.Items) == 1 {
				bag[key] = result.Items[0]
			} else {
				bag[key] = result.Items
			}
		}

		if commit != nil {
			if err := commit(ctx, node.PluginID, result); err != nil {
				return fmt.Errorf("extract: commit node %s: %w", node.PluginID, err)
			}
		}
	}
	return nil
}

func requiresSatisfied(requires []string, bag map[string]interface{}) bool {
	for _, r := range requires {
		if _, ok := bag[r]; !ok {
			return false
		}
	}
	return true
}

func selectInputs(requires []string, bag map[string]interface{}) map[string]interface{} {
	input := make(map[string]interface{}, len(requires)+1)
	for _, r := range requires {
		input[r] = bag[r]
	}
	if v, ok := bag["frame"]; ok {
		input["frame"] = v
	}
	return input
}

// DefaultNodeOrder is the canonical §4.5 topological order.
func DefaultNodeOrder(defaultTimeout time.Duration) []NodeConfig {
	ids := []string{
		"preprocess.normalize",
		"preprocess.tile",
		"ocr",
		"ui.parse",
		"layout.assemble",
		"extract.table",
		"extract.spreadsheet",
		"extract.code",
		"extract.chart",
		"track.cursor",
		"build.state",
		"match.ids",
		"temporal.segment",
		"build.delta",
		"infer.action",
	}
	nodes := make([]NodeConfig, len(ids))
	for i, id := range ids {
		nodes[i] = NodeConfig{PluginID: id, Timeout: defaultTimeout}
	}
	return nodes
}
