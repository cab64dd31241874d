package pluginrt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/audit"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

// CallContext is injected into every plugin invocation (§4.2: "The
// orchestrator injects a context {run_id, ts_ms, config, store handles,
// logger}").
type CallContext struct {
	RunID     string
	TsMs      int64
	Config    map[string]interface{}
	CancelCh  <-chan struct{} // closed when the scheduler cancels this run
}

// Cancelled reports whether the run's cancel token has fired.
func (c *CallContext) Cancelled() bool {
	select {
	case <-c.CancelCh:
		return true
	default:
		return false
	}
}

// Result is a plugin call's structured output (§4.2).
type Result struct {
	Items       []interface{}          `json:"items"`
	Metrics     map[string]float64     `json:"metrics,omitempty"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
}

// Plugin is the abstract plugin interface. Implementations are hosted
// in-process, as a sandboxed subprocess, or as a WASM module — the
// orchestrator does not care which (§9: "composes by capability name,
// not by type inheritance").
type Plugin interface {
	Manifest() *Manifest
	Call(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error)
}

// Runtime hosts a fixed set of admitted plugins and executes them with
// the determinism and audit contract of §4.2.
type Runtime struct {
	plugins  map[string]Plugin
	schemas  *SchemaValidator
	auditLog *audit.Store
	demoted  map[string]bool // plugins demoted for this run after PluginLoadFailure
	clock    func() time.Time
}

// NewRuntime creates a runtime backed by auditLog for per-call audit
// rows.
func NewRuntime(auditLog *audit.Store, schemas *SchemaValidator) *Runtime {
	return &Runtime{
		plugins:  make(map[string]Plugin),
		schemas:  schemas,
		auditLog: auditLog,
		demoted:  make(map[string]bool),
		clock:    time.Now,
	}
}

// Register admits a plugin into the runtime. Callers must call
// Admit (lockfile.go) before Register; Register itself does not
// re-verify the lockfile.
func (r *Runtime) Register(p Plugin) {
	r.plugins[p.Manifest().ID] = p
}

// Demote marks a plugin as unavailable for the remainder of the current
// run (§4.2: "subsequent scheduling demotes that plugin for the current
// run" after a crash/PluginLoadFailure).
func (r *Runtime) Demote(pluginID string) {
	r.demoted[pluginID] = true
}

// Available reports whether pluginID can still be scheduled this run.
func (r *Runtime) Available(pluginID string) bool {
	_, registered := r.plugins[pluginID]
	return registered && !r.demoted[pluginID]
}

// Invoke calls plugin pluginID, enforcing input/output schema
// validation, a timeout with one retry (§5: "bounded timeout... retried
// once then failed"), and writes exactly one audit row per call.
func (r *Runtime) Invoke(ctx context.Context, cc CallContext, pluginID string, input map[string]interface{}, timeout time.Duration) (Result, error) {
	p, ok := r.plugins[pluginID]
	if !ok || r.demoted[pluginID] {
		return Result{}, perr.New(perr.KindPluginLoadFailure, "pluginrt.Invoke", fmt.Sprintf("plugin %s unavailable", pluginID))
	}
	manifest := p.Manifest()

	if r.schemas != nil {
		if err := r.schemas.Validate(pluginID+".args", input); err != nil {
			r.recordAudit(ctx, cc, manifest, "Call", false, err.Error(), 0, nil, 0)
			return Result{}, perr.Wrap(perr.KindValidation, "pluginrt.Invoke", "input schema validation failed", err)
		}
	}

	start := r.clock()
	result, execErr := r.callWithTimeoutAndRetry(ctx, cc, p, input, timeout)
	duration := r.clock().Sub(start)

	if execErr == nil && r.schemas != nil {
		for _, item := range result.Items {
			if err := r.schemas.Validate(pluginID+".output", item); err != nil {
				// §4.2: invalid output is discarded wholesale, not partially consumed.
				execErr = perr.Wrap(perr.KindValidation, "pluginrt.Invoke", "output schema validation failed", err)
				result = Result{}
				break
			}
		}
	}

	success := execErr == nil
	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	r.recordAuditTimed(ctx, cc, manifest, "Call", success, errMsg, len(input), result, input, duration)
	return result, execErr
}

func (r *Runtime) callWithTimeoutAndRetry(ctx context.Context, cc CallContext, p Plugin, input map[string]interface{}, timeout time.Duration) (Result, error) {
	attempt := func() (Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		type out struct {
			res Result
			err error
		}
		ch := make(chan out, 1)
		go func() {
			res, err := p.Call(callCtx, cc, input)
			ch <- out{res, err}
		}()
		select {
		case o := <-ch:
			return o.res, o.err
		case <-callCtx.Done():
			return Result{}, perr.New(perr.KindPluginTimeout, "pluginrt.callWithTimeoutAndRetry", "plugin call timed out")
		}
	}

	res, err := attempt()
	if err == nil {
		return res, nil
	}
	var pe *perr.Error
	if perr.AsError(err, &pe) && pe.Kind == perr.KindPluginTimeout {
		return attempt() // single retry, then fail the artifact (§5)
	}
	return res, err
}

// recordAudit writes a row for calls that never reach the plugin (e.g.
// input schema rejection), where there is no output or timing to hash.
func (r *Runtime) recordAudit(ctx context.Context, cc CallContext, m *Manifest, method string, success bool, errMsg string, rowsIn int, items []interface{}, payloadBytes int) {
	row := r.buildAuditRow(cc, m, method, success, errMsg, rowsIn, len(items), 0, int64(payloadBytes))
	r.appendRow(ctx, row)
}

// recordAuditTimed writes the full audit row for a completed plugin
// call: wall-clock duration, process memory at call completion, and
// the hash set of §3's AuditRow (input/output/data/code/settings).
func (r *Runtime) recordAuditTimed(ctx context.Context, cc CallContext, m *Manifest, method string, success bool, errMsg string, rowsIn int, result Result, input map[string]interface{}, duration time.Duration) {
	outputHash := hashJSON(result)
	inputHash := hashJSON(input)
	dataHash := hashJSON(result.Items)
	settingsHash := hashJSON(cc.Config)
	codeHash := hashCode(m)
	payloadBytes := int64(len(outputHash) + len(inputHash))

	row := r.buildAuditRow(cc, m, method, success, errMsg, rowsIn, len(result.Items), duration, payloadBytes)
	row.InputHash = inputHash
	row.OutputHash = outputHash
	row.DataHash = dataHash
	row.CodeHash = codeHash
	row.SettingsHash = settingsHash
	r.appendRow(ctx, row)
}

func (r *Runtime) buildAuditRow(cc CallContext, m *Manifest, method string, success bool, errMsg string, rowsIn, rowsOut int, duration time.Duration, payloadBytes int64) audit.Row {
	rssBytes, vmsBytes := processMemory()
	return audit.Row{
		RunID:        cc.RunID,
		PluginID:     m.ID,
		Capability:   capabilityString(m),
		Method:       method,
		Success:      success,
		Error:        errMsg,
		DurationNs:   duration.Nanoseconds(),
		RowsIn:       rowsIn,
		RowsOut:      rowsOut,
		RSSBytes:     rssBytes,
		VMSBytes:     vmsBytes,
		PayloadBytes: payloadBytes,
	}
}

func (r *Runtime) appendRow(ctx context.Context, row audit.Row) {
	if r.auditLog == nil {
		return
	}
	_, _ = r.auditLog.Append(ctx, row)
}

// capabilityString joins a manifest's declared capabilities into the
// audit row's single capability column.
func capabilityString(m *Manifest) string {
	caps := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		caps[i] = string(c)
	}
	return strings.Join(caps, ",")
}

// hashCode derives a stable identity hash for the executing plugin
// code from its manifest — id, version, and lockfile hash (§4.2's
// allowlist/lockfile enforcement already ties a plugin id+version to
// one admitted binary, so hashing those fields is equivalent to
// hashing the code without re-reading the binary on every call).
func hashCode(m *Manifest) string {
	return hashJSON(struct {
		ID           string
		Version      string
		LockfileHash string
	}{m.ID, m.Version, m.LockfileHash})
}

func hashJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
