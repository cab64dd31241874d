package pluginrt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// InProcessPlugin hosts a plugin as an in-process function call — the
// default for trusted, first-party extraction nodes (§4.2 hosting
// mode "in_process").
type InProcessPlugin struct {
	manifest *Manifest
	fn       func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error)
}

// NewInProcessPlugin wraps fn as a Plugin.
func NewInProcessPlugin(m *Manifest, fn func(context.Context, CallContext, map[string]interface{}) (Result, error)) *InProcessPlugin {
	return &InProcessPlugin{manifest: m, fn: fn}
}

func (p *InProcessPlugin) Manifest() *Manifest { return p.manifest }

func (p *InProcessPlugin) Call(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
	return p.fn(ctx, cc, input)
}

// SubprocessPlugin hosts a plugin as a sandboxed child process
// communicating over stdin/stdout via newline-delimited JSON (§4.2
// hosting mode "subprocess"): one JSON request line in, one JSON
// response line out, per call.
type SubprocessPlugin struct {
	manifest *Manifest
	path     string
	args     []string
}

// NewSubprocessPlugin builds a plugin hosted at an external executable.
func NewSubprocessPlugin(m *Manifest, path string, args ...string) *SubprocessPlugin {
	return &SubprocessPlugin{manifest: m, path: path, args: args}
}

func (p *SubprocessPlugin) Manifest() *Manifest { return p.manifest }

func (p *SubprocessPlugin) Call(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
	req := struct {
		RunID string                 `json:"run_id"`
		TsMs  int64                  `json:"ts_ms"`
		Input map[string]interface{} `json:"input"`
	}{RunID: cc.RunID, TsMs: cc.TsMs, Input: input}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("pluginrt: marshal subprocess request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.path, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("pluginrt: subprocess stdin: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("pluginrt: subprocess start %s: %w", p.path, err)
	}
	if _, err := stdin.Write(append(reqBytes, '\n')); err != nil {
		_ = cmd.Process.Kill()
		return Result{}, fmt.Errorf("pluginrt: write subprocess request: %w", err)
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("pluginrt: subprocess %s timed out: %w", p.manifest.ID, ctx.Err())
		}
		return Result{}, fmt.Errorf("pluginrt: subprocess %s exited with error: %w (stderr: %s)", p.manifest.ID, err, stderr.String())
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return Result{}, fmt.Errorf("pluginrt: subprocess %s produced no output line", p.manifest.ID)
	}
	var res Result
	if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("pluginrt: parse subprocess response: %w", err)
	}
	return res, nil
}

// WASMPlugin hosts a plugin as a pure-Go wazero WASM module with
// deny-by-default capabilities: no filesystem, no network, no ambient
// authority, bounded memory, CPU time bounded by context deadline.
type WASMPlugin struct {
	manifest  *Manifest
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	modConfig wazero.ModuleConfig
}

// NewWASMPlugin compiles wasmBytes under a memory-limited wazero
// runtime with WASI wired for stdin/stdout/stderr only.
func NewWASMPlugin(ctx context.Context, m *Manifest, wasmBytes []byte, memoryLimitBytes uint64) (*WASMPlugin, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryLimitBytes > 0 {
		pages := uint32(memoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("pluginrt: instantiate WASI for %s: %w", m.ID, err)
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("pluginrt: compile WASM module %s: %w", m.ID, err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(m.ID).
		WithStartFunctions("_start")
	// Deny-by-default: no WithFSConfig, no WithSysWalltime/Nanotime,
	// no WithRandSource — the module gets stdin/stdout/stderr only.

	return &WASMPlugin{manifest: m, runtime: r, compiled: compiled, modConfig: modCfg}, nil
}

func (p *WASMPlugin) Manifest() *Manifest { return p.manifest }

func (p *WASMPlugin) Call(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWASMCallTimeout)
		defer cancel()
	}
	reqBytes, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("pluginrt: marshal WASM input for %s: %w", p.manifest.ID, err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := p.modConfig.
		WithStdin(bytes.NewReader(reqBytes)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("pluginrt: WASM module %s timed out", p.manifest.ID)
		}
		return Result{}, fmt.Errorf("pluginrt: instantiate WASM module %s: %w", p.manifest.ID, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return Result{}, fmt.Errorf("pluginrt: WASM module %s wrote to stderr: %s", p.manifest.ID, stderr.String())
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("pluginrt: parse WASM output for %s: %w", p.manifest.ID, err)
	}
	return res, nil
}

// Close releases the wazero runtime.
func (p *WASMPlugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// defaultWASMCallTimeout bounds a WASM call when the caller's context
// carries no deadline of its own.
const defaultWASMCallTimeout = 30 * time.Second
