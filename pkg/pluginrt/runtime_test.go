package pluginrt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/audit"
	"github.com/stretchr/testify/require"
)

func newTestAudit(t *testing.T) *audit.Store {
	t.Helper()
	s, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInvoke_Success(t *testing.T) {
	m := &Manifest{ID: "ocr", Version: "1.0.0", Capabilities: []Capability{CapOCR}, Hosting: HostInProcess}
	p := NewInProcessPlugin(m, func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
		return Result{Items: []interface{}{map[string]interface{}{"text": "hello"}}}, nil
	})

	rt := NewRuntime(newTestAudit(t), nil)
	rt.Register(p)

	res, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1"}, "ocr", map[string]interface{}{"image": "ref"}, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
}

func TestInvoke_PopulatesAuditDiagnostics(t *testing.T) {
	auditLog := newTestAudit(t)
	m := &Manifest{ID: "ocr", Version: "1.0.0", Capabilities: []Capability{CapOCR}, Hosting: HostInProcess, LockfileHash: "deadbeef"}
	p := NewInProcessPlugin(m, func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
		return Result{Items: []interface{}{map[string]interface{}{"text": "hello"}}}, nil
	})

	rt := NewRuntime(auditLog, nil)
	rt.Register(p)

	_, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1", Config: map[string]interface{}{"k": "v"}}, "ocr", map[string]interface{}{"image": "ref"}, time.Second)
	require.NoError(t, err)

	row, err := auditLog.LatestRow(context.Background(), "ocr")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "ocr", row.Capability)
	require.NotEmpty(t, row.CodeHash)
	require.NotEmpty(t, row.InputHash)
	require.NotEmpty(t, row.OutputHash)
	require.NotEmpty(t, row.DataHash)
	require.NotEmpty(t, row.SettingsHash)
	require.GreaterOrEqual(t, row.DurationNs, int64(0))
}

func TestInvoke_UnknownPlugin(t *testing.T) {
	rt := NewRuntime(newTestAudit(t), nil)
	_, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1"}, "missing", nil, time.Second)
	require.Error(t, err)
}

func TestInvoke_TimeoutRetriesOnce(t *testing.T) {
	calls := 0
	m := &Manifest{ID: "slow", Version: "1.0.0", Hosting: HostInProcess}
	p := NewInProcessPlugin(m, func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
		calls++
		<-ctx.Done()
		return Result{}, ctx.Err()
	})

	rt := NewRuntime(newTestAudit(t), nil)
	rt.Register(p)

	_, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1"}, "slow", nil, 5*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, 2, calls) // one retry after the first timeout
}

func TestDemote_MakesPluginUnavailable(t *testing.T) {
	m := &Manifest{ID: "flaky", Version: "1.0.0", Hosting: HostInProcess}
	p := NewInProcessPlugin(m, func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
		return Result{}, nil
	})

	rt := NewRuntime(newTestAudit(t), nil)
	rt.Register(p)
	require.True(t, rt.Available("flaky"))

	rt.Demote("flaky")
	require.False(t, rt.Available("flaky"))

	_, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1"}, "flaky", nil, time.Second)
	require.Error(t, err)
}

func TestInvoke_OutputSchemaRejection(t *testing.T) {
	sv := NewSchemaValidator()
	require.NoError(t, sv.Compile("typed.output", []byte(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`)))

	m := &Manifest{ID: "typed", Version: "1.0.0", Hosting: HostInProcess}
	p := NewInProcessPlugin(m, func(ctx context.Context, cc CallContext, input map[string]interface{}) (Result, error) {
		return Result{Items: []interface{}{map[string]interface{}{"wrong_field": 1}}}, nil
	})

	rt := NewRuntime(newTestAudit(t), sv)
	rt.Register(p)

	res, err := rt.Invoke(context.Background(), CallContext{RunID: "run-1"}, "typed", nil, time.Second)
	require.Error(t, err)
	require.Empty(t, res.Items)
}
