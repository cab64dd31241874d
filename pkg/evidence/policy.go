package evidence

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PolicyGate evaluates the CEL-compiled app-denylist and
// export-policy rules named in SPEC_FULL's domain stack: expressions
// compiled once at config load, evaluated per decision, with a hard
// cost ceiling so a malformed rule cannot stall a query.
type PolicyGate struct {
	env          *cel.Env
	mu           sync.RWMutex
	prgCache     map[string]cel.Program
	denylistExpr string
	exportExpr   string
}

// NewPolicyGate compiles the configured expressions eagerly so a
// malformed rule fails at startup rather than mid-query. Either
// expression may be empty, in which case it evaluates to "deny
// nothing" / "export nothing additional".
func NewPolicyGate(denylistExpr, exportExpr string) (*PolicyGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("app", cel.StringType),
		cel.Variable("entity", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("evidence: cel environment: %w", err)
	}
	g := &PolicyGate{
		env:          env,
		prgCache:     make(map[string]cel.Program),
		denylistExpr: denylistExpr,
		exportExpr:   exportExpr,
	}
	if denylistExpr != "" {
		if _, err := g.compile(denylistExpr); err != nil {
			return nil, fmt.Errorf("evidence: compile app denylist: %w", err)
		}
	}
	if exportExpr != "" {
		if _, err := g.compile(exportExpr); err != nil {
			return nil, fmt.Errorf("evidence: compile export policy: %w", err)
		}
	}
	return g, nil
}

func (g *PolicyGate) compile(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.prgCache[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.prgCache[expr]; ok {
		return prg, nil
	}
	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	p, err := g.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, err
	}
	g.prgCache[expr] = p
	return p, nil
}

func (g *PolicyGate) evalBool(expr, app, entity string) (bool, error) {
	prg, err := g.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"app": app, "entity": entity})
	if err != nil {
		return false, fmt.Errorf("evidence: eval %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evidence: expression %q did not return bool", expr)
	}
	return b, nil
}

// IsDenied reports whether app/entity is blocked by the configured
// app denylist. An unconfigured denylist denies nothing.
func (g *PolicyGate) IsDenied(app, entity string) (bool, error) {
	if g.denylistExpr == "" {
		return false, nil
	}
	return g.evalBool(g.denylistExpr, app, entity)
}

// ExportFlags evaluates the export-policy expression for app/entity.
// can_show_raw_media is never granted by policy alone and always
// defaults false; can_export_text follows the configured expression,
// defaulting false when unconfigured (§4.8).
func (g *PolicyGate) ExportFlags(app, entity string) (ExportFlags, error) {
	flags := ExportFlags{}
	if g.exportExpr == "" {
		return flags, nil
	}
	allowed, err := g.evalBool(g.exportExpr, app, entity)
	if err != nil {
		return flags, err
	}
	flags.CanExportText = allowed
	return flags, nil
}
