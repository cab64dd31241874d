package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshnessGuard_GateFailsWhenCriticalKindStale(t *testing.T) {
	g := NewFreshnessGuard([]string{"state_span"})
	g.MarkStale("state_span", 3)
	err := g.CheckGate()
	require.Error(t, err)
}

func TestFreshnessGuard_GatePassesWhenReconciled(t *testing.T) {
	g := NewFreshnessGuard([]string{"state_span"})
	g.MarkStale("state_span", 3)
	g.MarkReconciled("state_span")
	assert.NoError(t, g.CheckGate())
}

func TestFreshnessGuard_NonCriticalKindDoesNotGate(t *testing.T) {
	g := NewFreshnessGuard([]string{"state_span"})
	g.MarkStale("ui_element", 10)
	assert.NoError(t, g.CheckGate())
}

func TestFreshnessGuard_TotalStaleDocsCountSumsAllKinds(t *testing.T) {
	g := NewFreshnessGuard(nil)
	g.MarkStale("a", 2)
	g.MarkStale("b", 3)
	assert.Equal(t, 5, g.TotalStaleDocsCount())
}
