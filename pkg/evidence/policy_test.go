package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyGate_EmptyExpressionsDenyNothingAndExportNothing(t *testing.T) {
	g, err := NewPolicyGate("", "")
	require.NoError(t, err)

	denied, err := g.IsDenied("banking_app", "")
	require.NoError(t, err)
	assert.False(t, denied)

	flags, err := g.ExportFlags("banking_app", "")
	require.NoError(t, err)
	assert.False(t, flags.CanExportText)
	assert.False(t, flags.CanShowRawMedia)
}

func TestPolicyGate_DenylistBlocksMatchingApp(t *testing.T) {
	g, err := NewPolicyGate(`app == "banking_app"`, "")
	require.NoError(t, err)

	denied, err := g.IsDenied("banking_app", "")
	require.NoError(t, err)
	assert.True(t, denied)

	denied, err = g.IsDenied("notes_app", "")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestPolicyGate_ExportPolicyGrantsTextOnlyWhenExpressionTrue(t *testing.T) {
	g, err := NewPolicyGate("", `app == "notes_app"`)
	require.NoError(t, err)

	flags, err := g.ExportFlags("notes_app", "")
	require.NoError(t, err)
	assert.True(t, flags.CanExportText)
	assert.False(t, flags.CanShowRawMedia)

	flags, err = g.ExportFlags("other_app", "")
	require.NoError(t, err)
	assert.False(t, flags.CanExportText)
}

func TestPolicyGate_CompileRejectsMalformedExpressionAtConstruction(t *testing.T) {
	_, err := NewPolicyGate(`app ===`, "")
	require.Error(t, err)
}
