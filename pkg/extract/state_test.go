package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightedMeanConfidence_ZeroWeightYieldsZero(t *testing.T) {
	assert.Equal(t, 0.0, extract.WeightedMeanConfidence(nil))
}

func TestWeightedMeanConfidence_WeightsCorrectly(t *testing.T) {
	components := []extract.ComponentConfidence{
		{Weight: 1.0, Confidence: 1.0},
		{Weight: 1.0, Confidence: 0.0},
	}
	assert.InDelta(t, 0.5, extract.WeightedMeanConfidence(components), 1e-9)
}

func TestStatePlugin_Call_AssemblesScreenState(t *testing.T) {
	p := extract.NewStatePlugin()
	tokens := []extract.OCRToken{{Text: "a", Confidence: 0.8}}
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame":      &extract.Frame{ArtifactID: "frame-1"},
		"ocr_tokens": tokens,
		"cursor":     extract.CursorObservation{Confidence: 0.6},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	state, ok := result.Items[0].(extract.ScreenState)
	require.True(t, ok)
	assert.Equal(t, "frame-1", state.FrameID)
	assert.Greater(t, state.StateConfidence, 0.0)
}

func TestStatePlugin_Call_UnwrapsTablesBagValue(t *testing.T) {
	p := extract.NewStatePlugin()
	cell := extract.TableCell{Row: 0, Col: 0, Text: "x"}

	single, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{"tables": cell})
	require.NoError(t, err)
	state := single.Items[0].(extract.ScreenState)
	require.Len(t, state.Tables, 1)
	assert.Equal(t, []extract.TableCell{cell}, state.Tables[0])

	multi, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"tables": []interface{}{cell, extract.TableCell{Row: 0, Col: 1, Text: "y"}},
	})
	require.NoError(t, err)
	state = multi.Items[0].(extract.ScreenState)
	require.Len(t, state.Tables, 1)
	assert.Len(t, state.Tables[0], 2)
}
