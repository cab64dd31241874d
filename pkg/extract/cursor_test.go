package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exactMatchScore(region []byte, regionW, regionH int, tmpl []byte, tw, th int) (int, int, float64) {
	for y := 0; y <= regionH-th; y++ {
		for x := 0; x <= regionW-tw; x++ {
			match := true
			for ty := 0; ty < th && match; ty++ {
				for tx := 0; tx < tw; tx++ {
					if region[(y+ty)*regionW+(x+tx)] != tmpl[ty*tw+tx] {
						match = false
						break
					}
				}
			}
			if match {
				return x, y, 1.0
			}
		}
	}
	return 0, 0, 0.0
}

func TestMatchCursor_FindsExactTemplateAtBaseScale(t *testing.T) {
	region := make([]byte, 20*20)
	tmpl := []byte{255, 255, 255, 255}
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 2; tx++ {
			region[(5+ty)*20+(5+tx)] = 255
		}
	}
	obs := extract.MatchCursor(region, 20, 20, []extract.CursorTemplate{{Name: "arrow", Gray: tmpl, W: 2, H: 2}}, exactMatchScore)
	require.False(t, obs.Unknown)
	assert.Equal(t, "arrow", obs.Template)
}

func TestMatchCursor_NoMatchYieldsUnknown(t *testing.T) {
	region := make([]byte, 20*20)
	tmpl := []byte{255, 255, 255, 255}
	obs := extract.MatchCursor(region, 20, 20, []extract.CursorTemplate{{Name: "arrow", Gray: tmpl, W: 2, H: 2}}, exactMatchScore)
	assert.True(t, obs.Unknown)
}

func TestCursorPlugin_Call(t *testing.T) {
	p := extract.NewCursorPlugin(nil, exactMatchScore)
	frame := &extract.Frame{Gray: make([]byte, 100), WidthPx: 10, HeightPx: 10}
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame": frame,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	obs, ok := result.Items[0].(extract.CursorObservation)
	require.True(t, ok)
	assert.True(t, obs.Unknown)
}

func TestCursorPlugin_Call_MissingFrameYieldsUnknown(t *testing.T) {
	p := extract.NewCursorPlugin(nil, exactMatchScore)
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	obs, ok := result.Items[0].(extract.CursorObservation)
	require.True(t, ok)
	assert.True(t, obs.Unknown)
}
