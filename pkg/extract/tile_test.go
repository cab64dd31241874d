package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileFrame_CoversFullFrameWithoutGaps(t *testing.T) {
	cfg := extract.TileConfig{SizePx: 100, OverlapPx: 10, IncludeFull: false}
	tiles := extract.TileFrame(250, 150, cfg)
	require.NotEmpty(t, tiles)

	var maxX, maxY float64
	for _, tl := range tiles {
		if tl.BBox.X2 > maxX {
			maxX = tl.BBox.X2
		}
		if tl.BBox.Y2 > maxY {
			maxY = tl.BBox.Y2
		}
	}
	assert.Equal(t, 250.0, maxX)
	assert.Equal(t, 150.0, maxY)
}

func TestTileFrame_IncludesFullFramePatch(t *testing.T) {
	cfg := extract.DefaultTileConfig()
	tiles := extract.TileFrame(2048, 2048, cfg)

	found := false
	for _, tl := range tiles {
		if tl.PatchID == "tile-full" {
			found = true
			assert.Equal(t, extract.BBox{X1: 0, Y1: 0, X2: 2048, Y2: 2048}, tl.BBox)
		}
	}
	assert.True(t, found)
}

func TestTileFrame_SortedByYThenXThenAreaDesc(t *testing.T) {
	cfg := extract.TileConfig{SizePx: 100, OverlapPx: 0, IncludeFull: true}
	tiles := extract.TileFrame(300, 300, cfg)

	for i := 1; i < len(tiles); i++ {
		prev, curr := tiles[i-1], tiles[i]
		if prev.BBox.Y1 != curr.BBox.Y1 {
			assert.LessOrEqual(t, prev.BBox.Y1, curr.BBox.Y1)
			continue
		}
		if prev.BBox.X1 != curr.BBox.X1 {
			assert.LessOrEqual(t, prev.BBox.X1, curr.BBox.X1)
		}
	}
}

func TestTilePlugin_Call_MissingFrameYieldsDiagnostic(t *testing.T) {
	p := extract.NewTilePlugin(extract.DefaultTileConfig())
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.NotEmpty(t, result.Diagnostics)
}
