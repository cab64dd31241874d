package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// TileConfig parameterizes preprocess.tile (§4.5).
type TileConfig struct {
	SizePx         int
	OverlapPx      int
	IncludeFull    bool
}

// DefaultTileConfig returns the standard 1024px tile size with 64px
// overlap, including the full untiled frame alongside the tiles.
func DefaultTileConfig() TileConfig {
	return TileConfig{SizePx: 1024, OverlapPx: 64, IncludeFull: true}
}

// TileFrame generates overlapping tiles over a WidthPx x HeightPx
// frame, sorted by (y1, x1, -area, patch_id).
func TileFrame(widthPx, heightPx int, cfg TileConfig) []Tile {
	stride := cfg.SizePx - cfg.OverlapPx
	if stride <= 0 {
		stride = cfg.SizePx
	}

	var tiles []Tile
	id := 0
	for y := 0; y < heightPx; y += stride {
		y2 := y + cfg.SizePx
		if y2 > heightPx {
			y2 = heightPx
		}
		for x := 0; x < widthPx; x += stride {
			x2 := x + cfg.SizePx
			if x2 > widthPx {
				x2 = widthPx
			}
			tiles = append(tiles, Tile{
				PatchID: fmt.Sprintf("tile-%04d", id),
				BBox:    BBox{X1: float64(x), Y1: float64(y), X2: float64(x2), Y2: float64(y2)},
			})
			id++
			if x2 == widthPx {
				break
			}
		}
		if y2 == heightPx {
			break
		}
	}

	if cfg.IncludeFull {
		tiles = append(tiles, Tile{
			PatchID: "tile-full",
			BBox:    BBox{X1: 0, Y1: 0, X2: float64(widthPx), Y2: float64(heightPx)},
		})
	}

	sort.Slice(tiles, func(i, j int) bool {
		a, b := tiles[i], tiles[j]
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 < b.BBox.Y1
		}
		if a.BBox.X1 != b.BBox.X1 {
			return a.BBox.X1 < b.BBox.X1
		}
		if a.BBox.Area() != b.BBox.Area() {
			return a.BBox.Area() > b.BBox.Area() // -area: larger first
		}
		return a.PatchID < b.PatchID
	})
	return tiles
}

// TilePlugin wraps TileFrame as a DAG node.
type TilePlugin struct {
	manifest *pluginrt.Manifest
	cfg      TileConfig
}

// NewTilePlugin builds the preprocess.tile node with cfg.
func NewTilePlugin(cfg TileConfig) *TilePlugin {
	return &TilePlugin{cfg: cfg, manifest: &pluginrt.Manifest{
		ID:           "preprocess.tile",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapPreprocess},
		Requires:     []string{"normalized_frame"},
		Provides:     []string{"tiles"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *TilePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *TilePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	frame, ok := input["frame"].(*Frame)
	if !ok || frame == nil {
		return pluginrt.Result{Diagnostics: []string{"preprocess.tile: missing frame input"}}, nil
	}
	tiles := TileFrame(frame.WidthPx, frame.HeightPx, p.cfg)
	items := make([]interface{}, len(tiles))
	for i, t := range tiles {
		items[i] = t
	}
	return pluginrt.Result{Items: items}, nil
}
