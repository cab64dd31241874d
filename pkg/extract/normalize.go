package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// PHash64 computes a 64-bit perceptual hash from a 32x32 grayscale
// image: DCT, keep the top-left 8x8 block excluding the DC term,
// median-threshold the 63 remaining coefficients (§4.5
// preprocess.normalize).
func PHash64(gray32 []byte) (uint64, error) {
	if len(gray32) != 32*32 {
		return 0, fmt.Errorf("extract: PHash64 requires a 32x32 grayscale buffer, got %d bytes", len(gray32))
	}
	dct := dct2D32(gray32)

	coeffs := make([]float64, 0, 63)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if x == 0 && y == 0 {
				continue // exclude DC term
			}
			coeffs = append(coeffs, dct[y*32+x])
		}
	}
	sorted := append([]float64(nil), coeffs...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	var hash uint64
	for i, c := range coeffs {
		if c > median {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

// dct2D32 computes the 2D DCT-II of a 32x32 grayscale buffer.
func dct2D32(gray []byte) []float64 {
	const n = 32
	pixels := make([]float64, n*n)
	for i, v := range gray {
		pixels[i] = float64(v)
	}

	tmp := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for u := 0; u < n; u++ {
			var sum float64
			for x := 0; x < n; x++ {
				sum += pixels[y*n+x] * math.Cos(math.Pi/float64(n)*(float64(x)+0.5)*float64(u))
			}
			tmp[y*n+u] = sum * alpha(u, n)
		}
	}

	out := make([]float64, n*n)
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			var sum float64
			for y := 0; y < n; y++ {
				sum += tmp[y*n+u] * math.Cos(math.Pi/float64(n)*(float64(y)+0.5)*float64(v))
			}
			out[v*n+u] = sum * alpha(v, n)
		}
	}
	return out
}

func alpha(u, n int) float64 {
	if u == 0 {
		return math.Sqrt(1.0 / float64(n))
	}
	return math.Sqrt(2.0 / float64(n))
}

// HammingDistance64 counts differing bits between two pHashes, used by
// temporal.segment.
func HammingDistance64(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// downscaleTo32Gray nearest-neighbor downsamples a WxH grayscale buffer
// to 32x32, the fixed input size PHash64 expects.
func downscaleTo32Gray(gray []byte, w, h int) []byte {
	out := make([]byte, 32*32)
	for y := 0; y < 32; y++ {
		sy := y * h / 32
		for x := 0; x < 32; x++ {
			sx := x * w / 32
			out[y*32+x] = gray[sy*w+sx]
		}
	}
	return out
}

// DownscaleTo32Gray is the exported form of downscaleTo32Gray, for
// callers driving the DAG across frames that need to carry the
// current frame's downscaled buffer forward as the next frame's
// prev_gray (temporal.segment has no bag key for it, since it is only
// ever read, never provided downstream).
func DownscaleTo32Gray(gray []byte, w, h int) []byte {
	return downscaleTo32Gray(gray, w, h)
}

// NormalizeResult is the output of preprocess.normalize.
type NormalizeResult struct {
	ImageSHA256 string
	PHash       uint64
	WidthPx     int
	HeightPx    int
}

// NormalizePlugin wraps the normalize step as a pluginrt.Plugin so the
// orchestrator schedules it like any other DAG node.
type NormalizePlugin struct {
	manifest *pluginrt.Manifest
}

// NewNormalizePlugin builds the preprocess.normalize node.
func NewNormalizePlugin() *NormalizePlugin {
	return &NormalizePlugin{manifest: &pluginrt.Manifest{
		ID:           "preprocess.normalize",
		Version:      "1.0.0",
		Capabilities: []pluginrt.Capability{pluginrt.CapPreprocess},
		Provides:     []string{"normalized_frame"},
		Hosting:      pluginrt.HostInProcess,
	}}
}

func (p *NormalizePlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *NormalizePlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	frame, ok := input["frame"].(*Frame)
	if !ok || frame == nil {
		return pluginrt.Result{Diagnostics: []string{"preprocess.normalize: missing or invalid frame input"}}, nil
	}
	if len(frame.Gray) != frame.WidthPx*frame.HeightPx {
		return pluginrt.Result{Diagnostics: []string{"preprocess.normalize: frame dropped, grayscale buffer size mismatch"}}, nil
	}

	sum := sha256.Sum256(frame.Gray)
	digest := hex.EncodeToString(sum[:])

	small := downscaleTo32Gray(frame.Gray, frame.WidthPx, frame.HeightPx)
	hash, err := PHash64(small)
	if err != nil {
		return pluginrt.Result{Diagnostics: []string{"preprocess.normalize: " + err.Error()}}, nil
	}

	res := NormalizeResult{ImageSHA256: digest, PHash: hash, WidthPx: frame.WidthPx, HeightPx: frame.HeightPx}
	return pluginrt.Result{Items: []interface{}{res}}, nil
}
