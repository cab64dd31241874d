package tape

import (
	"hash/fnv"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
)

// RegionEmbedDim, TextEmbedDim, AppOneHotDim and WindowHashEmbedDim
// are the fixed widths of each concatenated feature block that make
// up z_t's input (§4.6). They never change without bumping the
// projection matrix's version, since the matrix's column count is
// derived from their sum.
const (
	RegionEmbedDim     = 16
	TextEmbedDim       = 16
	AppOneHotDim       = 32
	WindowHashEmbedDim = 16

	// ConcatDim is the width of the concatenated feature vector fed
	// into the projection matrix.
	ConcatDim = RegionEmbedDim + TextEmbedDim + AppOneHotDim + WindowHashEmbedDim
)

// DefaultOCRConfidenceThreshold is the minimum token confidence
// included in the text embedding mean (§4.6: "mean(text_emb over
// tokens >= conf threshold)").
const DefaultOCRConfidenceThreshold = 0.5

// featureHash buckets a string deterministically into dim float32
// slots in [-1, 1] via FNV-1a, one hash per slot so distinct strings
// spread across the vector instead of colliding onto one bucket.
func featureHash(s string, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		h := fnv.New32a()
		h.Write([]byte(s))
		h.Write([]byte{byte(i), byte(i >> 8)})
		v := h.Sum32()
		out[i] = float32(v)/float32(^uint32(0))*2 - 1
	}
	return out
}

// regionEmbed derives a fixed-width descriptor for one UI element:
// its normalized geometry (5 dims) plus a feature-hashed encoding of
// its type string filling the remainder.
func regionEmbed(e extract.UIElement, frameW, frameH float64) []float32 {
	out := make([]float32, RegionEmbedDim)
	if frameW <= 0 {
		frameW = 1
	}
	if frameH <= 0 {
		frameH = 1
	}
	cx := (e.BBox.X1 + e.BBox.X2) / 2 / frameW
	cy := (e.BBox.Y1 + e.BBox.Y2) / 2 / frameH
	w := (e.BBox.X2 - e.BBox.X1) / frameW
	h := (e.BBox.Y2 - e.BBox.Y1) / frameH
	area := w * h
	out[0] = float32(cx)
	out[1] = float32(cy)
	out[2] = float32(w)
	out[3] = float32(h)
	out[4] = float32(area)
	typeHash := featureHash(e.Type, RegionEmbedDim-5)
	copy(out[5:], typeHash)
	return out
}

// meanRegionEmbed computes the fixed-weight (uniform) mean of every
// element's region embedding (§4.6: "mean(region_emb, weights
// fixed)"). An empty input yields the zero vector.
func meanRegionEmbed(elements []extract.UIElement, frameW, frameH float64) []float32 {
	mean := make([]float32, RegionEmbedDim)
	if len(elements) == 0 {
		return mean
	}
	for _, e := range elements {
		v := regionEmbed(e, frameW, frameH)
		for i, x := range v {
			mean[i] += x
		}
	}
	n := float32(len(elements))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// textEmbed derives a fixed-width feature-hashed descriptor for one
// OCR token's text.
func textEmbed(t extract.OCRToken) []float32 {
	return featureHash(t.Text, TextEmbedDim)
}

// meanTextEmbed computes the mean text embedding over tokens at or
// above confThreshold (§4.6). Tokens below threshold are excluded
// entirely rather than down-weighted.
func meanTextEmbed(tokens []extract.OCRToken, confThreshold float64) []float32 {
	mean := make([]float32, TextEmbedDim)
	var n int
	for _, t := range tokens {
		if t.Confidence < confThreshold {
			continue
		}
		v := textEmbed(t)
		for i, x := range v {
			mean[i] += x
		}
		n++
	}
	if n == 0 {
		return mean
	}
	for i := range mean {
		mean[i] /= float32(n)
	}
	return mean
}

// appOneHot encodes appHint as a one-hot vector over a fixed vocab,
// with the last slot an overflow bucket (feature-hashed) for any app
// not in vocab so the projection still sees a stable signal for
// unseen applications rather than an all-zero vector.
func appOneHot(appHint string, vocab []string) []float32 {
	out := make([]float32, AppOneHotDim)
	for i, name := range vocab {
		if i >= AppOneHotDim-1 {
			break
		}
		if name == appHint {
			out[i] = 1
			return out
		}
	}
	overflow := featureHash(appHint, 1)
	out[AppOneHotDim-1] = overflow[0]
	return out
}

// windowHashEmbed deterministically embeds a window-title hash
// string into a fixed-width vector so the projection can discriminate
// between windows without carrying the raw title.
func windowHashEmbed(windowTitleHash string) []float32 {
	return featureHash(windowTitleHash, WindowHashEmbedDim)
}

// concatFeatures assembles the four feature blocks into the single
// vector fed to the projection matrix, in the fixed order §4.6
// documents: region, text, app, window hash.
func concatFeatures(region, text, app, windowHash []float32) []float32 {
	out := make([]float32, 0, ConcatDim)
	out = append(out, region...)
	out = append(out, text...)
	out = append(out, app...)
	out = append(out, windowHash...)
	return out
}

// topEntities extracts up to n distinct, highest-confidence token
// texts as a cheap human-legible summary of a span's contents
// (§3 StateSpan.summary_features.top_entities).
func topEntities(tokens []extract.OCRToken, n int) []string {
	type scored struct {
		text string
		conf float64
	}
	seen := make(map[string]bool)
	var candidates []scored
	for _, t := range tokens {
		if t.Text == "" || seen[t.Text] {
			continue
		}
		seen[t.Text] = true
		candidates = append(candidates, scored{text: t.Text, conf: t.Confidence})
	}
	// simple selection sort over a typically small candidate set
	for i := 0; i < len(candidates) && i < n; i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].conf > candidates[best].conf {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.text
	}
	return out
}
