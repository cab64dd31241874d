package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
	"golang.org/x/text/unicode/norm"
)

// OCRModel is the injected, deterministic per-patch OCR call (§4.2
// determinism contract: temperature 0, fixed max tokens, schema
// validated — enforced by pluginrt.Runtime around this call, not by
// this node itself).
type OCRModel func(ctx context.Context, patch Tile) ([]OCRToken, error)

const defaultMinConfidence = 0.35
const ocrNMSIoUThreshold = 0.7

// OCRPlugin runs OCRModel per tile, remaps boxes to frame coordinates
// (already frame-relative here since Tile.BBox is frame-relative),
// and applies NMS + confidence filtering + text normalization.
type OCRPlugin struct {
	manifest    *pluginrt.Manifest
	model       OCRModel
	minConf     float64
}

// NewOCRPlugin builds the ocr node around model.
func NewOCRPlugin(model OCRModel) *OCRPlugin {
	return &OCRPlugin{
		model:   model,
		minConf: defaultMinConfidence,
		manifest: &pluginrt.Manifest{
			ID:           "ocr",
			Version:      "1.0.0",
			Capabilities: []pluginrt.Capability{pluginrt.CapOCR},
			Requires:     []string{"tiles"},
			Provides:     []string{"ocr_tokens"},
			ModelBacked:  true,
			Hosting:      pluginrt.HostInProcess,
		},
	}
}

func (p *OCRPlugin) Manifest() *pluginrt.Manifest { return p.manifest }

func (p *OCRPlugin) Call(ctx context.Context, cc pluginrt.CallContext, input map[string]interface{}) (pluginrt.Result, error) {
	tiles, ok := input["tiles"].([]Tile)
	if !ok {
		return pluginrt.Result{Diagnostics: []string{"ocr: missing tiles input"}}, nil
	}

	var all []OCRToken
	for _, t := range tiles {
		toks, err := p.model(ctx, t)
		if err != nil {
			return pluginrt.Result{Diagnostics: []string{"ocr: model call failed for " + t.PatchID + ": " + err.Error()}}, nil
		}
		all = append(all, toks...)
	}

	deduped := nmsTokens(all, ocrNMSIoUThreshold)

	var kept []OCRToken
	for _, tok := range deduped {
		if tok.Confidence < p.minConf {
			continue
		}
		tok.Text = normalizeText(tok.Text)
		kept = append(kept, tok)
	}

	items := make([]interface{}, len(kept))
	for i, t := range kept {
		items[i] = t
	}
	return pluginrt.Result{Items: items}, nil
}

// nmsTokens suppresses same-normalized-text tokens overlapping at IoU
// >= threshold, keeping the highest-confidence survivor (§4.5 ocr).
func nmsTokens(tokens []OCRToken, iouThreshold float64) []OCRToken {
	sorted := append([]OCRToken(nil), tokens...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []OCRToken
	suppressed := make([]bool, len(sorted))
	for i, tok := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, tok)
		normI := normalizeText(tok.Text)
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if normalizeText(sorted[j].Text) != normI {
				continue
			}
			if tok.BBox.IoU(sorted[j].BBox) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

var collapseWhitespace = regexp.MustCompile(`\s+`)

// normalizeText applies Unicode NFC normalization and collapses
// whitespace runs to single spaces (§4.5 ocr).
func normalizeText(s string) string {
	s = norm.NFC.String(s)
	s = collapseWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
