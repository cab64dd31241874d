package extract_test

import (
	"context"
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIParsePlugin_Call_AttachesNearestTokenAndZOrder(t *testing.T) {
	model := func(ctx context.Context, frame *extract.Frame) ([]extract.UIElement, error) {
		return []extract.UIElement{
			{ElementID: "outer", Type: "panel", BBox: extract.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}},
			{ElementID: "inner", Type: "button", BBox: extract.BBox{X1: 10, Y1: 10, X2: 30, Y2: 30}},
		}, nil
	}
	p := extract.NewUIParsePlugin(model)

	tokens := []extract.OCRToken{
		{Text: "OK", BBox: extract.BBox{X1: 10, Y1: 10, X2: 30, Y2: 30}, Confidence: 0.9},
	}
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame":      &extract.Frame{WidthPx: 100, HeightPx: 100},
		"ocr_tokens": tokens,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	var inner, outer extract.UIElement
	for _, item := range result.Items {
		e := item.(extract.UIElement)
		if e.ElementID == "inner" {
			inner = e
		} else {
			outer = e
		}
	}
	assert.Equal(t, "OK", inner.Text)
	assert.Greater(t, inner.Z, outer.Z) // deeper containment -> higher z
}

func TestUIParsePlugin_Call_EmptyModelOutputYieldsDiagnostic(t *testing.T) {
	model := func(ctx context.Context, frame *extract.Frame) ([]extract.UIElement, error) {
		return nil, nil
	}
	p := extract.NewUIParsePlugin(model)

	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame": &extract.Frame{WidthPx: 10, HeightPx: 10},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.NotEmpty(t, result.Diagnostics)
}

func TestUIParsePlugin_Call_DedupesRepeatedElements(t *testing.T) {
	model := func(ctx context.Context, frame *extract.Frame) ([]extract.UIElement, error) {
		return []extract.UIElement{
			{ElementID: "a", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
			{ElementID: "a", BBox: extract.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		}, nil
	}
	p := extract.NewUIParsePlugin(model)
	result, err := p.Call(contextBackground(), pluginCallContext(), map[string]interface{}{
		"frame": &extract.Frame{WidthPx: 10, HeightPx: 10},
	})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
}
