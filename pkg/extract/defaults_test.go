package extract_test

import (
	"testing"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
)

func TestDefaultCursorScore_FindsExactMatch(t *testing.T) {
	region := make([]byte, 10*10)
	region[22] = 255
	region[23] = 255
	region[32] = 255
	region[33] = 255
	tmpl := []byte{255, 255, 255, 255}

	x, y, conf := extract.DefaultCursorScore(region, 10, 10, tmpl, 2, 2)
	assert.Equal(t, 2, x)
	assert.Equal(t, 2, y)
	assert.Equal(t, 1.0, conf)
}

func TestDefaultVisualDiff_IdenticalFramesYieldZero(t *testing.T) {
	gray := make([]byte, 32*32)
	for i := range gray {
		gray[i] = byte(i % 256)
	}
	assert.Equal(t, 0.0, extract.DefaultVisualDiff(gray, gray, nil))
}

func TestDefaultVisualDiff_MaxContrastYieldsOne(t *testing.T) {
	prev := make([]byte, 4)
	curr := make([]byte, 4)
	for i := range curr {
		curr[i] = 255
	}
	assert.Equal(t, 1.0, extract.DefaultVisualDiff(prev, curr, nil))
}

func TestDefaultVisualDiff_VolatileMaskExcludesIndex(t *testing.T) {
	prev := []byte{0, 0}
	curr := []byte{255, 0}
	mask := []bool{true, false}
	assert.Equal(t, 0.0, extract.DefaultVisualDiff(prev, curr, mask))
}
