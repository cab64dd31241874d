package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProjectionMatrix_DeterministicForSameSeed(t *testing.T) {
	m1 := NewProjectionMatrix("seed-a", 8, 4)
	m2 := NewProjectionMatrix("seed-a", 8, 4)
	assert.Equal(t, m1.Data, m2.Data)
	assert.Equal(t, m1.Hash, m2.Hash)
}

func TestNewProjectionMatrix_DifferentSeedsDiffer(t *testing.T) {
	m1 := NewProjectionMatrix("seed-a", 8, 4)
	m2 := NewProjectionMatrix("seed-b", 8, 4)
	assert.NotEqual(t, m1.Data, m2.Data)
	assert.NotEqual(t, m1.Hash, m2.Hash)
}

func TestProjectionMatrix_ProjectYieldsUnitNormalizedVector(t *testing.T) {
	m := NewProjectionMatrix("seed-a", OutputDim, ConcatDim)
	vec := make([]float32, ConcatDim)
	for i := range vec {
		vec[i] = 1
	}
	out := m.Project(vec)
	require.Len(t, out, OutputDim)

	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-4)
}

func TestUnitNormalize_ZeroVectorUnchanged(t *testing.T) {
	vec := make([]float32, 4)
	out := UnitNormalize(vec)
	assert.Equal(t, vec, out)
}

func TestCosineSimilarity_IdenticalVectorsYieldOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsYieldZero(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarity_MismatchedLengthYieldsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
}

func TestPredError_IdenticalEmbeddingsYieldZero(t *testing.T) {
	v := []float32{0.6, 0.8}
	assert.InDelta(t, 0.0, PredError(v, v), 1e-9)
}

func TestPredError_ClampedToUpperBound(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.LessOrEqual(t, PredError(a, b), 2.0)
}

func TestDeltaEmbedding_ComputesElementwiseDifference(t *testing.T) {
	curr := []float32{3, 4}
	prev := []float32{1, 1}
	delta := DeltaEmbedding(curr, prev)
	assert.Equal(t, []float32{2, 3}, delta)
}
