package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolveHungarian_SquareMatrixMinimizesCost(t *testing.T) {
	cost := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	assignment := solveHungarian(cost)
	assert.Len(t, assignment, 3)

	var total float64
	for row, col := range assignment {
		total += cost[row][col]
	}
	assert.InDelta(t, 5.0, total, 1e-9) // optimal: row0->col1(1), row1->col0(2), row2->col2(2)
}

func TestSolveHungarian_RectangularMoreRowsThanCols(t *testing.T) {
	cost := [][]float64{
		{1, 2},
		{2, 1},
		{3, 3},
	}
	assignment := solveHungarian(cost)
	assert.Len(t, assignment, 3)
	// every assigned column must be unique
	seen := map[int]bool{}
	for _, col := range assignment {
		if col < 0 {
			continue
		}
		assert.False(t, seen[col])
		seen[col] = true
	}
}

func TestSolveHungarian_EmptyMatrixReturnsNil(t *testing.T) {
	assert.Nil(t, solveHungarian(nil))
}
