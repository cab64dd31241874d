package extract

import "math"

// solveHungarian solves the rectangular assignment problem for cost
// matrix cost (rows=len(cost), cols=len(cost[0])), minimizing total
// cost, via the Jonker-Volgenant-flavored Hungarian algorithm (O(n^3)).
// It pads to a square matrix internally; returns assignment[row] = col
// (or -1 if row has no column, which only happens when rows > cols).
//
// No third-party assignment-problem solver appeared anywhere in the
// retrieved example corpus, so this is hand-rolled rather than
// library-grounded — a small, self-contained numerical routine rather
// than ambient infrastructure.
func solveHungarian(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	size := n
	if m > size {
		size = m
	}

	// Pad to a square matrix with zero-cost dummy entries.
	a := make([][]float64, size+1)
	for i := range a {
		a[i] = make([]float64, size+1)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			a[i+1][j+1] = cost[i][j]
		}
	}

	const inf = math.MaxFloat64 / 2
	u := make([]float64, size+1)
	v := make([]float64, size+1)
	p := make([]int, size+1)
	way := make([]int, size+1)

	for i := 1; i <= size; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, size+1)
		used := make([]bool, size+1)
		for j := range minv {
			minv[j] = inf
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= size; j++ {
				if used[j] {
					continue
				}
				cur := a[i0][j] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= size; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = -1
	}
	for j := 1; j <= size; j++ {
		if p[j] != 0 && p[j]-1 < n && j-1 < m {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment
}
