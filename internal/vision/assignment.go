package vision

import "math"

// infCost marks a cost-matrix cell as gated out: an appearance or motion
// cost exceeding its configured gate is set to +inf before assignment.
// The assignment itself is a hand-written Hungarian (Kuhn-Munkres)
// algorithm; no LAPJV-style solver library exists in the ecosystem we
// depend on.
const infCost = math.MaxFloat64 / 4

// solveAssignment finds a minimum-cost perfect matching between rows and
// columns of a (possibly rectangular) cost matrix, in O(n^3) on the padded
// square size. Cells equal to +Inf (or >= infCost) are treated as
// forbidden pairings; any match landing on such a cell, or on a padding
// row/column introduced to square up a rectangular input, is dropped from
// the result.
func solveAssignment(cost [][]float64) [][2]int {
	rows := len(cost)
	if rows == 0 {
		return nil
	}
	cols := len(cost[0])
	if cols == 0 {
		return nil
	}

	n := rows
	if cols > n {
		n = cols
	}

	// Square, padded cost matrix with a finite sentinel standing in for
	// +Inf and for the padding cells themselves — the Hungarian algorithm
	// below uses potentials that misbehave with literal infinities.
	padded := make([][]float64, n)
	for i := 0; i < n; i++ {
		padded[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i < rows && j < cols {
				c := cost[i][j]
				if c >= infCost || math.IsInf(c, 1) {
					padded[i][j] = infCost
				} else {
					padded[i][j] = c
				}
			} else {
				padded[i][j] = infCost
			}
		}
	}

	colForRow := hungarian(padded)

	var matches [][2]int
	for i := 0; i < rows; i++ {
		j := colForRow[i]
		if j < 0 || j >= cols {
			continue
		}
		if padded[i][j] >= infCost {
			continue
		}
		matches = append(matches, [2]int{i, j})
	}
	return matches
}

// hungarian solves the square minimum-cost assignment problem via the
// classic O(n^3) shortest-augmenting-path method with dual potentials.
// Returns, for each row, the column it is assigned to.
func hungarian(a [][]float64) []int {
	n := len(a)
	const inf = math.MaxFloat64 / 2

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row currently assigned to column j (1-indexed), 0 = none
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= n; j++ {
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

	colForRow := make([]int, n)
	for i := range colForRow {
		colForRow[i] = -1
	}
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			colForRow[p[j]-1] = j - 1
		}
	}
	return colForRow
}
