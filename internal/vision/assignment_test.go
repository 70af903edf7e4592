package vision

import "testing"

func TestSolveAssignment_SimpleSquare(t *testing.T) {
	cost := [][]float64{
		{1, 2, 3},
		{2, 4, 6},
		{3, 6, 9},
	}
	matches := solveAssignment(cost)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d: %v", len(matches), matches)
	}

	assigned := make(map[int]int)
	for _, m := range matches {
		assigned[m[0]] = m[1]
	}

	var total float64
	for row, col := range assigned {
		total += cost[row][col]
	}
	// The optimal assignment on this matrix is the anti-diagonal: 3 + 4 + 3 = 10
	// (the diagonal, 1 + 4 + 9 = 14, is the most expensive one).
	if total != 10 {
		t.Errorf("expected minimum cost 10, got %v (matches=%v)", total, matches)
	}
}

func TestSolveAssignment_RectangularMoreDetsThanTracks(t *testing.T) {
	cost := [][]float64{
		{1, 5},
		{5, 1},
		{9, 9},
	}
	matches := solveAssignment(cost)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches (bounded by fewer columns), got %d: %v", len(matches), matches)
	}
}

func TestSolveAssignment_GatedCellsExcluded(t *testing.T) {
	cost := [][]float64{
		{infCost, 1},
		{1, infCost},
	}
	matches := solveAssignment(cost)
	for _, m := range matches {
		if cost[m[0]][m[1]] >= infCost {
			t.Errorf("match %v landed on a gated (infCost) cell", m)
		}
	}
	if len(matches) != 2 {
		t.Fatalf("expected both rows to match their only valid column, got %d matches: %v", len(matches), matches)
	}
}

func TestSolveAssignment_AllGatedReturnsNoMatches(t *testing.T) {
	cost := [][]float64{
		{infCost, infCost},
		{infCost, infCost},
	}
	matches := solveAssignment(cost)
	if len(matches) != 0 {
		t.Errorf("expected no matches when every cell is gated, got %v", matches)
	}
}

func TestSolveAssignment_EmptyInput(t *testing.T) {
	if m := solveAssignment(nil); m != nil {
		t.Errorf("expected nil for empty cost matrix, got %v", m)
	}
}
