package vision

import "testing"

func TestNormalize_L2NormInvariant(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	normalize(v)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := sumSq
	if d := norm - 1.0; d > 1e-5 || d < -1e-5 {
		t.Errorf("|norm^2 - 1| = %v, want <= 1e-5", d)
	}

	if !almostEqual(v[0], 0.6) || !almostEqual(v[1], 0.8) {
		t.Errorf("unexpected normalized vector %v", v)
	}
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	normalize(v)
	for _, x := range v {
		if x != 0 {
			t.Errorf("normalizing the zero vector should leave it unchanged, got %v", v)
		}
	}
}
