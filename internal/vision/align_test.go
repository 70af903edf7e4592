package vision

import (
	"testing"

	"github.com/suriai/attendengine/internal/models"
)

func TestFitSimilarityTransform_IdentityWhenAlreadyAligned(t *testing.T) {
	transform := fitSimilarityTransform(ReferencePoints, ReferencePoints)

	if !almostEqual(float32(transform.a), 1) || !almostEqual(float32(transform.b), 0) {
		t.Errorf("expected near-identity rotation/scale, got a=%v b=%v", transform.a, transform.b)
	}
	if !almostEqual(float32(transform.tx), 0) || !almostEqual(float32(transform.ty), 0) {
		t.Errorf("expected near-zero translation, got tx=%v ty=%v", transform.tx, transform.ty)
	}
}

func TestFitSimilarityTransform_PureTranslation(t *testing.T) {
	var shifted [5]models.Point
	for i, p := range ReferencePoints {
		shifted[i] = models.Point{X: p.X + 10, Y: p.Y + 5}
	}

	transform := fitSimilarityTransform(ReferencePoints, shifted)

	if !almostEqual(float32(transform.a), 1) || !almostEqual(float32(transform.b), 0) {
		t.Errorf("pure translation should not introduce rotation/scale, got a=%v b=%v", transform.a, transform.b)
	}
	if !almostEqual(float32(transform.tx), 10) || !almostEqual(float32(transform.ty), 5) {
		t.Errorf("expected tx=10 ty=5, got tx=%v ty=%v", transform.tx, transform.ty)
	}
}

func TestSimilarityTransform_InvertRoundTrip(t *testing.T) {
	var dst [5]models.Point
	for i, p := range ReferencePoints {
		dst[i] = models.Point{X: p.X*1.1 + 3, Y: p.Y*1.1 - 4}
	}

	forward := fitSimilarityTransform(ReferencePoints, dst)
	inverse := forward.invert()

	for _, p := range ReferencePoints {
		fx, fy := forward.apply(float64(p.X), float64(p.Y))
		bx, by := inverse.apply(fx, fy)
		if !almostEqual(float32(bx), p.X) || !almostEqual(float32(by), p.Y) {
			t.Errorf("invert round trip mismatch: got (%v, %v), want (%v, %v)", bx, by, p.X, p.Y)
		}
	}
}

// TestFitSimilarityTransform_ResistsOutlierLandmark: four landmarks agree
// on a clean similarity transform while the fifth is wildly off (an
// occluded mouth corner, say). The median-of-squares selection must
// recover the clean transform instead of letting the outlier drag it.
func TestFitSimilarityTransform_ResistsOutlierLandmark(t *testing.T) {
	clean := similarityTransform{a: 1.2, b: 0.1, tx: 3, ty: -4}

	var dst [5]models.Point
	for i, p := range ReferencePoints {
		x, y := clean.apply(float64(p.X), float64(p.Y))
		dst[i] = models.Point{X: float32(x), Y: float32(y)}
	}
	dst[4].X += 40
	dst[4].Y -= 25

	got := fitSimilarityTransform(ReferencePoints, dst)

	if !almostEqual(float32(got.a), float32(clean.a)) || !almostEqual(float32(got.b), float32(clean.b)) {
		t.Errorf("outlier skewed the linear part: got a=%v b=%v, want a=%v b=%v", got.a, got.b, clean.a, clean.b)
	}
	if !almostEqual(float32(got.tx), float32(clean.tx)) || !almostEqual(float32(got.ty), float32(clean.ty)) {
		t.Errorf("outlier skewed the translation: got tx=%v ty=%v, want tx=%v ty=%v", got.tx, got.ty, clean.tx, clean.ty)
	}
}

func TestCubicWeight_ZeroAtSupportBoundary(t *testing.T) {
	if w := cubicWeight(2); w != 0 {
		t.Errorf("cubicWeight(2) = %v, want 0 outside the kernel support", w)
	}
	if w := cubicWeight(0); w != 1 {
		t.Errorf("cubicWeight(0) = %v, want 1 at the sample point", w)
	}
}
