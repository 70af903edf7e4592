package vision

import (
	"image"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/suriai/attendengine/internal/models"
)

// ReferencePoints are the canonical 5-point landmark targets for a 112x112
// aligned face crop (left eye, right eye, nose, left mouth, right mouth),
// in the same order as Detection.Landmarks.
var ReferencePoints = [5]models.Point{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// similarityTransform is the 4-parameter {a, b, tx, ty} model for
//
//	x' = a*x - b*y + tx
//	y' = b*x + a*y + ty
//
// i.e. a similarity transform: uniform scale, rotation, translation, no
// reflection or shear. This is the same restricted model
// cv2.estimateAffinePartial2D fits.
type similarityTransform struct {
	a, b, tx, ty float64
}

// fitSimilarityTransform estimates the similarity transform mapping src
// onto dst by least-median-of-squares: every 2-point minimal sample is
// fit exactly, the candidate with the smallest median squared residual
// wins, and the result is refined by a least-squares solve over that
// candidate's consensus set. A single bad landmark (occlusion, a noisy
// detection) cannot drag the fit the way a plain least-squares solve over
// all 5 points would allow. With only 5 landmarks the 10 minimal samples
// are enumerated exhaustively, so the estimate is deterministic.
func fitSimilarityTransform(src, dst [5]models.Point) similarityTransform {
	n := len(src)

	best := similarityTransform{a: 1}
	bestMedian := math.Inf(1)
	found := false

	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			cand, ok := similarityFromPair(src[i], src[j], dst[i], dst[j])
			if !ok {
				continue
			}
			med := medianSquaredResidual(cand, src, dst)
			if med < bestMedian {
				bestMedian = med
				best = cand
				found = true
			}
		}
	}
	if !found {
		// Degenerate landmark configuration (coincident points). Fall back
		// to the identity transform rather than failing detection.
		return similarityTransform{a: 1}
	}

	// Robust scale estimate from the winning median, then refit over the
	// consensus set only.
	sigma := 2.5 * 1.4826 * (1 + 5.0/float64(n-2)) * math.Sqrt(bestMedian)
	thresh := sigma*sigma + 1e-9

	var inSrc, inDst []models.Point
	for k := 0; k < n; k++ {
		if squaredResidual(best, src[k], dst[k]) <= thresh {
			inSrc = append(inSrc, src[k])
			inDst = append(inDst, dst[k])
		}
	}
	if len(inSrc) < 2 {
		return best
	}
	if refined, ok := lsqSimilarityTransform(inSrc, inDst); ok {
		return refined
	}
	return best
}

// similarityFromPair solves the similarity transform exactly from a
// 2-point correspondence (the minimal sample for this model), treating
// points as complex numbers: the linear part is dq/dp.
func similarityFromPair(p1, p2, q1, q2 models.Point) (similarityTransform, bool) {
	dpx := float64(p2.X - p1.X)
	dpy := float64(p2.Y - p1.Y)
	denom := dpx*dpx + dpy*dpy
	if denom == 0 {
		return similarityTransform{}, false
	}

	dqx := float64(q2.X - q1.X)
	dqy := float64(q2.Y - q1.Y)
	a := (dqx*dpx + dqy*dpy) / denom
	b := (dqy*dpx - dqx*dpy) / denom
	tx := float64(q1.X) - (a*float64(p1.X) - b*float64(p1.Y))
	ty := float64(q1.Y) - (b*float64(p1.X) + a*float64(p1.Y))
	return similarityTransform{a: a, b: b, tx: tx, ty: ty}, true
}

func squaredResidual(t similarityTransform, p, q models.Point) float64 {
	x, y := t.apply(float64(p.X), float64(p.Y))
	dx := x - float64(q.X)
	dy := y - float64(q.Y)
	return dx*dx + dy*dy
}

func medianSquaredResidual(t similarityTransform, src, dst [5]models.Point) float64 {
	r := make([]float64, len(src))
	for i := range src {
		r[i] = squaredResidual(t, src[i], dst[i])
	}
	sort.Float64s(r)
	return r[len(r)/2]
}

// lsqSimilarityTransform solves the ordinary least-squares similarity
// transform over an inlier set via normal equations. Used only to refine
// the LMedS winner, never as the primary estimator.
func lsqSimilarityTransform(src, dst []models.Point) (similarityTransform, bool) {
	n := len(src)
	A := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)

	for i := 0; i < n; i++ {
		x, y := float64(src[i].X), float64(src[i].Y)
		xp, yp := float64(dst[i].X), float64(dst[i].Y)

		A.SetRow(2*i, []float64{x, -y, 1, 0})
		A.SetRow(2*i+1, []float64{y, x, 0, 1})
		b.SetVec(2*i, xp)
		b.SetVec(2*i+1, yp)
	}

	var ata mat.Dense
	ata.Mul(A.T(), A)
	var atb mat.VecDense
	atb.MulVec(A.T(), b)

	var params mat.VecDense
	if err := params.SolveVec(&ata, &atb); err != nil {
		return similarityTransform{}, false
	}

	return similarityTransform{
		a:  params.AtVec(0),
		b:  params.AtVec(1),
		tx: params.AtVec(2),
		ty: params.AtVec(3),
	}, true
}

// invert returns the inverse transform, used to map destination (aligned
// crop) pixel coordinates back to source (frame) coordinates for sampling.
func (t similarityTransform) invert() similarityTransform {
	// Forward: [x'] = [a -b] [x] + [tx]
	//          [y']   [b  a] [y]   [ty]
	det := t.a*t.a + t.b*t.b
	if det == 0 {
		return similarityTransform{a: 1, b: 0, tx: 0, ty: 0}
	}
	ia := t.a / det
	ib := -t.b / det
	// Inverse linear part is [ia -ib; ib ia]; translation is -R^-1 * t.
	itx := -(ia*t.tx - ib*t.ty)
	ity := -(ib*t.tx + ia*t.ty)
	return similarityTransform{a: ia, b: ib, tx: itx, ty: ity}
}

func (t similarityTransform) apply(x, y float64) (float64, float64) {
	return t.a*x - t.b*y + t.tx, t.b*x + t.a*y + t.ty
}

// AlignFace warps the face identified by landmarks onto a size x size crop
// via a similarity transform to ReferencePoints (scaled from the 112x112
// canonical frame to size x size). Sampling uses bicubic interpolation
// with a constant zero border, the estimateAffinePartial2D +
// warpAffine(INTER_CUBIC, BORDER_CONSTANT) combination ArcFace-style
// alignment conventionally uses.
func AlignFace(img image.Image, landmarks [5]models.Point, size int) *image.RGBA {
	scale := float64(size) / 112.0
	var dst [5]models.Point
	for i, p := range ReferencePoints {
		dst[i] = models.Point{X: p.X * float32(scale), Y: p.Y * float32(scale)}
	}

	forward := fitSimilarityTransform(landmarks, dst)
	inverse := forward.invert()

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	for oy := 0; oy < size; oy++ {
		for ox := 0; ox < size; ox++ {
			sx, sy := inverse.apply(float64(ox)+0.5, float64(oy)+0.5)
			r, g, b, a := bicubicSample(img, sx-0.5, sy-0.5)
			out.SetRGBA(ox, oy, color.RGBA{R: r, G: g, B: b, A: a})
		}
	}
	return out
}

// cubicWeight is the Catmull-Rom-family convolution kernel OpenCV uses for
// INTER_CUBIC (a = -0.75).
func cubicWeight(x float64) float64 {
	const a = -0.75
	x = math.Abs(x)
	switch {
	case x <= 1:
		return (a+2)*x*x*x - (a+3)*x*x + 1
	case x < 2:
		return a*x*x*x - 5*a*x*x + 8*a*x - 4*a
	default:
		return 0
	}
}

// bicubicSample samples img at fractional coordinates (x, y) using a 4x4
// bicubic kernel. Out-of-bounds taps are treated as transparent black
// (constant zero border).
func bicubicSample(img image.Image, x, y float64) (r, g, b, a uint8) {
	bounds := img.Bounds()
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	var sumR, sumG, sumB, sumA, wsum float64

	for j := -1; j <= 2; j++ {
		wy := cubicWeight(float64(j) - fy)
		py := y0 + j
		for i := -1; i <= 2; i++ {
			wx := cubicWeight(float64(i) - fx)
			px := x0 + i
			w := wx * wy
			if w == 0 {
				continue
			}

			var pr, pg, pb, pa float64
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				cr, cg, cb, ca := img.At(px, py).RGBA()
				pr, pg, pb, pa = float64(cr>>8), float64(cg>>8), float64(cb>>8), float64(ca>>8)
			}
			// else: constant zero border contributes 0.

			sumR += w * pr
			sumG += w * pg
			sumB += w * pb
			sumA += w * pa
			wsum += w
		}
	}

	if wsum == 0 {
		return 0, 0, 0, 0
	}

	clamp := func(v float64) uint8 {
		v /= wsum
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v + 0.5)
	}
	return clamp(sumR), clamp(sumG), clamp(sumB), clamp(sumA)
}
