package vision

import (
	"gonum.org/v1/gonum/mat"
)

// The Deep-SORT motion model: state x = [cx, cy, s, r, vx, vy, vs], where
// (cx, cy) is the bbox center, s is area, r is aspect ratio (assumed
// constant), and (vx, vy, vs) are their velocities. Measurements are
// z = [cx, cy, s, r].

var kalmanF = mat.NewDense(7, 7, []float64{
	1, 0, 0, 0, 1, 0, 0,
	0, 1, 0, 0, 0, 1, 0,
	0, 0, 1, 0, 0, 0, 1,
	0, 0, 0, 1, 0, 0, 0,
	0, 0, 0, 0, 1, 0, 0,
	0, 0, 0, 0, 0, 1, 0,
	0, 0, 0, 0, 0, 0, 1,
})

var kalmanH = mat.NewDense(4, 7, []float64{
	1, 0, 0, 0, 0, 0, 0,
	0, 1, 0, 0, 0, 0, 0,
	0, 0, 1, 0, 0, 0, 0,
	0, 0, 0, 1, 0, 0, 0,
})

// kalmanR is the measurement noise covariance: identity with the
// (area, ratio) block scaled 10x, the standard SORT tuning.
var kalmanR = mat.NewDense(4, 4, []float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 10, 0,
	0, 0, 0, 10,
})

// kalmanQ is the process noise covariance. The reference applies
// `Q[-1,-1] *= 0.01` before `Q[4:,4:] *= 0.01`, so the (vs, vs) entry ends
// up scaled twice (0.0001) while (vx,vx) and (vy,vy) are scaled once
// (0.01) — order matters and is preserved here.
var kalmanQ = mat.NewDense(7, 7, []float64{
	1, 0, 0, 0, 0, 0, 0,
	0, 1, 0, 0, 0, 0, 0,
	0, 0, 1, 0, 0, 0, 0,
	0, 0, 0, 1, 0, 0, 0,
	0, 0, 0, 0, 0.01, 0, 0,
	0, 0, 0, 0, 0, 0.01, 0,
	0, 0, 0, 0, 0, 0, 0.0001,
})

var kalmanI7 = mat.NewDense(7, 7, nil)

func init() {
	for i := 0; i < 7; i++ {
		kalmanI7.Set(i, i, 1)
	}
}

// kalmanFilter is a constant-velocity Kalman filter over the 7-D track
// state, using the covariance tuning SORT-family trackers converge on.
type kalmanFilter struct {
	x *mat.VecDense // 7x1
	P *mat.Dense    // 7x7
}

// newKalmanFilter initializes a filter from an initial [cx, cy, s, r]
// measurement. The unobserved velocities start with variance 10000, 1000x
// the variance of the observed position/shape terms, which get 10.
func newKalmanFilter(cx, cy, s, r float64) *kalmanFilter {
	x := mat.NewVecDense(7, []float64{cx, cy, s, r, 0, 0, 0})

	P := mat.NewDense(7, 7, nil)
	for i := 0; i < 7; i++ {
		P.Set(i, i, 1)
	}
	for i := 4; i < 7; i++ {
		P.Set(i, i, P.At(i, i)*1000)
	}
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			P.Set(i, j, P.At(i, j)*10)
		}
	}

	return &kalmanFilter{x: x, P: P}
}

// predict advances the filter one step, zeroing the scale velocity first
// if it would drive area non-positive (reference: `if (x[6]+x[2]) <= 0:
// x[6] *= 0`).
func (k *kalmanFilter) predict() {
	if k.x.AtVec(6)+k.x.AtVec(2) <= 0 {
		k.x.SetVec(6, 0)
	}

	var nx mat.VecDense
	nx.MulVec(kalmanF, k.x)
	k.x = &nx

	var fp mat.Dense
	fp.Mul(kalmanF, k.P)
	var fpft mat.Dense
	fpft.Mul(&fp, kalmanF.T())
	fpft.Add(&fpft, kalmanQ)
	k.P = &fpft
}

// update corrects the filter with a [cx, cy, s, r] measurement.
func (k *kalmanFilter) update(cx, cy, s, r float64) {
	z := mat.NewVecDense(4, []float64{cx, cy, s, r})

	var hx mat.VecDense
	hx.MulVec(kalmanH, k.x)
	var y mat.VecDense
	y.SubVec(z, &hx)

	var hp mat.Dense
	hp.Mul(kalmanH, k.P)
	var hpht mat.Dense
	hpht.Mul(&hp, kalmanH.T())
	var S mat.Dense
	S.Add(&hpht, kalmanR)

	var Sinv mat.Dense
	if err := Sinv.Inverse(&S); err != nil {
		return
	}

	var pht mat.Dense
	pht.Mul(k.P, kalmanH.T())
	var K mat.Dense
	K.Mul(&pht, &Sinv)

	var ky mat.VecDense
	ky.MulVec(&K, &y)
	var nx mat.VecDense
	nx.AddVec(k.x, &ky)
	k.x = &nx

	var kh mat.Dense
	kh.Mul(&K, kalmanH)
	var ikh mat.Dense
	ikh.Sub(kalmanI7, &kh)
	var nP mat.Dense
	nP.Mul(&ikh, k.P)
	k.P = &nP
}

// state returns the current [cx, cy, s, r] estimate.
func (k *kalmanFilter) state() (cx, cy, s, r float64) {
	return k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2), k.x.AtVec(3)
}
