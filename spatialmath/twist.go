package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Twist is a minimal se(3) motion: three rotation generators and three
// translation generators. A batch of predictor outputs is a TwistBatch.
type Twist struct {
	Rot   r3.Vector
	Trans r3.Vector
}

// TwistBatch is one twist per batch element.
type TwistBatch []Twist

// Exp maps every twist in the batch through the exponential map.
func (tb TwistBatch) Exp() []*Pose {
	poses := make([]*Pose, len(tb))
	for i, tw := range tb {
		poses[i] = Exp(tw)
	}
	return poses
}

// Below the small-angle threshold the closed-form Rodrigues coefficients lose
// precision to catastrophic cancellation, so Taylor expansions take over. The
// series are accurate to ~1e-17 at this crossover.
const smallAngle = 1e-4

// expCoeffs returns the Rodrigues coefficients for angle theta:
// a = sin(theta)/theta, b = (1-cos(theta))/theta^2, c = (theta-sin(theta))/theta^3.
// R = I + a*K + b*K^2 and V = I + b*K + c*K^2 for K the unnormalized skew matrix.
func expCoeffs(theta float64) (a, b, c float64) {
	if theta < smallAngle {
		t2 := theta * theta
		a = 1 - t2/6*(1-t2/20)
		b = 0.5 - t2/24*(1-t2/30)
		c = 1.0/6 - t2/120*(1-t2/42)
		return a, b, c
	}
	sin, cos := math.Sincos(theta)
	t2 := theta * theta
	a = sin / theta
	b = (1 - cos) / t2
	c = (theta - sin) / (t2 * theta)
	return a, b, c
}

// Exp is the SE(3) exponential map. The rotation block follows the Rodrigues
// formula on the skew matrix of tw.Rot; the translation is the V matrix applied
// to tw.Trans, which couples rotation and translation so that repeated
// composition of small corrections stays on the group. The zero twist maps to
// the identity with no special casing beyond the Taylor branch.
func Exp(tw Twist) *Pose {
	theta := tw.Rot.Norm()
	a, b, c := expCoeffs(theta)

	k := skew(tw.Rot)
	k2 := mat.NewDense(3, 3, nil)
	k2.Mul(k, k)

	rot := eye3()
	addScaled(rot, a, k)
	addScaled(rot, b, k2)

	v := eye3()
	addScaled(v, b, k)
	addScaled(v, c, k2)

	return &Pose{rot: rot, trans: mulMatVec(v, tw.Trans)}
}

// ExpBackward is the manual adjoint of Exp. Given the upstream gradients of a
// scalar loss with respect to the rotation block (gRot, 3x3) and the
// translation (gTrans), it returns the gradient with respect to the twist.
// Verified against central finite differences in tests.
func ExpBackward(tw Twist, gRot *mat.Dense, gTrans r3.Vector) Twist {
	theta := tw.Rot.Norm()
	a, b, c := expCoeffs(theta)

	k := skew(tw.Rot)
	k2 := mat.NewDense(3, 3, nil)
	k2.Mul(k, k)

	v := eye3()
	addScaled(v, b, k)
	addScaled(v, c, k2)

	// t = V*upsilon, so dL/dupsilon = V^T gTrans and dL/dV = gTrans upsilon^T.
	gUpsilon := r3.Vector{
		X: v.At(0, 0)*gTrans.X + v.At(1, 0)*gTrans.Y + v.At(2, 0)*gTrans.Z,
		Y: v.At(0, 1)*gTrans.X + v.At(1, 1)*gTrans.Y + v.At(2, 1)*gTrans.Z,
		Z: v.At(0, 2)*gTrans.X + v.At(1, 2)*gTrans.Y + v.At(2, 2)*gTrans.Z,
	}
	gV := outer(gTrans, tw.Trans)

	// Scalar gradients through the Rodrigues coefficients.
	ga := frobDot(gRot, k)
	gb := frobDot(gRot, k2) + frobDot(gV, k)
	gc := frobDot(gV, k2)

	// Matrix gradient through K, using d(K^2) = dK*K + K*dK and K^T = -K:
	// G_K = a*gRot - b*(gRot*K + K*gRot) + b*gV - c*(gV*K + K*gV).
	gk := mat.NewDense(3, 3, nil)
	addScaled(gk, a, gRot)
	addScaled(gk, b, gV)
	tmp := mat.NewDense(3, 3, nil)
	tmp.Mul(gRot, k)
	addScaled(gk, -b, tmp)
	tmp.Mul(k, gRot)
	addScaled(gk, -b, tmp)
	tmp.Mul(gV, k)
	addScaled(gk, -c, tmp)
	tmp.Mul(k, gV)
	addScaled(gk, -c, tmp)

	// K = skew(omega): project the matrix gradient back onto the generators.
	gOmega := r3.Vector{
		X: gk.At(2, 1) - gk.At(1, 2),
		Y: gk.At(0, 2) - gk.At(2, 0),
		Z: gk.At(1, 0) - gk.At(0, 1),
	}

	// Coefficient dependence on theta = |omega|: dtheta/domega = omega/theta.
	// The ratio (dcoeff/dtheta)/theta stays finite as theta -> 0, so the small
	// angle branch evaluates it directly from the series.
	var coeffRate float64
	if theta < smallAngle {
		t2 := theta * theta
		aRate := -1.0/3 + t2/30
		bRate := -1.0/12 + t2/180
		cRate := -1.0/60 + t2/1260
		coeffRate = ga*aRate + gb*bRate + gc*cRate
	} else {
		sin, cos := math.Sincos(theta)
		t2 := theta * theta
		da := cos/theta - sin/t2
		db := sin/t2 - 2*(1-cos)/(t2*theta)
		dc := (1-cos)/(t2*theta) - 3*(theta-sin)/(t2*t2)
		coeffRate = (ga*da + gb*db + gc*dc) / theta
	}
	gOmega = gOmega.Add(tw.Rot.Mul(coeffRate))

	return Twist{Rot: gOmega, Trans: gUpsilon}
}

// skew returns the skew-symmetric matrix [w]_x.
func skew(w r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -w.Z, w.Y,
		w.Z, 0, -w.X,
		-w.Y, w.X, 0,
	})
}

// addScaled accumulates dst += s*m in place.
func addScaled(dst *mat.Dense, s float64, m *mat.Dense) {
	var scaled mat.Dense
	scaled.Scale(s, m)
	dst.Add(dst, &scaled)
}

// frobDot is the Frobenius inner product of two 3x3 matrices.
func frobDot(a, b *mat.Dense) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum += a.At(i, j) * b.At(i, j)
		}
	}
	return sum
}

// outer returns the outer product a*b^T.
func outer(a, b r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a.X * b.X, a.X * b.Y, a.X * b.Z,
		a.Y * b.X, a.Y * b.Y, a.Y * b.Z,
		a.Z * b.X, a.Z * b.Y, a.Z * b.Z,
	})
}
