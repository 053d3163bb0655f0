package spatialmath

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PoseDelta measures the discrepancy between an estimated pose and a ground
// truth pose: the geodesic angle of the relative rotation R_est*R_gt^T and the
// Euclidean norm of the translation difference. Evaluation only; this metric is
// never backpropagated.
func PoseDelta(est, gt *Pose) (dRot, dTrans float64) {
	rel := mat.NewDense(3, 3, nil)
	rel.Mul(est.rot, gt.rot.T())
	// Floating error can push the trace argument slightly outside the acos
	// domain; clamp instead of returning NaN.
	cosAngle := (mat.Trace(rel) - 1) / 2
	if cosAngle > 1 {
		cosAngle = 1
	} else if cosAngle < -1 {
		cosAngle = -1
	}
	return math.Acos(cosAngle), est.trans.Sub(gt.trans).Norm()
}

// BatchPoseDelta averages PoseDelta over a batch of pose pairs.
func BatchPoseDelta(est, gt []*Pose) (dRot, dTrans float64, err error) {
	if len(est) == 0 {
		return 0, 0, errors.New("empty pose batch")
	}
	if len(est) != len(gt) {
		return 0, 0, errors.Errorf("pose batch sizes differ: %d vs %d", len(est), len(gt))
	}
	for i := range est {
		dr, dt := PoseDelta(est[i], gt[i])
		dRot += dr
		dTrans += dt
	}
	n := float64(len(est))
	return dRot / n, dTrans / n, nil
}
