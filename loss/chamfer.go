package loss

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/utils"
)

// minPointsPerWorker keeps the nearest-neighbor search serial for small clouds.
const minPointsPerWorker = 256

// ChamferLoss is the bidirectional nearest-neighbor squared distance between
// two point sets. Points are divided by Scale before comparison. The search is
// brute force, O(N*M) per direction per batch element, parallelized over the
// source points; at the cloud sizes this pipeline sees (a few thousand points)
// a spatial index does not pay for itself.
type ChamferLoss struct {
	scale     float64
	reduction Reduction
}

// NewChamferLoss validates the normalization scale and reduction mode.
func NewChamferLoss(scale float64, reduction Reduction) (*ChamferLoss, error) {
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if err := reduction.validate(); err != nil {
		return nil, err
	}
	return &ChamferLoss{scale: scale, reduction: reduction}, nil
}

func (cl *ChamferLoss) check(ref, est pointcloud.Batch) error {
	if err := ref.Validate(); err != nil {
		return errors.Wrap(err, "reference cloud batch")
	}
	if err := est.Validate(); err != nil {
		return errors.Wrap(err, "estimated cloud batch")
	}
	if len(ref) != len(est) {
		return errors.Errorf("cloud batch sizes differ: %d vs %d", len(ref), len(est))
	}
	return nil
}

// Forward returns the batch-averaged chamfer loss: for each element, the
// reduction of the ref->est nearest-neighbor squared distances plus the
// reduction of the est->ref ones. Summing both directions makes the loss
// symmetric under swapping the inputs.
func (cl *ChamferLoss) Forward(ref, est pointcloud.Batch) (float64, error) {
	if err := cl.check(ref, est); err != nil {
		return 0, err
	}
	var total float64
	for b := range ref {
		src := ref[b].Scale(1 / cl.scale)
		dst := est[b].Scale(1 / cl.scale)
		d1, _ := nearestSquaredDistances(src, dst)
		d2, _ := nearestSquaredDistances(dst, src)
		total += cl.reduce(d1) + cl.reduce(d2)
	}
	return total / float64(len(ref)), nil
}

// Gradient returns the gradients of Forward with respect to both clouds.
// Gradients flow only through each point's selected nearest neighbor; when
// several neighbors tie on distance, the lowest index wins.
func (cl *ChamferLoss) Gradient(ref, est pointcloud.Batch) (gRef, gEst pointcloud.Batch, err error) {
	if err := cl.check(ref, est); err != nil {
		return nil, nil, err
	}
	gRef = make(pointcloud.Batch, len(ref))
	gEst = make(pointcloud.Batch, len(ref))
	batchNorm := 1 / float64(len(ref))
	for b := range ref {
		src := ref[b].Scale(1 / cl.scale)
		dst := est[b].Scale(1 / cl.scale)
		_, nn1 := nearestSquaredDistances(src, dst)
		_, nn2 := nearestSquaredDistances(dst, src)
		gRef[b] = make(pointcloud.Cloud, len(src))
		gEst[b] = make(pointcloud.Cloud, len(dst))

		// d = |p - q|^2 in scaled coordinates: dL/dp = 2(p-q)*w/scale with the
		// extra 1/scale from the input scaling.
		w1 := batchNorm / cl.scale
		if cl.reduction == ReductionMean {
			w1 /= float64(len(src))
		}
		for i, j := range nn1 {
			g := src[i].Sub(dst[j]).Mul(2 * w1)
			gRef[b][i] = gRef[b][i].Add(g)
			gEst[b][j] = gEst[b][j].Sub(g)
		}
		w2 := batchNorm / cl.scale
		if cl.reduction == ReductionMean {
			w2 /= float64(len(dst))
		}
		for j, i := range nn2 {
			g := dst[j].Sub(src[i]).Mul(2 * w2)
			gEst[b][j] = gEst[b][j].Add(g)
			gRef[b][i] = gRef[b][i].Sub(g)
		}
	}
	return gRef, gEst, nil
}

func (cl *ChamferLoss) reduce(dists []float64) float64 {
	var sum float64
	for _, d := range dists {
		sum += d
	}
	if cl.reduction == ReductionMean {
		sum /= float64(len(dists))
	}
	return sum
}

// nearestSquaredDistances returns, for every point in src, the squared
// distance to its nearest neighbor in dst and that neighbor's index. Ties
// resolve to the lowest index.
func nearestSquaredDistances(src, dst pointcloud.Cloud) ([]float64, []int) {
	dists := make([]float64, len(src))
	nearest := make([]int, len(src))
	utils.ParallelRanges(len(src), minPointsPerWorker, func(from, to int) {
		for i := from; i < to; i++ {
			best, bestIdx := squaredNorm(src[i].Sub(dst[0])), 0
			for j := 1; j < len(dst); j++ {
				if d := squaredNorm(src[i].Sub(dst[j])); d < best {
					best, bestIdx = d, j
				}
			}
			dists[i] = best
			nearest[i] = bestIdx
		}
	})
	return dists, nearest
}

func squaredNorm(v r3.Vector) float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}
