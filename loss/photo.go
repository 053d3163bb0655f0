package loss

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/calib/rimage"
)

// PhotoLoss compares a reference depth image against a reprojected candidate
// over the pixels where both carry data. Depths are divided by Scale before
// comparison so the magnitude matches the chamfer term.
type PhotoLoss struct {
	scale     float64
	reduction Reduction
}

// NewPhotoLoss validates the normalization scale and reduction mode.
func NewPhotoLoss(scale float64, reduction Reduction) (*PhotoLoss, error) {
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if err := reduction.validate(); err != nil {
		return nil, err
	}
	return &PhotoLoss{scale: scale, reduction: reduction}, nil
}

func (pl *PhotoLoss) check(ref, est rimage.DepthBatch) error {
	if err := ref.Validate(); err != nil {
		return errors.Wrap(err, "reference depth batch")
	}
	if err := est.Validate(); err != nil {
		return errors.Wrap(err, "estimated depth batch")
	}
	if len(ref) != len(est) {
		return errors.Errorf("depth batch sizes differ: %d vs %d", len(ref), len(est))
	}
	if ref[0].Width() != est[0].Width() || ref[0].Height() != est[0].Height() {
		return errors.Errorf("depth image sizes differ: %dx%d vs %dx%d",
			ref[0].Width(), ref[0].Height(), est[0].Width(), est[0].Height())
	}
	return nil
}

// Forward returns the batch-averaged absolute depth difference over
// jointly-valid pixels. With the mean reduction each element's sum is divided
// by its own valid-pixel count; an element with no jointly-valid pixels
// contributes zero rather than dividing by zero.
func (pl *PhotoLoss) Forward(ref, est rimage.DepthBatch) (float64, error) {
	if err := pl.check(ref, est); err != nil {
		return 0, err
	}
	var total float64
	for b := range ref {
		sum, count := 0.0, 0
		forEachJointlyValid(ref[b], est[b], func(x, y int, dr, de float64) {
			sum += math.Abs(dr-de) / pl.scale
			count++
		})
		if pl.reduction == ReductionMean && count > 0 {
			sum /= float64(count)
		}
		total += sum
	}
	return total / float64(len(ref)), nil
}

// Gradient returns the per-pixel gradients of Forward with respect to both
// inputs, row-major, one slice per batch element. Pixels outside the joint
// valid mask get zero; a zero depth difference takes the zero subgradient.
func (pl *PhotoLoss) Gradient(ref, est rimage.DepthBatch) (gRef, gEst [][]float64, err error) {
	if err := pl.check(ref, est); err != nil {
		return nil, nil, err
	}
	w, h := ref[0].Width(), ref[0].Height()
	gRef = make([][]float64, len(ref))
	gEst = make([][]float64, len(ref))
	batchNorm := 1 / float64(len(ref))
	for b := range ref {
		gRef[b] = make([]float64, w*h)
		gEst[b] = make([]float64, w*h)
		weight := batchNorm / pl.scale
		if pl.reduction == ReductionMean {
			count := 0
			forEachJointlyValid(ref[b], est[b], func(x, y int, dr, de float64) { count++ })
			if count == 0 {
				continue
			}
			weight /= float64(count)
		}
		forEachJointlyValid(ref[b], est[b], func(x, y int, dr, de float64) {
			var sign float64
			switch {
			case dr > de:
				sign = 1
			case dr < de:
				sign = -1
			}
			gRef[b][y*w+x] = sign * weight
			gEst[b][y*w+x] = -sign * weight
		})
	}
	return gRef, gEst, nil
}

func forEachJointlyValid(ref, est *rimage.DepthMap, fn func(x, y int, dr, de float64)) {
	for y := 0; y < ref.Height(); y++ {
		for x := 0; x < ref.Width(); x++ {
			if !ref.IsValid(x, y) || !est.IsValid(x, y) {
				continue
			}
			fn(x, y, ref.GetDepth(x, y), est.GetDepth(x, y))
		}
	}
}
