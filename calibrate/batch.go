package calibrate

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/rimage"
	"go.viam.com/calib/spatialmath"
	"go.viam.com/calib/transform"
)

// Batch is the record the dataset collaborator hands to the refiner: the
// reference (calibrated) views, the synthetically miscalibrated views, the
// known inverse of the miscalibration, and the shared camera intrinsics.
// Intrinsics are assumed constant within a batch.
type Batch struct {
	// Image is the (B,3,H,W) camera image tensor forwarded to the predictor.
	Image *tensor.Dense
	// CalibratedDepth and CalibratedCloud are the reference views under the
	// true extrinsics.
	CalibratedDepth rimage.DepthBatch
	CalibratedCloud pointcloud.Batch
	// UncalibratedDepth and UncalibratedCloud are the miscalibrated inputs the
	// refinement starts from.
	UncalibratedDepth rimage.DepthBatch
	UncalibratedCloud pointcloud.Batch
	// InverseGroundTruth is the known inverse of the miscalibration, read-only,
	// used only for evaluation. May be nil for inference-only batches.
	InverseGroundTruth []*spatialmath.Pose
	// Intrinsics is the pinhole projection shared by the whole batch.
	Intrinsics *transform.PinholeCameraIntrinsics
}

// Validate fails fast on any shape or contract violation before computation
// starts, reporting all of them at once.
func (b *Batch) Validate() error {
	var err error
	if b.Image == nil {
		err = multierr.Append(err, errors.New("missing image tensor"))
	}
	if e := b.Intrinsics.CheckValid(); e != nil {
		err = multierr.Append(err, e)
	}
	if e := b.UncalibratedCloud.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "uncalibrated cloud"))
	}
	if e := b.UncalibratedDepth.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "uncalibrated depth"))
	}
	if err != nil {
		return err
	}

	size := len(b.UncalibratedCloud)
	if b.Image != nil {
		shape := b.Image.Shape()
		if len(shape) != 4 || shape[0] != size {
			err = multierr.Append(err, errors.Errorf("image tensor shape %v does not match batch size %d", shape, size))
		}
	}
	if len(b.UncalibratedDepth) != size {
		err = multierr.Append(err, errors.Errorf("uncalibrated depth batch size %d != %d", len(b.UncalibratedDepth), size))
	}
	if b.CalibratedCloud != nil && len(b.CalibratedCloud) != size {
		err = multierr.Append(err, errors.Errorf("calibrated cloud batch size %d != %d", len(b.CalibratedCloud), size))
	}
	if b.CalibratedDepth != nil && len(b.CalibratedDepth) != size {
		err = multierr.Append(err, errors.Errorf("calibrated depth batch size %d != %d", len(b.CalibratedDepth), size))
	}
	if b.InverseGroundTruth != nil && len(b.InverseGroundTruth) != size {
		err = multierr.Append(err, errors.Errorf("ground truth batch size %d != %d", len(b.InverseGroundTruth), size))
	}
	return err
}

// Size returns the number of batch elements.
func (b *Batch) Size() int {
	return len(b.UncalibratedCloud)
}
