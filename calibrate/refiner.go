package calibrate

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/calib/loss"
	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/rimage"
	"go.viam.com/calib/spatialmath"
	"go.viam.com/calib/transform"
)

// Predictor proposes a twist correction per batch element from the camera
// image and the current depth rendering. It is an opaque, stateful
// collaborator (it holds learned parameters); the refiner depends only on its
// shapes and differentiability, never on its internals.
type Predictor interface {
	Predict(ctx context.Context, img, depth *tensor.Dense) (spatialmath.TwistBatch, error)
}

// Result is the outcome of one refinement run.
type Result struct {
	// Poses holds the accumulated correction per batch element: the right
	// multiplied product of every incremental transform, starting from the
	// identity.
	Poses []*spatialmath.Pose
	// Cloud and Depth are the final transformed point clouds and their
	// reprojected depth images, the inputs to the loss terms.
	Cloud pointcloud.Batch
	Depth rimage.DepthBatch
}

// Losses bundles the weighted training signal of a refinement run.
type Losses struct {
	Total   float64
	Photo   float64
	Chamfer float64
}

// Refiner runs the fixed-iteration refinement loop. Any predictor or
// reprojection failure is fatal and propagates to the caller; the loop has no
// internal retries.
type Refiner struct {
	cfg       Config
	generator *transform.DepthImageGenerator
	predictor Predictor
	photo     *loss.PhotoLoss
	chamfer   *loss.ChamferLoss
	logger    golog.Logger
}

// NewRefiner validates the configuration and builds the refinement pipeline
// around the given intrinsics and predictor.
func NewRefiner(
	cfg Config,
	intrinsics *transform.PinholeCameraIntrinsics,
	predictor Predictor,
	logger golog.Logger,
) (*Refiner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid refiner config")
	}
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	generator, err := transform.NewDepthImageGenerator(intrinsics, cfg.PoolingKernel)
	if err != nil {
		return nil, err
	}
	photo, err := loss.NewPhotoLoss(cfg.Scale, cfg.Reduction)
	if err != nil {
		return nil, err
	}
	chamfer, err := loss.NewChamferLoss(cfg.Scale, cfg.Reduction)
	if err != nil {
		return nil, err
	}
	return &Refiner{
		cfg:       cfg,
		generator: generator,
		predictor: predictor,
		photo:     photo,
		chamfer:   chamfer,
		logger:    logger,
	}, nil
}

// Refine runs the predict/compose/reproject loop for the configured number of
// iterations and returns the accumulated correction together with the final
// cloud and depth rendering. Only the incremental transform of each step is
// applied to the running cloud; the accumulated pose exists for evaluation.
func (r *Refiner) Refine(ctx context.Context, batch *Batch) (*Result, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	size := batch.Size()

	poses := make([]*spatialmath.Pose, size)
	for i := range poses {
		poses[i] = spatialmath.NewZeroPose()
	}
	cloud := batch.UncalibratedCloud.Clone()
	depth := batch.UncalibratedDepth.Clone()

	for iter := 0; iter < r.cfg.Iterations; iter++ {
		depthTensor, err := depth.Tensor()
		if err != nil {
			return nil, err
		}
		twists, err := r.predictor.Predict(ctx, batch.Image, depthTensor)
		if err != nil {
			return nil, errors.Wrapf(err, "predictor failed on iteration %d", iter)
		}
		if len(twists) != size {
			return nil, errors.Errorf(
				"predictor returned %d twists for batch size %d on iteration %d", len(twists), size, iter)
		}
		increments := twists.Exp()
		for b := range poses {
			poses[b] = spatialmath.Compose(poses[b], increments[b])
		}
		depth, cloud, err = r.generator.Generate(increments, cloud)
		if err != nil {
			return nil, errors.Wrapf(err, "reprojection failed on iteration %d", iter)
		}
		r.logger.Debugw("refinement step complete", "iteration", iter)
	}
	return &Result{Poses: poses, Cloud: cloud, Depth: depth}, nil
}

// Losses scores a refinement result against the calibrated reference views:
// alpha*photometric + beta*chamfer.
func (r *Refiner) Losses(batch *Batch, result *Result) (*Losses, error) {
	if batch.CalibratedDepth == nil || batch.CalibratedCloud == nil {
		return nil, errors.New("batch carries no calibrated reference views")
	}
	photo, err := r.photo.Forward(batch.CalibratedDepth, result.Depth)
	if err != nil {
		return nil, err
	}
	chamfer, err := r.chamfer.Forward(batch.CalibratedCloud, result.Cloud)
	if err != nil {
		return nil, err
	}
	return &Losses{
		Total:   r.cfg.Alpha*photo + r.cfg.Beta*chamfer,
		Photo:   photo,
		Chamfer: chamfer,
	}, nil
}

// Evaluate refines the batch and reports the mean geodesic rotational and
// translational error of the accumulated correction against the inverse ground
// truth. Reporting only; nothing here feeds gradients.
func (r *Refiner) Evaluate(ctx context.Context, batch *Batch) (dRot, dTrans float64, err error) {
	if batch.InverseGroundTruth == nil {
		return 0, 0, errors.New("batch carries no ground truth")
	}
	result, err := r.Refine(ctx, batch)
	if err != nil {
		return 0, 0, err
	}
	return spatialmath.BatchPoseDelta(result.Poses, batch.InverseGroundTruth)
}
