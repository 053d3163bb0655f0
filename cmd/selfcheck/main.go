// Package main runs a synthetic round trip through the calibration refinement
// pipeline: a known miscalibration is applied to a generated scene, an oracle
// predictor returns the exact correcting twist, and the residual pose error
// and losses are reported. Useful as a quick numerical sanity check of the
// geometry without any dataset or trained model.
package main

import (
	"context"
	"image/png"
	"math"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gorgonia.org/tensor"

	"go.viam.com/calib/calibrate"
	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/spatialmath"
	"go.viam.com/calib/transform"
)

var logger = golog.NewDevelopmentLogger("selfcheck")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Degrees    float64 `flag:"deg,default=5,usage=miscalibration rotation in degrees"`
	Meters     float64 `flag:"tran,default=0.1,usage=miscalibration translation in meters"`
	Iterations int     `flag:"iters,default=6,usage=inner refinement iterations"`
	Kernel     int     `flag:"kernel,default=5,usage=depth pooling kernel size (odd)"`
	Out        string  `flag:"out,usage=optional PNG path for the final depth rendering"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	intrinsics := &transform.PinholeCameraIntrinsics{
		Width: 64, Height: 64,
		Fx: 40, Fy: 40,
		Ppx: 32, Ppy: 32,
	}
	cfg := calibrate.DefaultConfig()
	cfg.Iterations = argsParsed.Iterations
	cfg.PoolingKernel = argsParsed.Kernel

	// A gently undulating grid in front of the camera.
	cloud := make(pointcloud.Cloud, 0, 400)
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			x := -1.0 + 2.0*float64(i)/19
			y := -1.0 + 2.0*float64(j)/19
			z := 4 + 0.5*math.Sin(3*x)*math.Cos(2*y)
			cloud = append(cloud, r3.Vector{X: x, Y: y, Z: z})
		}
	}

	gtTwist := spatialmath.Twist{
		Rot:   r3.Vector{Y: argsParsed.Degrees * math.Pi / 180},
		Trans: r3.Vector{X: argsParsed.Meters},
	}
	miscal := spatialmath.Exp(gtTwist)

	generator, err := transform.NewDepthImageGenerator(intrinsics, cfg.PoolingKernel)
	if err != nil {
		return err
	}
	identity := []*spatialmath.Pose{spatialmath.NewZeroPose()}
	calibCloud := pointcloud.Batch{cloud}
	calibDepth, _, err := generator.Generate(identity, calibCloud)
	if err != nil {
		return err
	}
	uncalCloud := pointcloud.Batch{cloud.Transform(miscal)}
	uncalDepth, _, err := generator.Generate(identity, uncalCloud)
	if err != nil {
		return err
	}

	batch := &calibrate.Batch{
		Image:              tensor.New(tensor.WithShape(1, 3, intrinsics.Height, intrinsics.Width), tensor.Of(tensor.Float64)),
		CalibratedDepth:    calibDepth,
		CalibratedCloud:    calibCloud,
		UncalibratedDepth:  uncalDepth,
		UncalibratedCloud:  uncalCloud,
		InverseGroundTruth: []*spatialmath.Pose{miscal.Invert()},
		Intrinsics:         intrinsics,
	}

	refiner, err := calibrate.NewRefiner(cfg, intrinsics, &oraclePredictor{correction: gtTwist}, logger)
	if err != nil {
		return err
	}
	result, err := refiner.Refine(ctx, batch)
	if err != nil {
		return err
	}
	losses, err := refiner.Losses(batch, result)
	if err != nil {
		return err
	}
	dRot, dTrans, err := spatialmath.BatchPoseDelta(result.Poses, batch.InverseGroundTruth)
	if err != nil {
		return err
	}
	logger.Infow("refinement round trip",
		"dRot_rad", dRot,
		"dTrans_m", dTrans,
		"loss_total", losses.Total,
		"loss_photo", losses.Photo,
		"loss_chamfer", losses.Chamfer,
	)

	if argsParsed.Out != "" {
		if err := writeDepthPNG(argsParsed.Out, result); err != nil {
			return err
		}
		logger.Infow("wrote depth rendering", "path", argsParsed.Out)
	}
	return nil
}

// oraclePredictor returns the exact correcting twist once, then the zero
// twist. It stands in for the learned model in round-trip checks.
type oraclePredictor struct {
	correction spatialmath.Twist
	called     bool
}

func (p *oraclePredictor) Predict(
	ctx context.Context, img, depth *tensor.Dense,
) (spatialmath.TwistBatch, error) {
	shape := depth.Shape()
	if len(shape) != 4 {
		return nil, errors.Errorf("expected a (B,1,H,W) depth tensor, got shape %v", shape)
	}
	twists := make(spatialmath.TwistBatch, shape[0])
	if !p.called {
		p.called = true
		for i := range twists {
			twists[i] = spatialmath.Twist{
				Rot:   p.correction.Rot.Mul(-1),
				Trans: p.correction.Trans.Mul(-1),
			}
		}
	}
	return twists, nil
}

func writeDepthPNG(path string, result *calibrate.Result) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return png.Encode(f, result.Depth[0].ToGray16())
}
