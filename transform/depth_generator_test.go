package transform

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/rimage"
	"go.viam.com/calib/spatialmath"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 5, Height: 5, Fx: 1, Fy: 1, Ppx: 2, Ppy: 2}
}

func identityPoses(n int) []*spatialmath.Pose {
	poses := make([]*spatialmath.Pose, n)
	for i := range poses {
		poses[i] = spatialmath.NewZeroPose()
	}
	return poses
}

func TestNewDepthImageGeneratorRejectsBadKernels(t *testing.T) {
	for _, kernel := range []int{0, -1, 2, 4} {
		_, err := NewDepthImageGenerator(testIntrinsics(), kernel)
		test.That(t, err, test.ShouldNotBeNil)
	}
	_, err := NewDepthImageGenerator(&PinholeCameraIntrinsics{}, 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGenerateSinglePoint(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)

	clouds := pointcloud.Batch{{{X: 0, Y: 0, Z: 5}}}
	depth, transformed, err := gen.Generate(identityPoses(1), clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(transformed[0]), test.ShouldEqual, 1)
	test.That(t, depth[0].ValidCount(), test.ShouldEqual, 1)
	test.That(t, depth[0].GetDepth(2, 2), test.ShouldEqual, 5.0)
}

func TestGeneratePoolingWidensCoverage(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 3)
	test.That(t, err, test.ShouldBeNil)

	clouds := pointcloud.Batch{{{X: 0, Y: 0, Z: 5}}}
	depth, _, err := gen.Generate(identityPoses(1), clouds)
	test.That(t, err, test.ShouldBeNil)
	// A 3x3 window smears the single candidate over its neighborhood.
	test.That(t, depth[0].ValidCount(), test.ShouldEqual, 9)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			test.That(t, depth[0].GetDepth(x, y), test.ShouldEqual, 5.0)
		}
	}
	test.That(t, depth[0].IsValid(0, 0), test.ShouldBeFalse)
}

func TestGenerateNearestSurfaceWins(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)

	// Both points project to pixel (2,2); the nearer one must win.
	clouds := pointcloud.Batch{{{Z: 5}, {Z: 4}}}
	depth, _, err := gen.Generate(identityPoses(1), clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth[0].GetDepth(2, 2), test.ShouldEqual, 4.0)
}

func TestGenerateKeepsOutOfFrustumPoints(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)

	clouds := pointcloud.Batch{{
		{Z: 5},            // visible
		{Z: -1},           // behind the camera
		{X: 100, Z: 5},    // projects outside the image
	}}
	depth, transformed, err := gen.Generate(identityPoses(1), clouds)
	test.That(t, err, test.ShouldBeNil)
	// The depth image is frustum filtered but the running cloud is not.
	test.That(t, depth[0].ValidCount(), test.ShouldEqual, 1)
	test.That(t, len(transformed[0]), test.ShouldEqual, 3)
}

func TestGenerateAppliesTransform(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)

	pose := spatialmath.Exp(spatialmath.Twist{Trans: r3.Vector{Z: 1}})
	clouds := pointcloud.Batch{{{Z: 5}}}
	depth, transformed, err := gen.Generate([]*spatialmath.Pose{pose}, clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, transformed[0][0].Z, test.ShouldAlmostEqual, 6, 1e-12)
	test.That(t, depth[0].GetDepth(2, 2), test.ShouldAlmostEqual, 6, 1e-12)
}

func TestGenerateShapeMismatch(t *testing.T) {
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = gen.Generate(identityPoses(2), pointcloud.Batch{{{Z: 5}}})
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = gen.Generate(identityPoses(1), pointcloud.Batch{{}})
	test.That(t, err, test.ShouldNotBeNil)
}

// depthScalarLoss renders the cloud and takes a fixed linear functional of the
// depth image, for finite-difference checks of the backward pass.
func depthScalarLoss(gen *DepthImageGenerator, pose *spatialmath.Pose, cloud pointcloud.Cloud, gDepth []float64) float64 {
	depth, _, err := gen.Generate([]*spatialmath.Pose{pose}, pointcloud.Batch{cloud})
	if err != nil {
		panic(err)
	}
	var sum float64
	for y := 0; y < depth[0].Height(); y++ {
		for x := 0; x < depth[0].Width(); x++ {
			if gv := gDepth[y*depth[0].Width()+x]; gv != 0 && depth[0].IsValid(x, y) {
				sum += gv * depth[0].GetDepth(x, y)
			}
		}
	}
	return sum
}

func TestDepthBackwardMatchesFiniteDifferences(t *testing.T) {
	const eps = 1e-6
	gen, err := NewDepthImageGenerator(testIntrinsics(), 1)
	test.That(t, err, test.ShouldBeNil)

	// A mild rotation makes the rendered depth depend on all three point
	// coordinates, not just z.
	pose := spatialmath.Exp(spatialmath.Twist{Rot: r3.Vector{Y: 0.1}})
	cloud := pointcloud.Cloud{{X: 0, Y: 0, Z: 5}, {X: -1.5, Y: 0, Z: 5}}

	gDepth := make([]float64, 25)
	gDepth[2*5+2] = 0.7  // pixel hit by the first point
	gDepth[2*5+1] = -0.3 // pixel hit by the second point

	_, _, bk, err := gen.GenerateWithGrad([]*spatialmath.Pose{pose}, pointcloud.Batch{cloud})
	test.That(t, err, test.ShouldBeNil)
	gClouds, _, gTrans, err := bk.Backward([][]float64{gDepth})
	test.That(t, err, test.ShouldBeNil)

	for i := range cloud {
		for axis := 0; axis < 3; axis++ {
			bump := func(delta float64) float64 {
				perturbed := cloud.Clone()
				switch axis {
				case 0:
					perturbed[i].X += delta
				case 1:
					perturbed[i].Y += delta
				default:
					perturbed[i].Z += delta
				}
				return depthScalarLoss(gen, pose, perturbed, gDepth)
			}
			numeric := (bump(eps) - bump(-eps)) / (2 * eps)
			var analytic float64
			switch axis {
			case 0:
				analytic = gClouds[0][i].X
			case 1:
				analytic = gClouds[0][i].Y
			default:
				analytic = gClouds[0][i].Z
			}
			test.That(t, analytic, test.ShouldAlmostEqual, numeric, 1e-5)
		}
	}

	// Translation gradient along z.
	shifted, err := spatialmath.NewPose(pose.Rotation(), pose.Translation().Add(r3.Vector{Z: eps}))
	test.That(t, err, test.ShouldBeNil)
	numeric := (depthScalarLoss(gen, shifted, cloud, gDepth) - depthScalarLoss(gen, pose, cloud, gDepth)) / eps
	test.That(t, gTrans[0].Z, test.ShouldAlmostEqual, numeric, 1e-5)
}
