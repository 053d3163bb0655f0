package loss

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/calib/rimage"
)

func TestNewPhotoLossRejectsBadParams(t *testing.T) {
	_, err := NewPhotoLoss(0, ReductionSum)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPhotoLoss(-1, ReductionSum)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPhotoLoss(1, Reduction("median"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPhotoLossKnownValue(t *testing.T) {
	ref := rimage.NewEmptyDepthMap(2, 2)
	ref.Set(0, 0, 10)
	ref.Set(1, 0, 20)
	est := rimage.NewEmptyDepthMap(2, 2)
	est.Set(0, 0, 12)
	est.Set(1, 0, 26)

	pl, err := NewPhotoLoss(2, ReductionSum)
	test.That(t, err, test.ShouldBeNil)
	got, err := pl.Forward(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
	test.That(t, err, test.ShouldBeNil)
	// (|10-12| + |20-26|) / 2
	test.That(t, got, test.ShouldAlmostEqual, 4, 1e-12)

	plMean, err := NewPhotoLoss(2, ReductionMean)
	test.That(t, err, test.ShouldBeNil)
	got, err = plMean.Forward(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldAlmostEqual, 2, 1e-12)
}

func TestPhotoLossIgnoresSentinelOnlyDifferences(t *testing.T) {
	ref := rimage.NewEmptyDepthMap(3, 1)
	ref.Set(0, 0, 5)
	est := rimage.NewEmptyDepthMap(3, 1)
	est.Set(0, 0, 7)

	pl, err := NewPhotoLoss(1, ReductionSum)
	test.That(t, err, test.ShouldBeNil)
	base, err := pl.Forward(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
	test.That(t, err, test.ShouldBeNil)

	// Fill pixels that are empty on the other side; the joint valid mask and
	// therefore the loss must not move.
	est2 := est.Clone()
	est2.Set(1, 0, 99)
	ref2 := ref.Clone()
	ref2.Set(2, 0, 42)
	got, err := pl.Forward(rimage.DepthBatch{ref2}, rimage.DepthBatch{est2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, base)
}

func TestPhotoLossNoValidPixels(t *testing.T) {
	ref := rimage.NewEmptyDepthMap(2, 2)
	est := rimage.NewEmptyDepthMap(2, 2)
	est.Set(0, 0, 3)

	for _, reduction := range []Reduction{ReductionSum, ReductionMean} {
		pl, err := NewPhotoLoss(1, reduction)
		test.That(t, err, test.ShouldBeNil)
		got, err := pl.Forward(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, 0)

		gRef, gEst, err := pl.Gradient(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
		test.That(t, err, test.ShouldBeNil)
		for i := range gRef[0] {
			test.That(t, gRef[0][i], test.ShouldEqual, 0)
			test.That(t, gEst[0][i], test.ShouldEqual, 0)
		}
	}
}

func TestPhotoLossShapeMismatch(t *testing.T) {
	pl, err := NewPhotoLoss(1, ReductionSum)
	test.That(t, err, test.ShouldBeNil)
	a := rimage.DepthBatch{rimage.NewEmptyDepthMap(2, 2)}
	b := rimage.DepthBatch{rimage.NewEmptyDepthMap(3, 2)}
	_, err = pl.Forward(a, b)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = pl.Forward(a, rimage.DepthBatch{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPhotoLossGradientMatchesFiniteDifferences(t *testing.T) {
	const eps = 1e-6
	ref := rimage.NewEmptyDepthMap(2, 2)
	ref.Set(0, 0, 10)
	ref.Set(1, 0, 20)
	ref.Set(0, 1, 30)
	est := rimage.NewEmptyDepthMap(2, 2)
	est.Set(0, 0, 12)
	est.Set(1, 0, 15)
	// (0,1) is valid only in ref and must get zero gradient.

	for _, reduction := range []Reduction{ReductionSum, ReductionMean} {
		pl, err := NewPhotoLoss(2, reduction)
		test.That(t, err, test.ShouldBeNil)
		gRef, gEst, err := pl.Gradient(rimage.DepthBatch{ref}, rimage.DepthBatch{est})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, gRef[0][1*2+0], test.ShouldEqual, 0)

		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				if !est.IsValid(x, y) {
					continue
				}
				bump := func(delta float64) float64 {
					perturbed := est.Clone()
					perturbed.Set(x, y, est.GetDepth(x, y)+delta)
					got, err := pl.Forward(rimage.DepthBatch{ref}, rimage.DepthBatch{perturbed})
					test.That(t, err, test.ShouldBeNil)
					return got
				}
				numeric := (bump(eps) - bump(-eps)) / (2 * eps)
				test.That(t, gEst[0][y*2+x], test.ShouldAlmostEqual, numeric, 1e-6)
				test.That(t, gRef[0][y*2+x], test.ShouldAlmostEqual, -gEst[0][y*2+x], 1e-12)
			}
		}
	}
}
