// Package pointcloud holds the dense, ordered point clouds consumed by the
// calibration refinement pipeline, batched over independent samples.
package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/calib/spatialmath"
)

// Cloud is an ordered sequence of 3D points in the sensor frame. Order is
// significant: gradients and nearest-neighbor assignments refer to indices.
type Cloud []r3.Vector

// Clone returns an independent copy of the cloud.
func (c Cloud) Clone() Cloud {
	out := make(Cloud, len(c))
	copy(out, c)
	return out
}

// Transform applies a rigid transform to every point, returning a new cloud.
func (c Cloud) Transform(p *spatialmath.Pose) Cloud {
	out := make(Cloud, len(c))
	for i, pt := range c {
		out[i] = p.TransformPoint(pt)
	}
	return out
}

// Scale returns the cloud with every coordinate multiplied by s.
func (c Cloud) Scale(s float64) Cloud {
	out := make(Cloud, len(c))
	for i, pt := range c {
		out[i] = pt.Mul(s)
	}
	return out
}

// TransformBackward is the adjoint of Cloud.Transform. Given the original
// (untransformed) points and the per-point gradients gOut with respect to the
// transformed points, it returns the gradients with respect to the input
// points, the rotation block, and the translation.
func TransformBackward(pts Cloud, p *spatialmath.Pose, gOut Cloud) (Cloud, *mat.Dense, r3.Vector, error) {
	if len(pts) != len(gOut) {
		return nil, nil, r3.Vector{}, errors.Errorf(
			"gradient count %d does not match point count %d", len(gOut), len(pts))
	}
	rot := p.Rotation()
	gPts := make(Cloud, len(pts))
	gRot := mat.NewDense(3, 3, nil)
	var gTrans r3.Vector
	for i, g := range gOut {
		// p' = R*p + t: dL/dp = R^T g, dL/dR += g p^T, dL/dt += g.
		gPts[i] = r3.Vector{
			X: rot.At(0, 0)*g.X + rot.At(1, 0)*g.Y + rot.At(2, 0)*g.Z,
			Y: rot.At(0, 1)*g.X + rot.At(1, 1)*g.Y + rot.At(2, 1)*g.Z,
			Z: rot.At(0, 2)*g.X + rot.At(1, 2)*g.Y + rot.At(2, 2)*g.Z,
		}
		pt := pts[i]
		gRot.Set(0, 0, gRot.At(0, 0)+g.X*pt.X)
		gRot.Set(0, 1, gRot.At(0, 1)+g.X*pt.Y)
		gRot.Set(0, 2, gRot.At(0, 2)+g.X*pt.Z)
		gRot.Set(1, 0, gRot.At(1, 0)+g.Y*pt.X)
		gRot.Set(1, 1, gRot.At(1, 1)+g.Y*pt.Y)
		gRot.Set(1, 2, gRot.At(1, 2)+g.Y*pt.Z)
		gRot.Set(2, 0, gRot.At(2, 0)+g.Z*pt.X)
		gRot.Set(2, 1, gRot.At(2, 1)+g.Z*pt.Y)
		gRot.Set(2, 2, gRot.At(2, 2)+g.Z*pt.Z)
		gTrans = gTrans.Add(g)
	}
	return gPts, gRot, gTrans, nil
}

// Batch is one cloud per batch element. Elements are independent; nothing is
// shared across them.
type Batch []Cloud

// Validate rejects empty batches and empty member clouds before any
// computation proceeds.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return errors.New("empty point cloud batch")
	}
	for i, c := range b {
		if len(c) == 0 {
			return errors.Errorf("point cloud %d in batch is empty", i)
		}
	}
	return nil
}

// Clone returns an independent copy of the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, c := range b {
		out[i] = c.Clone()
	}
	return out
}

// Scale returns the batch with every coordinate multiplied by s.
func (b Batch) Scale(s float64) Batch {
	out := make(Batch, len(b))
	for i, c := range b {
		out[i] = c.Scale(s)
	}
	return out
}
