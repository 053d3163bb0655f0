// Package spatialmath defines the rigid-body algebra used by the calibration
// refinement pipeline: SE(3) poses, se(3) twists with their exponential map and
// its adjoint, and geodesic pose-error metrics.
package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform: an orthonormal 3x3 rotation block plus a
// translation. It is the Go-side view of a 4x4 homogeneous matrix with an
// implicit (0,0,0,1) bottom row.
type Pose struct {
	rot   *mat.Dense
	trans r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() *Pose {
	return &Pose{rot: eye3(), trans: r3.Vector{}}
}

// NewPose creates a pose from a 3x3 rotation matrix and a translation. The
// rotation matrix is copied. Orthonormality is the caller's responsibility;
// poses produced by Exp and Compose maintain it up to floating error.
func NewPose(rot *mat.Dense, trans r3.Vector) (*Pose, error) {
	r, c := rot.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("rotation block must be 3x3, got %dx%d", r, c)
	}
	return &Pose{rot: mat.DenseCopyOf(rot), trans: trans}, nil
}

// NewPoseFromMatrix creates a pose from a 4x4 homogeneous matrix, rejecting a
// malformed bottom row.
func NewPoseFromMatrix(m *mat.Dense) (*Pose, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return nil, errors.Errorf("homogeneous transform must be 4x4, got %dx%d", r, c)
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return nil, errors.New("homogeneous transform must have bottom row (0,0,0,1)")
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, m.At(i, j))
		}
	}
	return &Pose{
		rot:   rot,
		trans: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
	}, nil
}

// Rotation returns the 3x3 rotation block. The matrix is shared with the pose
// and must not be mutated by the caller.
func (p *Pose) Rotation() *mat.Dense {
	return p.rot
}

// Translation returns the translation component.
func (p *Pose) Translation() r3.Vector {
	return p.trans
}

// Matrix returns a fresh 4x4 homogeneous matrix for the pose.
func (p *Pose) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, p.rot.At(i, j))
		}
	}
	m.Set(0, 3, p.trans.X)
	m.Set(1, 3, p.trans.Y)
	m.Set(2, 3, p.trans.Z)
	m.Set(3, 3, 1)
	return m
}

// Compose returns a*b, the transform that applies b first and then a. SE(3)
// composition does not commute; the refinement loop relies on this exact
// right-multiplication order when accumulating incremental corrections.
func Compose(a, b *Pose) *Pose {
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(a.rot, b.rot)
	return &Pose{
		rot:   rot,
		trans: a.TransformPoint(b.trans),
	}
}

// Invert returns the inverse transform.
func (p *Pose) Invert() *Pose {
	rotInv := mat.NewDense(3, 3, nil)
	rotInv.CloneFrom(p.rot.T())
	ti := mulMatVec(rotInv, p.trans)
	return &Pose{rot: rotInv, trans: ti.Mul(-1)}
}

// TransformPoint applies the pose to a point: R*pt + t.
func (p *Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return mulMatVec(p.rot, pt).Add(p.trans)
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

func mulMatVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
