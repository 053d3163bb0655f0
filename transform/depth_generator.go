package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/calib/pointcloud"
	"go.viam.com/calib/rimage"
	"go.viam.com/calib/spatialmath"
	"go.viam.com/calib/utils"
)

// minRowsPerWorker keeps the pooling pass serial for small images.
const minRowsPerWorker = 32

// DepthImageGenerator renders a point cloud into a semi-dense depth image
// under a candidate rigid transform. Multiple points landing in the same
// pooling window resolve to the minimum positive depth: the nearest surface
// wins.
//
// Frustum policy: the full transformed cloud is carried forward between
// refinement iterations; points behind the camera or outside the image bounds
// are excluded from the rendered depth image only. See DESIGN.md.
type DepthImageGenerator struct {
	intrinsics *PinholeCameraIntrinsics
	kernel     int
}

// NewDepthImageGenerator validates the intrinsics and the pooling kernel size,
// which must be a positive odd integer.
func NewDepthImageGenerator(intrinsics *PinholeCameraIntrinsics, kernel int) (*DepthImageGenerator, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if kernel <= 0 || kernel%2 == 0 {
		return nil, errors.Errorf("pooling kernel size must be a positive odd integer, got %d", kernel)
	}
	return &DepthImageGenerator{intrinsics: intrinsics, kernel: kernel}, nil
}

// Generate applies one rigid transform per batch element to the matching cloud
// and projects the result through the pinhole model. It returns the rendered
// depth batch and the transformed clouds for the next iteration.
func (g *DepthImageGenerator) Generate(
	poses []*spatialmath.Pose, clouds pointcloud.Batch,
) (rimage.DepthBatch, pointcloud.Batch, error) {
	depth, transformed, _, err := g.generate(poses, clouds, false)
	return depth, transformed, err
}

// GenerateWithGrad is Generate plus a backward pass handle for routing
// depth-image gradients back to the pose and the input cloud.
func (g *DepthImageGenerator) GenerateWithGrad(
	poses []*spatialmath.Pose, clouds pointcloud.Batch,
) (rimage.DepthBatch, pointcloud.Batch, *DepthBackward, error) {
	depth, transformed, selected, err := g.generate(poses, clouds, true)
	if err != nil {
		return nil, nil, nil, err
	}
	bk := &DepthBackward{
		generator: g,
		poses:     poses,
		inputs:    clouds,
		selected:  selected,
	}
	return depth, transformed, bk, nil
}

func (g *DepthImageGenerator) generate(
	poses []*spatialmath.Pose, clouds pointcloud.Batch, keepSelection bool,
) (rimage.DepthBatch, pointcloud.Batch, [][]int, error) {
	if err := clouds.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if len(poses) != len(clouds) {
		return nil, nil, nil, errors.Errorf(
			"pose batch size %d does not match cloud batch size %d", len(poses), len(clouds))
	}

	w, h := g.intrinsics.Width, g.intrinsics.Height
	depth := make(rimage.DepthBatch, len(clouds))
	transformed := make(pointcloud.Batch, len(clouds))
	var selected [][]int
	if keepSelection {
		selected = make([][]int, len(clouds))
	}

	for b := range clouds {
		pts := clouds[b].Transform(poses[b])
		transformed[b] = pts

		// Scatter pass: per-pixel minimum positive depth among the points that
		// project there, remembering which point supplied it.
		cand := make([]float64, w*h)
		candIdx := make([]int, w*h)
		for i := range cand {
			cand[i] = rimage.NoDepth
			candIdx[i] = -1
		}
		for i, pt := range pts {
			if pt.Z <= 0 {
				continue
			}
			u, v := g.intrinsics.PointToPixel(pt.X, pt.Y, pt.Z)
			x, y := int(math.Floor(u)), int(math.Floor(v))
			if x < 0 || x >= w || y < 0 || y >= h {
				continue
			}
			idx := y*w + x
			if pt.Z < cand[idx] {
				cand[idx] = pt.Z
				candIdx[idx] = i
			}
		}

		// Pooling pass: windowed minimum over the scattered candidates turns
		// the sparse scatter into a semi-dense image.
		dm := rimage.NewEmptyDepthMap(w, h)
		sel := make([]int, w*h)
		r := g.kernel / 2
		utils.ParallelRanges(h, minRowsPerWorker, func(fromRow, toRow int) {
			for y := fromRow; y < toRow; y++ {
				for x := 0; x < w; x++ {
					best := rimage.NoDepth
					bestIdx := -1
					for wy := y - r; wy <= y+r; wy++ {
						if wy < 0 || wy >= h {
							continue
						}
						for wx := x - r; wx <= x+r; wx++ {
							if wx < 0 || wx >= w {
								continue
							}
							if d := cand[wy*w+wx]; d < best {
								best = d
								bestIdx = candIdx[wy*w+wx]
							}
						}
					}
					sel[y*w+x] = bestIdx
					if bestIdx >= 0 {
						dm.Set(x, y, best)
					}
				}
			}
		})
		depth[b] = dm
		if keepSelection {
			selected[b] = sel
		}
	}
	return depth, transformed, selected, nil
}

// DepthBackward carries the pooling selection of one GenerateWithGrad call so
// that depth-image gradients can be routed back through it.
type DepthBackward struct {
	generator *DepthImageGenerator
	poses     []*spatialmath.Pose
	inputs    pointcloud.Batch
	selected  [][]int
}

// Backward consumes per-pixel gradients gDepth (row-major, one slice of
// width*height values per batch element) and returns the gradients with
// respect to the input clouds, the rotation blocks, and the translations.
//
// Each valid output pixel reports the z coordinate of exactly one selected
// point, so its gradient flows only to that point (standard min-pooling
// subgradient). The discretized pixel indices carry no gradient.
func (bk *DepthBackward) Backward(gDepth [][]float64) (pointcloud.Batch, []*mat.Dense, []r3.Vector, error) {
	if len(gDepth) != len(bk.inputs) {
		return nil, nil, nil, errors.Errorf(
			"gradient batch size %d does not match cloud batch size %d", len(gDepth), len(bk.inputs))
	}
	w, h := bk.generator.intrinsics.Width, bk.generator.intrinsics.Height
	gClouds := make(pointcloud.Batch, len(bk.inputs))
	gRots := make([]*mat.Dense, len(bk.inputs))
	gTrans := make([]r3.Vector, len(bk.inputs))
	for b := range bk.inputs {
		if len(gDepth[b]) != w*h {
			return nil, nil, nil, errors.Errorf(
				"gradient %d has %d values, expected %d", b, len(gDepth[b]), w*h)
		}
		gPts := make(pointcloud.Cloud, len(bk.inputs[b]))
		for idx, gv := range gDepth[b] {
			if gv == 0 {
				continue
			}
			i := bk.selected[b][idx]
			if i < 0 {
				continue
			}
			gPts[i].Z += gv
		}
		var err error
		gClouds[b], gRots[b], gTrans[b], err = pointcloud.TransformBackward(bk.inputs[b], bk.poses[b], gPts)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return gClouds, gRots, gTrans, nil
}
