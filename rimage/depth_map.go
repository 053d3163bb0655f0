// Package rimage provides the semi-dense depth images exchanged between the
// depth reprojector, the losses, and the external predictor.
package rimage

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NoDepth marks a pixel that received no projected point. It is deliberately
// not zero: zero is a legal (if degenerate) depth, and min-reductions over
// candidate depths want an absorbing empty value.
var NoDepth = math.Inf(1)

// DepthMap is a dense 2D array of depth values in which only pixels hit by a
// projected point carry data; all other pixels hold the NoDepth sentinel.
type DepthMap struct {
	width  int
	height int
	data   []float64
}

// NewEmptyDepthMap returns a depth map of the given size with every pixel
// marked empty.
func NewEmptyDepthMap(width, height int) *DepthMap {
	dm := &DepthMap{width: width, height: height, data: make([]float64, width*height)}
	for i := range dm.data {
		dm.data[i] = NoDepth
	}
	return dm
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// GetDepth returns the depth at column x, row y.
func (dm *DepthMap) GetDepth(x, y int) float64 {
	return dm.data[y*dm.width+x]
}

// Set writes the depth at column x, row y.
func (dm *DepthMap) Set(x, y int, val float64) {
	dm.data[y*dm.width+x] = val
}

// IsValid reports whether the pixel at column x, row y holds data.
func (dm *DepthMap) IsValid(x, y int) bool {
	return !math.IsInf(dm.data[y*dm.width+x], 1)
}

// ValidCount returns the number of non-empty pixels.
func (dm *DepthMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if !math.IsInf(d, 1) {
			n++
		}
	}
	return n
}

// Clone returns an independent copy of the depth map.
func (dm *DepthMap) Clone() *DepthMap {
	out := &DepthMap{width: dm.width, height: dm.height, data: make([]float64, len(dm.data))}
	copy(out.data, dm.data)
	return out
}

// DepthBatch is one depth map per batch element.
type DepthBatch []*DepthMap

// Validate rejects empty batches, nil members, and inconsistent dimensions.
func (db DepthBatch) Validate() error {
	if len(db) == 0 {
		return errors.New("empty depth map batch")
	}
	w, h := db[0].width, db[0].height
	for i, dm := range db {
		if dm == nil {
			return errors.Errorf("depth map %d in batch is nil", i)
		}
		if dm.width != w || dm.height != h {
			return errors.Errorf("depth map %d is %dx%d, batch is %dx%d", i, dm.width, dm.height, w, h)
		}
	}
	return nil
}

// Clone returns an independent copy of the batch.
func (db DepthBatch) Clone() DepthBatch {
	out := make(DepthBatch, len(db))
	for i, dm := range db {
		out[i] = dm.Clone()
	}
	return out
}

// Tensor exports the batch as a (B,1,H,W) float64 tensor for the predictor.
// Empty pixels are written as zero, the conventional no-data value on the
// model side of the contract.
func (db DepthBatch) Tensor() (*tensor.Dense, error) {
	if err := db.Validate(); err != nil {
		return nil, err
	}
	w, h := db[0].width, db[0].height
	backing := make([]float64, len(db)*h*w)
	for b, dm := range db {
		base := b * h * w
		for i, d := range dm.data {
			if !math.IsInf(d, 1) {
				backing[base+i] = d
			}
		}
	}
	return tensor.New(tensor.WithShape(len(db), 1, h, w), tensor.WithBacking(backing)), nil
}

// DepthBatchFromTensor converts a (B,1,H,W) float64 tensor back into a depth
// batch, mapping zeros to the empty sentinel.
func DepthBatchFromTensor(t *tensor.Dense) (DepthBatch, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[1] != 1 {
		return nil, errors.Errorf("expected shape (B,1,H,W), got %v", shape)
	}
	backing, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("expected float64 tensor, got %T", t.Data())
	}
	b, h, w := shape[0], shape[2], shape[3]
	out := make(DepthBatch, b)
	for bi := 0; bi < b; bi++ {
		dm := NewEmptyDepthMap(w, h)
		base := bi * h * w
		for i, v := range backing[base : base+h*w] {
			if v != 0 {
				dm.data[i] = v
			}
		}
		out[bi] = dm
	}
	return out, nil
}
