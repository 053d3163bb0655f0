// Package loss implements the two geometric training signals of the
// calibration refinement pipeline, each with a manual backward pass: a
// photometric depth-consistency loss and a bidirectional chamfer distance.
package loss

import "github.com/pkg/errors"

// Reduction selects how per-item terms collapse to a scalar.
type Reduction string

// Supported reductions.
const (
	ReductionSum  = Reduction("sum")
	ReductionMean = Reduction("mean")
)

func (r Reduction) validate() error {
	switch r {
	case ReductionSum, ReductionMean:
		return nil
	default:
		return errors.Errorf("unknown reduction %q", string(r))
	}
}

func checkScale(scale float64) error {
	if scale <= 0 {
		return errors.Errorf("loss scale factor must be positive, got %v", scale)
	}
	return nil
}
