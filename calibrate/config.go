// Package calibrate orchestrates iterative camera/LiDAR extrinsic refinement:
// an external predictor proposes a small twist correction, the twist maps onto
// SE(3), the correction folds into an accumulated transform, and the point
// cloud is reprojected for the next round.
package calibrate

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/calib/loss"
)

// Config holds the externally supplied refinement parameters.
type Config struct {
	// Iterations is the fixed number of predict/compose/reproject rounds per
	// refinement run.
	Iterations int `json:"iterations"`
	// PoolingKernel is the odd window size of the nearest-surface depth
	// pooling.
	PoolingKernel int `json:"pooling_kernel"`
	// Scale normalizes point and depth magnitudes before loss computation.
	Scale float64 `json:"scale"`
	// Alpha weights the photometric loss term.
	Alpha float64 `json:"alpha"`
	// Beta weights the chamfer loss term.
	Beta float64 `json:"beta"`
	// Reduction selects sum or mean reduction inside both loss terms.
	Reduction loss.Reduction `json:"reduction"`
}

// DefaultConfig mirrors the parameters the refinement pipeline ships with.
func DefaultConfig() Config {
	return Config{
		Iterations:    6,
		PoolingKernel: 5,
		Scale:         50.0,
		Alpha:         1.0,
		Beta:          0.15,
		Reduction:     loss.ReductionSum,
	}
}

// Validate reports every violated constraint, aggregated.
func (c *Config) Validate() error {
	var err error
	if c.Iterations <= 0 {
		err = multierr.Append(err, errors.Errorf("iterations must be positive, got %d", c.Iterations))
	}
	if c.PoolingKernel <= 0 || c.PoolingKernel%2 == 0 {
		err = multierr.Append(err, errors.Errorf("pooling kernel must be a positive odd integer, got %d", c.PoolingKernel))
	}
	if c.Scale <= 0 {
		err = multierr.Append(err, errors.Errorf("scale must be positive, got %v", c.Scale))
	}
	if c.Alpha < 0 {
		err = multierr.Append(err, errors.Errorf("alpha must be non-negative, got %v", c.Alpha))
	}
	if c.Beta < 0 {
		err = multierr.Append(err, errors.Errorf("beta must be non-negative, got %v", c.Beta))
	}
	return err
}
