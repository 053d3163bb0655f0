package calibrate

import (
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.Iterations = 0
	cfg.PoolingKernel = 4
	cfg.Scale = -1
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 3)

	cfg = DefaultConfig()
	cfg.Alpha = -0.5
	cfg.Beta = -1
	err = cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 2)

	cfg = DefaultConfig()
	cfg.PoolingKernel = 1
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}
