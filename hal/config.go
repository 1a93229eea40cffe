package hal

import (
	"time"

	"github.com/pkg/errors"
)

// ModuleConfig configures one hardware module process.
type ModuleConfig struct {
	// Name of the module; becomes part of every segment name.
	Name string
	// SharedMemoryNamespace isolates segment names between deployments
	// sharing a host. May be empty.
	SharedMemoryNamespace string
	// CycleDuration is the nominal period of the control loop. It is
	// informational for the module; the cyclic triggers are driven by the
	// controller.
	CycleDuration time.Duration
	// DegreesOfFreedom of the controlled hardware.
	DegreesOfFreedom int
}

// Validate checks the config for structural errors.
func (c ModuleConfig) Validate() error {
	if c.Name == "" {
		return errors.New("module name is required")
	}
	if c.CycleDuration < 0 {
		return errors.Errorf("cycle duration %v cannot be negative", c.CycleDuration)
	}
	if c.DegreesOfFreedom < 0 {
		return errors.Errorf("degrees of freedom %d cannot be negative", c.DegreesOfFreedom)
	}
	return nil
}
