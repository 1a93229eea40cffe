// Package hal implements the hardware abstraction runtime of a real-time
// robot controller. A hardware module process advertises typed shared
// memory interfaces through a Registry, a Runtime drives the module's
// lifecycle state machine, and a Validator gates command application on
// same-cycle freshness.
package hal

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.viam.com/icon/logging"
)

// Module is the contract every hardware driver implements. The Runtime
// calls Init exactly once before anything else; ReadStatus and ApplyCommand
// run on the real-time thread every control cycle and must not block.
//
// Any method may return an error built with FatalError to signal an
// unrecoverable fault; the runtime then enters its terminal fatally
// faulted state and the process must be restarted.
type Module interface {
	// Init advertises the module's hardware interfaces on the registry
	// and prepares the driver. Failure leaves the module in InitFailed.
	Init(ctx context.Context, ictx *InitContext) error

	// Prepare runs optional long-running bring-up (e.g. firmware load)
	// before activation. Modules without a prepare phase return nil.
	Prepare(ctx context.Context) error

	// Activate readies the hardware for cyclic operation. The real-time
	// loop is guaranteed not to be running during this call.
	Activate() error

	// Deactivate releases the hardware after the real-time loop stopped.
	Deactivate() error

	// EnableMotion powers actuators so commands take physical effect.
	EnableMotion(ctx context.Context) error

	// DisableMotion removes actuator power while staying activated.
	DisableMotion(ctx context.Context) error

	// ClearFaults attempts to recover from a recoverable fault.
	ClearFaults(ctx context.Context) error

	// ReadStatus refreshes all state interfaces from the hardware. Called
	// once per control cycle, before ApplyCommand.
	ReadStatus() error

	// ApplyCommand forwards the current command interfaces to the
	// hardware. Only called while motion is enabled.
	ApplyCommand() error

	// Shutdown releases all driver resources. Called exactly once when
	// the runtime stops.
	Shutdown(ctx context.Context) error
}

// MotionNotifier is an optional extension of Module. Enabled is called on
// the real-time thread in the first cycle after motion became enabled,
// before ReadStatus; Disabled in the first cycle after it stopped being
// enabled.
type MotionNotifier interface {
	Enabled()
	Disabled()
}

// InitContext hands a module everything it needs during Init.
type InitContext struct {
	Registry *Registry
	Config   ModuleConfig
	Logger   logging.Logger
}

// FatalError builds an error that the runtime escalates to the terminal
// fatally faulted state instead of the recoverable faulted state.
func FatalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Aborted, format, args...)
}

// IsFatal reports whether err requests fatal fault escalation.
func IsFatal(err error) bool {
	return status.Code(err) == codes.Aborted
}
