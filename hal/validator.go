package hal

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/shmem"
)

// Validator cross-checks a hardware interface's last-updated cycle against
// the authoritative cycle counter. This is the mechanism that prevents a
// stale command from being replayed forever after the controller missed a
// cycle.
//
// The zero value always fails with Internal, never silently passes.
type Validator struct {
	iconState *Handle[*ifc.IconState]
}

// NewValidator returns a Validator checking against the given cycle state
// interface.
func NewValidator(iconState *Handle[*ifc.IconState]) *Validator {
	return &Validator{iconState: iconState}
}

// WasUpdatedThisCycle returns nil only if the interface behind header was
// updated in the exact cycle the controller is currently in. An interface
// updated in an older cycle fails with FailedPrecondition; a cycle counter
// that was never written fails with Internal.
func (v *Validator) WasUpdatedThisCycle(header *shmem.SegmentHeader) error {
	if v == nil || v.iconState == nil {
		return status.Error(codes.Internal, "validator is not initialized")
	}
	currentCycle := v.iconState.Value().CurrentCycle()
	if v.iconState.LastUpdatedCycle() != currentCycle {
		return status.Error(codes.Internal,
			"cycle state interface was never updated")
	}
	if header.LastUpdatedCycle() != currentCycle {
		return status.Errorf(codes.FailedPrecondition,
			"interface not updated this cycle: current_cycle[%d] != command_cycle[%d]",
			currentCycle, header.LastUpdatedCycle())
	}
	return nil
}
