package interfaces

// StateCode enumerates the lifecycle states of a hardware module. The
// numeric values are part of the shared memory wire format.
type StateCode uint32

const (
	StateDeactivated StateCode = iota
	StateDeactivating
	StateActivating
	StateActivated
	StateMotionEnabling
	StateMotionEnabled
	StateMotionDisabling
	StateFaulted
	StateClearingFaults
	StateInitFailed
	StateFatallyFaulted
	StatePreparing
	StatePrepared
)

func (c StateCode) String() string {
	switch c {
	case StateDeactivated:
		return "Deactivated"
	case StateDeactivating:
		return "Deactivating"
	case StateActivating:
		return "Activating"
	case StateActivated:
		return "Activated"
	case StateMotionEnabling:
		return "MotionEnabling"
	case StateMotionEnabled:
		return "MotionEnabled"
	case StateMotionDisabling:
		return "MotionDisabling"
	case StateFaulted:
		return "Faulted"
	case StateClearingFaults:
		return "ClearingFaults"
	case StateInitFailed:
		return "InitFailed"
	case StateFatallyFaulted:
		return "FatallyFaulted"
	case StatePreparing:
		return "Preparing"
	case StatePrepared:
		return "Prepared"
	default:
		return "Unknown"
	}
}
