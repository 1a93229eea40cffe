package hal

import ifc "go.viam.com/icon/hal/interfaces"

// TransitionResult classifies a requested lifecycle transition.
type TransitionResult int

const (
	// TransitionProhibited means the transition is illegal and must not
	// be applied.
	TransitionProhibited TransitionResult = iota
	// TransitionAllowed means the transition is legal.
	TransitionAllowed
	// TransitionNoOp means the transition is a harmless duplicate, e.g.
	// enabling motion while already enabling. The state does not change
	// and no error is raised.
	TransitionNoOp
)

func (r TransitionResult) String() string {
	switch r {
	case TransitionProhibited:
		return "Prohibited"
	case TransitionAllowed:
		return "Allowed"
	case TransitionNoOp:
		return "NoOp"
	default:
		return "Unknown"
	}
}

// CheckTransition encodes the lifecycle state diagram as a pure function.
// FatallyFaulted is reachable from every state as an absorbing escape
// hatch; InitFailed and FatallyFaulted accept no transitions out.
func CheckTransition(from, to ifc.StateCode) TransitionResult {
	if to == ifc.StateFatallyFaulted {
		return TransitionAllowed
	}

	switch from {
	case ifc.StateDeactivating:
		if to == ifc.StateDeactivated {
			return TransitionAllowed
		}
		return TransitionProhibited

	case ifc.StateDeactivated:
		switch to {
		case ifc.StateDeactivating:
			return TransitionNoOp
		case ifc.StateActivating, ifc.StatePreparing, ifc.StateInitFailed:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StatePreparing:
		switch to {
		case ifc.StatePrepared, ifc.StateFaulted:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StatePrepared:
		switch to {
		case ifc.StatePreparing:
			return TransitionNoOp
		case ifc.StateActivating, ifc.StateDeactivating:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateActivating:
		switch to {
		case ifc.StateActivated, ifc.StateFaulted:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateActivated:
		switch to {
		case ifc.StateMotionDisabling, ifc.StateClearingFaults:
			return TransitionNoOp
		case ifc.StateActivating, ifc.StateMotionEnabling,
			ifc.StateDeactivating, ifc.StateFaulted:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateMotionEnabling:
		switch to {
		case ifc.StateActivating, ifc.StateDeactivating,
			ifc.StateMotionEnabled, ifc.StateFaulted:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateMotionEnabled:
		switch to {
		case ifc.StateMotionEnabling, ifc.StateClearingFaults:
			return TransitionNoOp
		case ifc.StateMotionDisabling, ifc.StateFaulted,
			ifc.StateDeactivating, ifc.StateActivating:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateMotionDisabling:
		switch to {
		case ifc.StateFaulted, ifc.StateActivated,
			ifc.StateActivating, ifc.StateDeactivating:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateFaulted:
		switch to {
		case ifc.StateClearingFaults, ifc.StateDeactivating,
			ifc.StateActivating, ifc.StateFaulted:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateClearingFaults:
		switch to {
		case ifc.StateActivating, ifc.StateDeactivating,
			ifc.StateFaulted, ifc.StateActivated:
			return TransitionAllowed
		default:
			return TransitionProhibited
		}

	case ifc.StateInitFailed, ifc.StateFatallyFaulted:
		return TransitionProhibited
	}
	return TransitionProhibited
}
