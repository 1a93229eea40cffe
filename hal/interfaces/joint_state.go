package interfaces

import (
	"encoding/binary"
	"math"
)

// Wire type ids of the per-joint state and command payloads.
const (
	JointPositionStateTypeID     = "intrinsic_fbs.JointPositionState"
	JointVelocityStateTypeID     = "intrinsic_fbs.JointVelocityState"
	JointAccelerationStateTypeID = "intrinsic_fbs.JointAccelerationState"
	JointPositionCommandTypeID   = "intrinsic_fbs.JointPositionCommand"
)

// JointArraySize returns the payload size of a joint array with the given
// number of degrees of freedom.
func JointArraySize(dof int) int { return 8 * dof }

// jointArray is a flat float64 array over mapped payload bytes, shared by
// all joint state and command views.
type jointArray struct {
	data []byte
}

// Size returns the number of joints in the array.
func (a jointArray) Size() int { return len(a.data) / 8 }

// Get returns the value of joint i.
func (a jointArray) Get(i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(a.data[8*i:]))
}

// Set stores the value of joint i.
func (a jointArray) Set(i int, v float64) {
	binary.LittleEndian.PutUint64(a.data[8*i:], math.Float64bits(v))
}

// Values copies the array out.
func (a jointArray) Values() []float64 {
	out := make([]float64, a.Size())
	for i := range out {
		out[i] = a.Get(i)
	}
	return out
}

// SetValues copies vals into the array. Extra values are ignored.
func (a jointArray) SetValues(vals []float64) {
	n := a.Size()
	for i, v := range vals {
		if i >= n {
			return
		}
		a.Set(i, v)
	}
}

// JointPositionState holds measured joint positions in radians.
type JointPositionState struct{ jointArray }

// WrapJointPositionState wraps payload bytes in a JointPositionState view.
func WrapJointPositionState(data []byte) *JointPositionState {
	return &JointPositionState{jointArray{data}}
}

// JointVelocityState holds measured joint velocities in radians per second.
type JointVelocityState struct{ jointArray }

// WrapJointVelocityState wraps payload bytes in a JointVelocityState view.
func WrapJointVelocityState(data []byte) *JointVelocityState {
	return &JointVelocityState{jointArray{data}}
}

// JointAccelerationState holds measured joint accelerations.
type JointAccelerationState struct{ jointArray }

// WrapJointAccelerationState wraps payload bytes in a JointAccelerationState
// view.
func WrapJointAccelerationState(data []byte) *JointAccelerationState {
	return &JointAccelerationState{jointArray{data}}
}

// JointPositionCommand holds commanded joint positions in radians.
type JointPositionCommand struct{ jointArray }

// WrapJointPositionCommand wraps payload bytes in a JointPositionCommand
// view.
func WrapJointPositionCommand(data []byte) *JointPositionCommand {
	return &JointPositionCommand{jointArray{data}}
}

var (
	// JointPositionStateType is the typed descriptor for measured joint
	// positions.
	JointPositionStateType = InterfaceType[*JointPositionState]{
		ID:   JointPositionStateTypeID,
		Wrap: WrapJointPositionState,
	}
	// JointVelocityStateType is the typed descriptor for measured joint
	// velocities.
	JointVelocityStateType = InterfaceType[*JointVelocityState]{
		ID:   JointVelocityStateTypeID,
		Wrap: WrapJointVelocityState,
	}
	// JointAccelerationStateType is the typed descriptor for measured
	// joint accelerations.
	JointAccelerationStateType = InterfaceType[*JointAccelerationState]{
		ID:   JointAccelerationStateTypeID,
		Wrap: WrapJointAccelerationState,
	}
	// JointPositionCommandType is the typed descriptor for commanded
	// joint positions.
	JointPositionCommandType = InterfaceType[*JointPositionCommand]{
		ID:   JointPositionCommandTypeID,
		Wrap: WrapJointPositionCommand,
	}
)
