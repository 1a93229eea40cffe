package interfaces

import "encoding/binary"

// HardwareModuleStateTypeID is the wire type id of the lifecycle state
// payload.
const HardwareModuleStateTypeID = "intrinsic_fbs.HardwareModuleState"

// ModuleStateMessageSize bounds the fault message carried alongside the
// state code.
const ModuleStateMessageSize = 256

// HardwareModuleStatePayloadSize is the byte size of the payload: a uint32
// state code, a uint32 message length and the fixed message buffer.
const HardwareModuleStatePayloadSize = 4 + 4 + ModuleStateMessageSize

// HardwareModuleState views a lifecycle state code plus a human readable
// message, typically a fault description.
type HardwareModuleState struct {
	data []byte
}

// WrapHardwareModuleState wraps payload bytes in a HardwareModuleState view.
func WrapHardwareModuleState(data []byte) *HardwareModuleState {
	return &HardwareModuleState{data: data}
}

// Code returns the lifecycle state code.
func (s *HardwareModuleState) Code() StateCode {
	return StateCode(binary.LittleEndian.Uint32(s.data[0:4]))
}

// Message returns the message accompanying the state, usually empty unless
// the module is faulted.
func (s *HardwareModuleState) Message() string {
	n := binary.LittleEndian.Uint32(s.data[4:8])
	if n > ModuleStateMessageSize {
		n = ModuleStateMessageSize
	}
	return string(s.data[8 : 8+n])
}

// Set stores a state code and message. Messages longer than
// ModuleStateMessageSize are truncated.
func (s *HardwareModuleState) Set(code StateCode, message string) {
	binary.LittleEndian.PutUint32(s.data[0:4], uint32(code))
	if len(message) > ModuleStateMessageSize {
		message = message[:ModuleStateMessageSize]
	}
	binary.LittleEndian.PutUint32(s.data[4:8], uint32(len(message)))
	copy(s.data[8:8+ModuleStateMessageSize], message)
	for i := 8 + len(message); i < 8+ModuleStateMessageSize; i++ {
		s.data[i] = 0
	}
}

// HardwareModuleStateType is the typed descriptor for the lifecycle state
// payload.
var HardwareModuleStateType = InterfaceType[*HardwareModuleState]{
	ID:   HardwareModuleStateTypeID,
	Wrap: WrapHardwareModuleState,
}
