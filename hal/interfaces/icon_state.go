package interfaces

import (
	"encoding/binary"
	"math"
)

// IconStateTypeID is the wire type id of the control cycle state payload.
const IconStateTypeID = "intrinsic_fbs.IconState"

// IconStateInterfaceName is the reserved interface name under which every
// module's control cycle state is published.
const IconStateInterfaceName = "icon_state"

// IconStatePayloadSize is the byte size of the payload: one uint64 cycle
// counter.
const IconStatePayloadSize = 8

// IconState views the control cycle counter the real-time loop publishes
// every cycle. A counter of MaxUint64 means the loop has never run.
type IconState struct {
	data []byte
}

// WrapIconState wraps payload bytes in an IconState view.
func WrapIconState(data []byte) *IconState {
	return &IconState{data: data}
}

// CurrentCycle returns the cycle counter.
func (s *IconState) CurrentCycle() uint64 {
	return binary.LittleEndian.Uint64(s.data[0:8])
}

// SetCurrentCycle stores the cycle counter.
func (s *IconState) SetCurrentCycle(cycle uint64) {
	binary.LittleEndian.PutUint64(s.data[0:8], cycle)
}

// IconStateType is the typed descriptor for the cycle state payload.
var IconStateType = InterfaceType[*IconState]{
	ID:   IconStateTypeID,
	Wrap: WrapIconState,
}

func init() {
	// The counter starts at its maximum so a freshly created segment is
	// distinguishable from one that completed cycle zero.
	RegisterInitializer(IconStateTypeID, func(payload []byte) {
		WrapIconState(payload).SetCurrentCycle(math.MaxUint64)
	})
}
