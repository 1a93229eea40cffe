package interfaces

import "sync"

// Initializer writes the initial payload of a freshly created segment.
// Most payloads start zeroed; types with a non-zero initial state (such as
// the cycle counter) register one of these.
type Initializer func(payload []byte)

var (
	initializersMu sync.Mutex
	initializers   = map[string]Initializer{}
)

// RegisterInitializer associates an initializer with a wire type id.
// Called from init() of the payload type's file; later registrations for
// the same id overwrite earlier ones.
func RegisterInitializer(typeID string, init Initializer) {
	initializersMu.Lock()
	defer initializersMu.Unlock()
	initializers[typeID] = init
}

// InitializePayload runs the registered initializer for typeID, if any.
// Payloads without one are left zeroed, which is their initial state.
func InitializePayload(typeID string, payload []byte) {
	initializersMu.Lock()
	init, ok := initializers[typeID]
	initializersMu.Unlock()
	if ok {
		init(payload)
	}
}

// InterfaceType describes one payload type: its wire type id and how to
// wrap raw segment bytes into the typed view.
type InterfaceType[T any] struct {
	ID   string
	Wrap func([]byte) T
}
