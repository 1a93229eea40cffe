package hal

import (
	"sync"

	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/logging"
	"go.viam.com/icon/shmem"
)

// Registry advertises typed hardware interfaces on top of a shared memory
// manager. Each advertised interface becomes one segment whose payload is
// initialized through the type's registered initializer.
//
// After AdvertiseHardwareInfo publishes the discovery table the registry
// is sealed; no further interfaces can be advertised.
type Registry struct {
	manager *shmem.Manager
	logger  logging.Logger

	mu            sync.Mutex
	infoPublished bool
	iconState     *Handle[*ifc.IconState]
}

// NewRegistry returns a Registry over the given manager.
func NewRegistry(manager *shmem.Manager, logger logging.Logger) *Registry {
	return &Registry{manager: manager, logger: logger}
}

// Manager returns the underlying shared memory manager.
func (r *Registry) Manager() *shmem.Manager { return r.manager }

// segmentName composes the full segment name of an interface.
func (r *Registry) segmentName(interfaceName string) string {
	return shmem.MemoryName(r.manager.Namespace(), r.manager.ModuleName(), interfaceName)
}

// addInterfaceSegment creates and initializes the segment backing one
// interface and returns its full segment name.
func (r *Registry) addInterfaceSegment(interfaceName string, mustBeUsed bool, payloadSize int, typeID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.infoPublished {
		return "", status.Errorf(codes.FailedPrecondition,
			"cannot advertise %q after the hardware info was published", interfaceName)
	}
	segName := r.segmentName(interfaceName)
	if err := r.manager.AddSegment(segName, mustBeUsed, payloadSize, typeID); err != nil {
		return "", err
	}
	value, err := r.manager.SegmentValue(segName)
	if err != nil {
		return "", err
	}
	ifc.InitializePayload(typeID, value)
	return segName, nil
}

// AdvertiseInterface advertises a state interface and returns a read-only
// handle to it. The module writes such interfaces through the manager's
// raw payload; external consumers read them.
func AdvertiseInterface[T any](r *Registry, interfaceName string, typ ifc.InterfaceType[T], payloadSize int) (*Handle[T], error) {
	segName, err := r.addInterfaceSegment(interfaceName, false, payloadSize, typ.ID)
	if err != nil {
		return nil, err
	}
	return OpenInterface(r.manager.FileDescriptorMap(), segName, typ)
}

// AdvertiseMutableInterface advertises an interface the module itself
// writes and returns a read-write handle.
func AdvertiseMutableInterface[T any](r *Registry, interfaceName string, typ ifc.InterfaceType[T], payloadSize int) (*MutableHandle[T], error) {
	segName, err := r.addInterfaceSegment(interfaceName, false, payloadSize, typ.ID)
	if err != nil {
		return nil, err
	}
	return OpenMutableInterface(r.manager.FileDescriptorMap(), segName, typ)
}

// AdvertiseStrictInterface advertises a mandatory command interface whose
// reads are gated by the same-cycle freshness check. The must-be-used flag
// in the discovery table tells the controller configuration that wiring
// this interface is not optional.
func AdvertiseStrictInterface[T any](r *Registry, interfaceName string, typ ifc.InterfaceType[T], payloadSize int) (*StrictHandle[T], error) {
	validator, err := r.Validator()
	if err != nil {
		return nil, err
	}
	segName, err := r.addInterfaceSegment(interfaceName, true, payloadSize, typ.ID)
	if err != nil {
		return nil, err
	}
	handle, err := OpenInterface(r.manager.FileDescriptorMap(), segName, typ)
	if err != nil {
		return nil, err
	}
	return &StrictHandle[T]{handle: handle, validator: validator}, nil
}

// AdvertiseMutableStrictInterface is AdvertiseStrictInterface with a
// read-write handle.
func AdvertiseMutableStrictInterface[T any](r *Registry, interfaceName string, typ ifc.InterfaceType[T], payloadSize int) (*MutableStrictHandle[T], error) {
	validator, err := r.Validator()
	if err != nil {
		return nil, err
	}
	segName, err := r.addInterfaceSegment(interfaceName, true, payloadSize, typ.ID)
	if err != nil {
		return nil, err
	}
	handle, err := OpenMutableInterface(r.manager.FileDescriptorMap(), segName, typ)
	if err != nil {
		return nil, err
	}
	return &MutableStrictHandle[T]{handle: handle, validator: validator}, nil
}

// AdvertiseIconState advertises the reserved cycle state interface. The
// controller opens it writable and publishes its cycle counter through it;
// strict handles in this process validate against it.
func (r *Registry) AdvertiseIconState() (*Handle[*ifc.IconState], error) {
	handle, err := AdvertiseInterface(r, ifc.IconStateInterfaceName,
		ifc.IconStateType, ifc.IconStatePayloadSize)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.iconState = handle
	r.mu.Unlock()
	return handle, nil
}

// IconState returns the handle to the advertised cycle state interface.
func (r *Registry) IconState() (*Handle[*ifc.IconState], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.iconState == nil {
		return nil, status.Error(codes.FailedPrecondition,
			"cycle state interface is not advertised yet")
	}
	return r.iconState, nil
}

// Validator returns a freshness validator bound to the advertised cycle
// state interface. Fails until AdvertiseIconState was called.
func (r *Registry) Validator() (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.iconState == nil {
		return nil, status.Error(codes.FailedPrecondition,
			"cycle state interface is not advertised yet")
	}
	return NewValidator(r.iconState), nil
}

// AdvertiseHardwareInfo publishes the segment discovery table and seals
// the registry. Must be called exactly once, after all interfaces are
// advertised; external processes cannot open any interface before this.
func (r *Registry) AdvertiseHardwareInfo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.infoPublished {
		return status.Error(codes.FailedPrecondition,
			"hardware info was already published")
	}
	info, err := r.manager.GetSegmentInfo().Marshal()
	if err != nil {
		return err
	}
	infoName := shmem.ModuleInfoName(r.manager.Namespace(), r.manager.ModuleName())
	if err := r.manager.AddSegment(infoName, false, len(info), shmem.SegmentInfoTypeID); err != nil {
		return err
	}
	value, err := r.manager.SegmentValue(infoName)
	if err != nil {
		return err
	}
	copy(value, info)
	r.infoPublished = true
	return nil
}

// FileDescriptorMap returns the map external consumers use to open this
// module's interfaces. It fails gracefully until the hardware info is
// published so nobody can attach to a half-advertised module.
func (r *Registry) FileDescriptorMap() (shmem.SegmentNameToFileDescriptorMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.infoPublished {
		return nil, status.Error(codes.FailedPrecondition,
			"hardware info is not published yet")
	}
	return r.manager.FileDescriptorMap(), nil
}

// OpenInterface maps an interface read-only from a file descriptor map and
// verifies its type id.
func OpenInterface[T any](fdMap shmem.SegmentNameToFileDescriptorMap, segmentName string, typ ifc.InterfaceType[T]) (*Handle[T], error) {
	seg, err := shmem.OpenReadOnly(fdMap, segmentName)
	if err != nil {
		return nil, err
	}
	if err := verifyTypeID(seg.Header(), segmentName, typ.ID); err != nil {
		return nil, multierrClose(err, seg.Close)
	}
	return &Handle[T]{seg: seg, value: typ.Wrap(seg.Value())}, nil
}

// OpenMutableInterface maps an interface read-write from a file descriptor
// map and verifies its type id.
func OpenMutableInterface[T any](fdMap shmem.SegmentNameToFileDescriptorMap, segmentName string, typ ifc.InterfaceType[T]) (*MutableHandle[T], error) {
	seg, err := shmem.OpenReadWrite(fdMap, segmentName)
	if err != nil {
		return nil, err
	}
	if err := verifyTypeID(seg.Header(), segmentName, typ.ID); err != nil {
		return nil, multierrClose(err, seg.Close)
	}
	return &MutableHandle[T]{seg: seg, value: typ.Wrap(seg.Value())}, nil
}

func verifyTypeID(header *shmem.SegmentHeader, segmentName, want string) error {
	if got := header.TypeID(); got != want {
		return status.Errorf(codes.InvalidArgument,
			"segment %q holds type %q, expected %q", segmentName, got, want)
	}
	return nil
}

func multierrClose(err error, close func() error) error {
	return multierr.Combine(err, close())
}
