package shmem

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.viam.com/icon/logging"
)

// MaxSegments is the maximum number of segments a single Manager tracks.
// It bounds the size of the segment info table published for discovery.
const MaxSegments = 200

// shmDir is where named POSIX shared memory objects live on Linux.
const shmDir = "/dev/shm"

type managedSegment struct {
	data       []byte
	fd         int
	size       int
	mustBeUsed bool
	// Whether this Manager created the backing object and therefore
	// unlinks it on Close. False for stale objects reused from a crashed
	// prior run only if creation was not ours; reuse still sets this so
	// the segment is cleaned up.
	created bool
}

// Manager creates and owns the shared memory segments of one hardware
// module process. It initializes each segment's header exactly once at
// creation time and unlinks everything it created on Close.
type Manager struct {
	moduleName string
	namespace  string
	logger     logging.Logger
	segments   map[string]*managedSegment
}

// NewManager returns a Manager for the given shared memory namespace and
// module name. The module name cannot be empty.
func NewManager(namespace, moduleName string, logger logging.Logger) (*Manager, error) {
	if moduleName == "" {
		return nil, status.Error(codes.InvalidArgument, "module name cannot be empty")
	}
	return &Manager{
		moduleName: moduleName,
		namespace:  namespace,
		logger:     logger,
		segments:   map[string]*managedSegment{},
	}, nil
}

// ModuleName returns the name of the module owning this manager.
func (m *Manager) ModuleName() string { return m.moduleName }

// Namespace returns the shared memory namespace of this manager.
func (m *Manager) Namespace() string { return m.namespace }

// AddSegment creates a new shared memory segment of HeaderSize+payloadSize
// bytes and initializes its header.
//
// Returns InvalidArgument for malformed names or an oversized type id,
// AlreadyExists if this manager already owns a segment with the name and
// ResourceExhausted above MaxSegments.
//
// If the underlying OS object already exists (stale from a crashed prior
// run), the segment is reused after verifying its size; a header version
// mismatch is logged, not fixed up. This is a deliberate best-effort
// recovery policy.
func (m *Manager) AddSegment(name string, mustBeUsed bool, payloadSize int, typeID string) error {
	if len(m.segments) >= MaxSegments {
		return status.Errorf(codes.ResourceExhausted,
			"unable to add %q: max number of segments (%d) exceeded", name, MaxSegments)
	}
	if len(typeID) > MaxTypeIDLength {
		return status.Errorf(codes.InvalidArgument,
			"type id %q exceeds max size of %d", typeID, MaxTypeIDLength)
	}
	if payloadSize <= 0 {
		return status.Errorf(codes.InvalidArgument,
			"segment %q must have a payload of at least one byte", name)
	}
	if _, ok := m.segments[name]; ok {
		return status.Errorf(codes.AlreadyExists, "segment %q exists already", name)
	}
	if err := VerifySegmentName(name); err != nil {
		return err
	}

	segmentSize := HeaderSize + payloadSize
	path := filepath.Join(shmDir, name[1:])

	reused := false
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o660)
	switch {
	case err == nil:
		if err := unix.Ftruncate(fd, int64(segmentSize)); err != nil {
			unix.Close(fd) //nolint:errcheck
			unix.Unlink(path) //nolint:errcheck
			return status.Errorf(codes.Internal,
				"unable to resize segment %q: %v", name, err)
		}
	case errors.Is(err, unix.EEXIST):
		// Stale object from a crashed prior run. Reuse it if the size
		// matches so that still-attached readers keep a consistent view.
		fd, err = unix.Open(path, unix.O_RDWR, 0o660)
		if err != nil {
			return status.Errorf(codes.Internal,
				"unable to open existing segment %q: %v", name, err)
		}
		var stat unix.Stat_t
		if err := unix.Fstat(fd, &stat); err != nil {
			unix.Close(fd) //nolint:errcheck
			return status.Errorf(codes.Internal,
				"failed to stat existing segment %q: %v", name, err)
		}
		if int(stat.Size) != segmentSize {
			unix.Close(fd) //nolint:errcheck
			return status.Errorf(codes.InvalidArgument,
				"existing segment %q has size %d, expected %d",
				name, stat.Size, segmentSize)
		}
		m.logger.Warnw("reusing existing shared memory segment, likely left over from a crashed run",
			"segment", name)
		reused = true
	default:
		return status.Errorf(codes.Internal,
			"failed to create segment %q: %v", name, err)
	}

	data, err := unix.Mmap(fd, 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd) //nolint:errcheck
		return status.Errorf(codes.Internal,
			"unable to map segment %q: %v", name, err)
	}
	// Major faults are not acceptable once the real-time loop runs. Lock
	// the pages when allowed; without CAP_IPC_LOCK this fails and the
	// segment still works, just without the latency guarantee.
	if err := unix.Mlock(data); err != nil {
		m.logger.Warnw("unable to mlock shared memory segment", "segment", name, "error", err)
	}

	header := headerAt(data)
	if reused {
		if header.Version() != SegmentVersion {
			m.logger.Warnw("existing shared memory segment has unexpected header version",
				"segment", name, "version", header.Version(), "expected", SegmentVersion)
		}
	} else {
		header.init(typeID)
	}

	m.segments[name] = &managedSegment{
		data:       data,
		fd:         fd,
		size:       segmentSize,
		mustBeUsed: mustBeUsed,
		created:    true,
	}
	return nil
}

// SegmentHeader returns the header of a segment owned by this manager.
func (m *Manager) SegmentHeader(name string) (*SegmentHeader, error) {
	seg, ok := m.segments[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "segment %q not registered", name)
	}
	return headerAt(seg.data), nil
}

// SegmentValue returns the payload bytes of a segment owned by this
// manager. The initial payload is written through this slice right after
// AddSegment.
func (m *Manager) SegmentValue(name string) ([]byte, error) {
	seg, ok := m.segments[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "segment %q not registered", name)
	}
	return seg.data[HeaderSize:], nil
}

// SegmentNames returns the names of all registered segments, sorted.
func (m *Manager) SegmentNames() []string {
	names := make([]string, 0, len(m.segments))
	for name := range m.segments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileDescriptorMap returns a name to file descriptor map for all owned
// segments. The domain-socket server hands this map to other processes.
func (m *Manager) FileDescriptorMap() SegmentNameToFileDescriptorMap {
	fdMap := make(SegmentNameToFileDescriptorMap, len(m.segments))
	for name, seg := range m.segments {
		fdMap[name] = seg.fd
	}
	return fdMap
}

// GetSegmentInfo returns the discovery table of all registered segments
// and whether each one must be used by the controller configuration.
func (m *Manager) GetSegmentInfo() SegmentInfo {
	info := SegmentInfo{}
	for _, name := range m.SegmentNames() {
		info.Segments = append(info.Segments, SegmentDescriptor{
			Name:       name,
			MustBeUsed: m.segments[name].mustBeUsed,
		})
	}
	return info
}

// Close unmaps, closes and unlinks every segment this manager created.
func (m *Manager) Close() error {
	var result error
	for name, seg := range m.segments {
		if err := unix.Munmap(seg.data); err != nil {
			result = multierr.Combine(result, errors.Wrapf(err, "failed to unmap segment %q", name))
		}
		if err := unix.Close(seg.fd); err != nil {
			result = multierr.Combine(result, errors.Wrapf(err, "failed to close segment %q", name))
		}
		if seg.created {
			if err := os.Remove(filepath.Join(shmDir, name[1:])); err != nil && !os.IsNotExist(err) {
				result = multierr.Combine(result, errors.Wrapf(err, "failed to unlink segment %q", name))
			}
		}
	}
	m.segments = map[string]*managedSegment{}
	return result
}
