package shmem

import (
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// memorySegment is the shared part of the read-only and read-write segment
// handles. Segments are created and initialized by a Manager; the handles
// here only map existing segments.
type memorySegment struct {
	name   string
	data   []byte
	header *SegmentHeader
}

// mapSegment always maps read-write: even read-only handles write the
// header's ref-count fields. Read-only-ness is a property of the handle
// type, not of the mapping.
func mapSegment(fdMap SegmentNameToFileDescriptorMap, name string) (memorySegment, error) {
	fd, ok := fdMap[name]
	if !ok {
		return memorySegment{}, status.Errorf(codes.NotFound,
			"segment %q not found in file descriptor map", name)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return memorySegment{}, status.Errorf(codes.Internal,
			"failed to stat segment %q: %v", name, err)
	}
	size := int(stat.Size)
	if size <= HeaderSize {
		return memorySegment{}, status.Errorf(codes.Internal,
			"segment %q of size %d must be larger than its %d byte header",
			name, size, HeaderSize)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return memorySegment{}, status.Errorf(codes.Internal,
			"failed to map segment %q: %v", name, err)
	}

	header := headerAt(data)
	if header.Version() != SegmentVersion {
		if err := unix.Munmap(data); err != nil {
			return memorySegment{}, status.Errorf(codes.Internal,
				"failed to unmap segment %q: %v", name, err)
		}
		return memorySegment{}, status.Errorf(codes.InvalidArgument,
			"segment %q has header version %d, expected %d",
			name, headerAt(data).Version(), SegmentVersion)
	}

	return memorySegment{name: name, data: data, header: header}, nil
}

// Name returns the name of the mapped segment.
func (s *memorySegment) Name() string { return s.name }

// Header returns the segment's header.
func (s *memorySegment) Header() *SegmentHeader { return s.header }

// Value returns the payload bytes following the header.
func (s *memorySegment) Value() []byte { return s.data[HeaderSize:] }

// ValueSize returns the size of the payload in bytes.
func (s *memorySegment) ValueSize() int { return len(s.data) - HeaderSize }

func (s *memorySegment) unmap() error {
	data := s.data
	s.data = nil
	s.header = nil
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// ReadOnlySegment provides read-only access to a shared memory segment.
// Opening one increments the segment's reader ref count; Close decrements
// it again.
type ReadOnlySegment struct {
	memorySegment
}

// OpenReadOnly maps the named segment read-only.
// Returns NotFound if the name is not in the file descriptor map and
// Internal if the segment is smaller than the header plus one payload byte.
func OpenReadOnly(fdMap SegmentNameToFileDescriptorMap, name string) (*ReadOnlySegment, error) {
	seg, err := mapSegment(fdMap, name)
	if err != nil {
		return nil, err
	}
	seg.header.incrementReaderRefCount()
	return &ReadOnlySegment{seg}, nil
}

// Close detaches from the segment.
func (s *ReadOnlySegment) Close() error {
	if s.header != nil {
		s.header.decrementReaderRefCount()
	}
	return s.unmap()
}

// ReadWriteSegment provides read-write access to a shared memory segment.
// Writes are thread-compatible: the segment itself does not arbitrate
// between concurrent writers, that is the application's responsibility.
type ReadWriteSegment struct {
	memorySegment
}

// OpenReadWrite maps the named segment read-write.
func OpenReadWrite(fdMap SegmentNameToFileDescriptorMap, name string) (*ReadWriteSegment, error) {
	seg, err := mapSegment(fdMap, name)
	if err != nil {
		return nil, err
	}
	seg.header.incrementWriterRefCount()
	return &ReadWriteSegment{seg}, nil
}

// UpdatedAt marks the segment as updated at the given time and control
// cycle.
func (s *ReadWriteSegment) UpdatedAt(t time.Time, currentCycle uint64) {
	s.header.UpdatedAt(t, currentCycle)
}

// Close detaches from the segment.
func (s *ReadWriteSegment) Close() error {
	if s.header != nil {
		s.header.decrementWriterRefCount()
	}
	return s.unmap()
}
