package shmem

import (
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// SegmentVersion is the expected header format version. A mapped
	// segment whose header carries a different version is rejected.
	SegmentVersion = 1

	// MaxTypeIDLength is the longest interface type id that fits in the
	// header.
	MaxTypeIDLength = 64

	// HeaderSize is the exact byte size of the segment header. The typed
	// payload starts at this offset. The value is part of the
	// cross-process ABI and must never change without bumping
	// SegmentVersion.
	HeaderSize = 112
)

// segmentHeader is the fixed binary layout at the start of every shared
// memory segment. All multi-byte fields are native-endian; producer and
// consumers always run on the same machine. Mutating fields are accessed
// atomically because readers in other processes race a single writer.
type segmentHeader struct {
	version        uint32
	readerRefCount int32
	writerRefCount int32
	typeIDLen      uint32
	numUpdates     uint64
	lastUpdated    int64
	lastCycle      uint64
	typeID         [MaxTypeIDLength]byte
	_              [8]byte
}

// Compile-time check that the struct matches HeaderSize in both directions.
const (
	_ uintptr = HeaderSize - unsafe.Sizeof(segmentHeader{})
	_ uintptr = unsafe.Sizeof(segmentHeader{}) - HeaderSize
)

// SegmentHeader provides access to the header of a mapped segment. The
// zero value is invalid; obtain one through a Manager or a segment handle.
type SegmentHeader struct {
	raw *segmentHeader
}

func headerAt(data []byte) *SegmentHeader {
	return &SegmentHeader{raw: (*segmentHeader)(unsafe.Pointer(&data[0]))}
}

// init writes the initial header into freshly created segment memory. Only
// the creating Manager calls this; opening an existing segment must never
// re-initialize the header.
func (h *SegmentHeader) init(typeID string) {
	*h.raw = segmentHeader{}
	h.raw.version = SegmentVersion
	h.raw.typeIDLen = uint32(len(typeID))
	copy(h.raw.typeID[:], typeID)
}

// Version returns the header format version found in the segment.
func (h *SegmentHeader) Version() uint32 { return h.raw.version }

// TypeID returns the interface type id the segment was created with.
func (h *SegmentHeader) TypeID() string {
	n := h.raw.typeIDLen
	if n > MaxTypeIDLength {
		n = MaxTypeIDLength
	}
	return string(h.raw.typeID[:n])
}

// NumUpdates returns how often the segment payload has been updated.
func (h *SegmentHeader) NumUpdates() uint64 {
	return atomic.LoadUint64(&h.raw.numUpdates)
}

// LastUpdatedTime returns the wall-clock time of the last update.
func (h *SegmentHeader) LastUpdatedTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.raw.lastUpdated))
}

// LastUpdatedCycle returns the control cycle of the last update. Segments
// that were never updated report zero.
func (h *SegmentHeader) LastUpdatedCycle() uint64 {
	return atomic.LoadUint64(&h.raw.lastCycle)
}

// UpdatedAt marks the segment as updated at the given time and control
// cycle and increments the update counter. This is the single mutator used
// by the real-time write path.
func (h *SegmentHeader) UpdatedAt(t time.Time, currentCycle uint64) {
	atomic.StoreInt64(&h.raw.lastUpdated, t.UnixNano())
	atomic.StoreUint64(&h.raw.lastCycle, currentCycle)
	atomic.AddUint64(&h.raw.numUpdates, 1)
}

// ReaderRefCount returns the number of reader handles currently attached.
func (h *SegmentHeader) ReaderRefCount() int32 {
	return atomic.LoadInt32(&h.raw.readerRefCount)
}

// WriterRefCount returns the number of writer handles currently attached.
// The ref counts are observability only, not an access control mechanism.
func (h *SegmentHeader) WriterRefCount() int32 {
	return atomic.LoadInt32(&h.raw.writerRefCount)
}

func (h *SegmentHeader) incrementReaderRefCount() {
	atomic.AddInt32(&h.raw.readerRefCount, 1)
}

func (h *SegmentHeader) decrementReaderRefCount() {
	atomic.AddInt32(&h.raw.readerRefCount, -1)
}

func (h *SegmentHeader) incrementWriterRefCount() {
	atomic.AddInt32(&h.raw.writerRefCount, 1)
}

func (h *SegmentHeader) decrementWriterRefCount() {
	atomic.AddInt32(&h.raw.writerRefCount, -1)
}

// LockstepConnected reports whether both sides of a lockstep segment are
// attached, which is the case exactly when two writer handles exist.
func LockstepConnected(h *SegmentHeader) bool {
	return h.WriterRefCount() == 2
}
