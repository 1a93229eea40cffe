package hal

import (
	"time"

	"go.viam.com/icon/shmem"
)

// Handle is read-only access to one typed hardware interface. Closing the
// handle detaches from the underlying segment and decrements its reader
// ref count.
type Handle[T any] struct {
	seg   *shmem.ReadOnlySegment
	value T
}

// Value returns the typed view over the interface payload.
func (h *Handle[T]) Value() T { return h.value }

// Header returns the underlying segment header.
func (h *Handle[T]) Header() *shmem.SegmentHeader { return h.seg.Header() }

// LastUpdatedCycle returns the control cycle of the last payload update.
func (h *Handle[T]) LastUpdatedCycle() uint64 { return h.seg.Header().LastUpdatedCycle() }

// Close detaches from the interface.
func (h *Handle[T]) Close() error { return h.seg.Close() }

// MutableHandle is read-write access to one typed hardware interface.
// Every write must be followed by UpdatedAt so readers can check freshness.
type MutableHandle[T any] struct {
	seg   *shmem.ReadWriteSegment
	value T
}

// Value returns the typed view over the interface payload.
func (h *MutableHandle[T]) Value() T { return h.value }

// Header returns the underlying segment header.
func (h *MutableHandle[T]) Header() *shmem.SegmentHeader { return h.seg.Header() }

// UpdatedAt marks the interface as updated at the given time and cycle.
func (h *MutableHandle[T]) UpdatedAt(t time.Time, cycle uint64) {
	h.seg.UpdatedAt(t, cycle)
}

// Close detaches from the interface.
func (h *MutableHandle[T]) Close() error { return h.seg.Close() }

// StrictHandle is a Handle whose reads are gated by a same-cycle freshness
// check against the module's cycle state interface.
type StrictHandle[T any] struct {
	handle    *Handle[T]
	validator *Validator
}

// Value returns the typed view only if the interface was updated in the
// current control cycle; otherwise FailedPrecondition.
func (h *StrictHandle[T]) Value() (T, error) {
	if err := h.validator.WasUpdatedThisCycle(h.handle.Header()); err != nil {
		var zero T
		return zero, err
	}
	return h.handle.Value(), nil
}

// Header returns the underlying segment header.
func (h *StrictHandle[T]) Header() *shmem.SegmentHeader { return h.handle.Header() }

// Close detaches from the interface.
func (h *StrictHandle[T]) Close() error { return h.handle.Close() }

// MutableStrictHandle is a MutableHandle with the same read gating as
// StrictHandle. Writes are not gated.
type MutableStrictHandle[T any] struct {
	handle    *MutableHandle[T]
	validator *Validator
}

// Value returns the typed view only if the interface was updated in the
// current control cycle; otherwise FailedPrecondition.
func (h *MutableStrictHandle[T]) Value() (T, error) {
	if err := h.validator.WasUpdatedThisCycle(h.handle.Header()); err != nil {
		var zero T
		return zero, err
	}
	return h.handle.Value(), nil
}

// RawValue returns the typed view without a freshness check, for writers.
func (h *MutableStrictHandle[T]) RawValue() T { return h.handle.Value() }

// Header returns the underlying segment header.
func (h *MutableStrictHandle[T]) Header() *shmem.SegmentHeader { return h.handle.Header() }

// UpdatedAt marks the interface as updated at the given time and cycle.
func (h *MutableStrictHandle[T]) UpdatedAt(t time.Time, cycle uint64) {
	h.handle.UpdatedAt(t, cycle)
}

// Close detaches from the interface.
func (h *MutableStrictHandle[T]) Close() error { return h.handle.Close() }
