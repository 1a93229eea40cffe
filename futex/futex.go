package futex

import (
	"sync/atomic"
	"time"
	"unsafe"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TypeID is the segment type id for segments whose payload is a futex word.
const TypeID = "intrinsic_fbs.BinaryFutex"

// PayloadSize is the byte size of the futex word.
const PayloadSize = 4

// The three states of the word. Ready means no pending post, Posted means
// one post is pending, Closed means the owning side shut down and waiters
// must not block again.
const (
	stateReady  uint32 = 0
	statePosted uint32 = 1
	stateClosed uint32 = 2
)

// Futex is a binary semaphore over a shared memory word. At most one post
// is pending at a time; posting an already posted futex is a no-op.
type Futex struct {
	word *uint32
}

// New returns a Futex over the first PayloadSize bytes of data. The caller
// keeps the backing memory mapped for the lifetime of the Futex.
func New(data []byte) (*Futex, error) {
	if len(data) < PayloadSize {
		return nil, status.Errorf(codes.InvalidArgument,
			"futex requires %d bytes, got %d", PayloadSize, len(data))
	}
	return &Futex{word: (*uint32)(unsafe.Pointer(&data[0]))}, nil
}

// Value returns the current raw state of the word.
func (f *Futex) Value() uint32 {
	return atomic.LoadUint32(f.word)
}

// Post marks the futex as posted and wakes one waiter. Posting a closed
// futex returns FailedPrecondition; posting an already posted futex does
// nothing.
func (f *Futex) Post() error {
	for {
		cur := atomic.LoadUint32(f.word)
		switch cur {
		case stateClosed:
			return status.Error(codes.FailedPrecondition, "futex is closed")
		case statePosted:
			return nil
		}
		if atomic.CompareAndSwapUint32(f.word, stateReady, statePosted) {
			return futexWake(f.word, 1)
		}
	}
}

// TryWait consumes a pending post without blocking. It reports whether a
// post was consumed.
func (f *Futex) TryWait() (bool, error) {
	if atomic.LoadUint32(f.word) == stateClosed {
		return false, status.Error(codes.FailedPrecondition, "futex is closed")
	}
	return atomic.CompareAndSwapUint32(f.word, statePosted, stateReady), nil
}

// WaitFor blocks until a post arrives or the timeout elapses. It returns
// DeadlineExceeded on timeout and Aborted if the futex was closed while
// waiting.
func (f *Futex) WaitFor(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		switch atomic.LoadUint32(f.word) {
		case stateClosed:
			return status.Error(codes.Aborted, "futex was closed")
		case statePosted:
			if atomic.CompareAndSwapUint32(f.word, statePosted, stateReady) {
				return nil
			}
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return status.Error(codes.DeadlineExceeded, "timed out waiting for futex")
		}
		if err := futexWait(f.word, stateReady, remaining); err != nil {
			return err
		}
	}
}

// Close moves the futex into its terminal closed state and wakes all
// waiters so they can observe it. Close is idempotent.
func (f *Futex) Close() error {
	atomic.StoreUint32(f.word, stateClosed)
	return futexWake(f.word, int32((^uint32(0))>>1))
}
