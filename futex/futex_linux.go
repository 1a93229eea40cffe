//go:build linux

package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Futex operation codes from <linux/futex.h>. x/sys/unix only exports the
// syscall numbers. The private flag is deliberately absent: the word is
// shared across processes.
const (
	opWait = 0
	opWake = 1
)

// futexWait blocks until the word no longer holds val, a wake arrives or
// the timeout elapses. Spurious returns are fine; the caller re-checks the
// word in a loop.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		opWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
		return nil
	default:
		return status.Errorf(codes.Internal, "futex wait failed: %v", errno)
	}
}

// futexWake wakes up to n waiters blocked on the word.
func futexWake(addr *uint32, n int32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		opWake,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return status.Errorf(codes.Internal, "futex wake failed: %v", errno)
	}
	return nil
}
