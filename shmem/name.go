package shmem

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxSegmentNameLength is the longest segment name AddSegment accepts,
// including the leading slash. It matches the POSIX shm name limit.
const MaxSegmentNameLength = 255

// MemoryName composes the canonical segment name for a hardware interface:
// a single leading slash followed by the namespace, module and interface
// name. Slashes inside the parts are not allowed and will be rejected by
// VerifySegmentName.
func MemoryName(namespace, module, interfaceName string) string {
	if namespace == "" {
		return fmt.Sprintf("/%s.%s", module, interfaceName)
	}
	return fmt.Sprintf("/%s.%s.%s", namespace, module, interfaceName)
}

// ModuleInfoName composes the segment name under which a module publishes
// its segment-info table: the module id without an interface part.
func ModuleInfoName(namespace, module string) string {
	if namespace == "" {
		return "/" + module
	}
	return fmt.Sprintf("/%s.%s", namespace, module)
}

// VerifySegmentName checks that name is a valid shared memory segment name:
// non-empty, at most MaxSegmentNameLength bytes, exactly one leading slash
// and no further slashes.
func VerifySegmentName(name string) error {
	if name == "" {
		return status.Error(codes.InvalidArgument, "segment name cannot be empty")
	}
	if len(name) > MaxSegmentNameLength {
		return status.Errorf(codes.InvalidArgument,
			"segment name %q cannot exceed %d characters", name, MaxSegmentNameLength)
	}
	if !strings.HasPrefix(name, "/") {
		return status.Errorf(codes.InvalidArgument,
			"segment name %q must start with a leading slash", name)
	}
	if strings.Contains(name[1:], "/") {
		return status.Errorf(codes.InvalidArgument,
			"segment name %q cannot contain a slash after the leading one", name)
	}
	if name == "/" {
		return status.Error(codes.InvalidArgument, "segment name cannot be a bare slash")
	}
	return nil
}
