package hal

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"go.viam.com/test"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/logging"
	"go.viam.com/icon/shmem"
)

func testModuleName(tb testing.TB) string {
	return fmt.Sprintf("%s_%d", strings.ReplaceAll(tb.Name(), "/", "_"), os.Getpid())
}

func newTestRegistry(tb testing.TB) *Registry {
	logger := logging.NewTestLogger(tb)
	manager, err := shmem.NewManager("test", testModuleName(tb), logger)
	test.That(tb, err, test.ShouldBeNil)
	tb.Cleanup(func() {
		test.That(tb, manager.Close(), test.ShouldBeNil)
	})
	return NewRegistry(manager, logger)
}

func TestAdvertiseAndOpenRoundTrip(t *testing.T) {
	registry := newTestRegistry(t)

	handle, err := AdvertiseMutableInterface(registry, "joint_position_state",
		ifc.JointPositionStateType, ifc.JointArraySize(6))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, handle.Close(), test.ShouldBeNil)
	}()

	segName := shmem.MemoryName("test", registry.Manager().ModuleName(), "joint_position_state")
	opened, err := OpenInterface(registry.Manager().FileDescriptorMap(), segName,
		ifc.JointPositionStateType)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, opened.Close(), test.ShouldBeNil)
	}()

	test.That(t, opened.Header().TypeID(), test.ShouldEqual, "intrinsic_fbs.JointPositionState")
	test.That(t, opened.Value().Size(), test.ShouldEqual, 6)

	// Writes through the advertised handle are visible to the reader.
	handle.Value().Set(2, 1.25)
	test.That(t, opened.Value().Get(2), test.ShouldEqual, 1.25)
}

func TestOpenInterfaceRejectsWrongType(t *testing.T) {
	registry := newTestRegistry(t)

	handle, err := AdvertiseInterface(registry, "joint_position_state",
		ifc.JointPositionStateType, ifc.JointArraySize(6))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, handle.Close(), test.ShouldBeNil)
	}()

	segName := shmem.MemoryName("test", registry.Manager().ModuleName(), "joint_position_state")
	_, err = OpenInterface(registry.Manager().FileDescriptorMap(), segName,
		ifc.JointVelocityStateType)
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
}

func TestStrictAdvertiseRequiresIconState(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := AdvertiseStrictInterface(registry, "joint_position_command",
		ifc.JointPositionCommandType, ifc.JointArraySize(6))
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)

	iconState, err := registry.AdvertiseIconState()
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, iconState.Close(), test.ShouldBeNil)
	}()

	command, err := AdvertiseStrictInterface(registry, "joint_position_command",
		ifc.JointPositionCommandType, ifc.JointArraySize(6))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, command.Close(), test.ShouldBeNil)
	}()

	// Strict interfaces are mandatory in the discovery table.
	info := registry.Manager().GetSegmentInfo()
	byName := map[string]bool{}
	for _, seg := range info.Segments {
		byName[seg.Name] = seg.MustBeUsed
	}
	commandName := shmem.MemoryName("test", registry.Manager().ModuleName(), "joint_position_command")
	test.That(t, byName[commandName], test.ShouldBeTrue)
}

func TestAdvertiseHardwareInfoSealsRegistry(t *testing.T) {
	registry := newTestRegistry(t)

	handle, err := AdvertiseInterface(registry, "joint_position_state",
		ifc.JointPositionStateType, ifc.JointArraySize(3))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, handle.Close(), test.ShouldBeNil)
	}()

	// No consumer can attach before the info is published.
	_, err = registry.FileDescriptorMap()
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)

	test.That(t, registry.AdvertiseHardwareInfo(), test.ShouldBeNil)

	fdMap, err := registry.FileDescriptorMap()
	test.That(t, err, test.ShouldBeNil)

	// The discovery table itself is readable through the map.
	infoName := shmem.ModuleInfoName("test", registry.Manager().ModuleName())
	infoSeg, err := shmem.OpenReadOnly(fdMap, infoName)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, infoSeg.Close(), test.ShouldBeNil)
	}()
	info, err := shmem.UnmarshalSegmentInfo(infoSeg.Value())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Segments, test.ShouldHaveLength, 1)

	// Sealed: no further advertising, no second info table.
	_, err = AdvertiseInterface(registry, "late",
		ifc.JointPositionStateType, ifc.JointArraySize(3))
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)
	err = registry.AdvertiseHardwareInfo()
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)
}
