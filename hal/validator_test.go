package hal

import (
	"testing"
	"time"

	"go.viam.com/test"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
)

func TestZeroValidatorNeverPasses(t *testing.T) {
	var v Validator
	err := v.WasUpdatedThisCycle(nil)
	test.That(t, status.Code(err), test.ShouldEqual, codes.Internal)
}

func TestValidatorFreshness(t *testing.T) {
	registry := newTestRegistry(t)

	iconState, err := registry.AdvertiseIconState()
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, iconState.Close(), test.ShouldBeNil)
	}()

	command, err := AdvertiseMutableStrictInterface(registry, "joint_position_command",
		ifc.JointPositionCommandType, ifc.JointArraySize(3))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, command.Close(), test.ShouldBeNil)
	}()

	// The controller side writes the cycle counter through its own
	// writable mapping of the cycle state interface.
	fdMap := registry.Manager().FileDescriptorMap()
	iconName := registry.segmentName(ifc.IconStateInterfaceName)
	cycleWriter, err := OpenMutableInterface(fdMap, iconName, ifc.IconStateType)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, cycleWriter.Close(), test.ShouldBeNil)
	}()

	// Before the first cycle counter write nothing validates.
	_, err = command.Value()
	test.That(t, status.Code(err), test.ShouldEqual, codes.Internal)

	publishCycle := func(cycle uint64) {
		cycleWriter.Value().SetCurrentCycle(cycle)
		cycleWriter.UpdatedAt(time.Now(), cycle)
	}

	publishCycle(4)

	// Command last written in an older cycle is rejected.
	command.RawValue().SetValues([]float64{1, 2, 3})
	command.UpdatedAt(time.Now(), 3)
	_, err = command.Value()
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)

	// Same cycle passes.
	command.UpdatedAt(time.Now(), 4)
	values, err := command.Value()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values.Values(), test.ShouldResemble, []float64{1, 2, 3})

	// The next cycle invalidates the command again until it is rewritten.
	publishCycle(5)
	_, err = command.Value()
	test.That(t, status.Code(err), test.ShouldEqual, codes.FailedPrecondition)
}
