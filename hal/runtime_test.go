package hal

import (
	"context"
	"os"
	"testing"
	"time"

	"go.viam.com/test"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/logging"
	"go.viam.com/icon/shmem"
	"go.viam.com/icon/trigger"
)

func TestRunServesTriggerPostedBeforeRun(t *testing.T) {
	module := &fakeModule{}
	config := ModuleConfig{Name: testModuleName(t), SharedMemoryNamespace: "test"}
	rt, err := NewRuntime(module, config, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, rt.Stop(context.Background()), test.ShouldBeNil)
	}()

	client, err := trigger.NewClient(rt.registry.Manager().FileDescriptorMap(),
		rt.triggerName(TriggerEnableMotion))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, client.Close(), test.ShouldBeNil)
	}()

	// The request is posted before Run; it must only be served once the
	// runtime is up, with its context in place.
	done := make(chan error, 1)
	go func() {
		done <- client.Trigger(10 * time.Second)
	}()
	test.That(t, rt.Run(context.Background()), test.ShouldBeNil)
	test.That(t, <-done, test.ShouldBeNil)

	// Enabling motion while deactivated is prohibited; the request still
	// completes without touching the driver.
	code, _ := rt.State()
	test.That(t, code, test.ShouldEqual, ifc.StateDeactivated)
	test.That(t, module.enableCalls.Load(), test.ShouldEqual, 0)

	test.That(t, rt.runCtx, test.ShouldEqual, rt.workers.Context())
	test.That(t, rt.runCtx.Err(), test.ShouldBeNil)
	test.That(t, rt.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, rt.runCtx.Err(), test.ShouldNotBeNil)
}

func TestNewRuntimeCleansUpOnFailure(t *testing.T) {
	name := testModuleName(t)

	// A wrong-sized leftover for one of the last segments the runtime
	// creates makes construction fail after most segments already exist.
	badPath := "/dev/shm/test." + name + "." + TriggerApplyCommand + trigger.RequestSuffix
	fd, err := unix.Open(badPath, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o660)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, unix.Ftruncate(fd, int64(shmem.HeaderSize+99)), test.ShouldBeNil)
	test.That(t, unix.Close(fd), test.ShouldBeNil)
	defer unix.Unlink(badPath) //nolint:errcheck

	_, err = NewRuntime(&fakeModule{},
		ModuleConfig{Name: name, SharedMemoryNamespace: "test"},
		logging.NewTestLogger(t))
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	// Everything created before the failure was unlinked again.
	_, statErr := os.Stat("/dev/shm/test." + name + "." + ModuleStateInterfaceName)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
	_, statErr = os.Stat("/dev/shm/test." + name + "." + ifc.IconStateInterfaceName)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
	_, statErr = os.Stat("/dev/shm/test." + name + "." + TriggerActivate + trigger.RequestSuffix)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}
