package shmem

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.viam.com/icon/logging"
)

// testModuleName returns a module name unique to the test and process so
// parallel runs do not collide in /dev/shm.
func testModuleName(tb testing.TB) string {
	return fmt.Sprintf("%s_%d", strings.ReplaceAll(tb.Name(), "/", "_"), os.Getpid())
}

func newTestManager(tb testing.TB) *Manager {
	manager, err := NewManager("test", testModuleName(tb), logging.NewTestLogger(tb))
	test.That(tb, err, test.ShouldBeNil)
	tb.Cleanup(func() {
		test.That(tb, manager.Close(), test.ShouldBeNil)
	})
	return manager
}

func TestNewManagerRequiresName(t *testing.T) {
	_, err := NewManager("ns", "", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
}

func TestAddSegmentNameValidation(t *testing.T) {
	manager := newTestManager(t)

	err := manager.AddSegment("no_leading_slash", false, 8, "test.Type")
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	err = manager.AddSegment("/ok/extra/slash", false, 8, "test.Type")
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	err = manager.AddSegment("/"+manager.ModuleName()+".ok", false, 8,
		strings.Repeat("x", MaxTypeIDLength+1))
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	err = manager.AddSegment("/"+manager.ModuleName()+".empty", false, 0, "test.Type")
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
}

func TestAddSegmentAlreadyExists(t *testing.T) {
	manager := newTestManager(t)
	name := MemoryName(manager.Namespace(), manager.ModuleName(), "state")

	test.That(t, manager.AddSegment(name, false, 8, "test.Type"), test.ShouldBeNil)
	err := manager.AddSegment(name, false, 8, "test.Type")
	test.That(t, status.Code(err), test.ShouldEqual, codes.AlreadyExists)
}

func TestAddSegmentMaxSegments(t *testing.T) {
	manager := newTestManager(t)
	for i := 0; i < MaxSegments; i++ {
		name := MemoryName(manager.Namespace(), manager.ModuleName(), fmt.Sprintf("seg%d", i))
		test.That(t, manager.AddSegment(name, false, 8, "test.Type"), test.ShouldBeNil)
	}
	err := manager.AddSegment(
		MemoryName(manager.Namespace(), manager.ModuleName(), "overflow"),
		false, 8, "test.Type")
	test.That(t, status.Code(err), test.ShouldEqual, codes.ResourceExhausted)
}

func TestSegmentHeaderRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	name := MemoryName(manager.Namespace(), manager.ModuleName(), "state")
	test.That(t, manager.AddSegment(name, false, 16, "test.State"), test.ShouldBeNil)

	header, err := manager.SegmentHeader(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, header.Version(), test.ShouldEqual, SegmentVersion)
	test.That(t, header.TypeID(), test.ShouldEqual, "test.State")
	test.That(t, header.NumUpdates(), test.ShouldEqual, 0)
	test.That(t, header.LastUpdatedCycle(), test.ShouldEqual, 0)

	now := time.Now()
	header.UpdatedAt(now, 42)
	test.That(t, header.NumUpdates(), test.ShouldEqual, 1)
	test.That(t, header.LastUpdatedCycle(), test.ShouldEqual, 42)
	test.That(t, header.LastUpdatedTime().UnixNano(), test.ShouldEqual, now.UnixNano())

	value, err := manager.SegmentValue(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(value), test.ShouldEqual, 16)
}

func TestSegmentRefCounts(t *testing.T) {
	manager := newTestManager(t)
	name := MemoryName(manager.Namespace(), manager.ModuleName(), "state")
	test.That(t, manager.AddSegment(name, false, 8, "test.State"), test.ShouldBeNil)
	fdMap := manager.FileDescriptorMap()

	header, err := manager.SegmentHeader(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, header.ReaderRefCount(), test.ShouldEqual, 0)
	test.That(t, header.WriterRefCount(), test.ShouldEqual, 0)

	reader, err := OpenReadOnly(fdMap, name)
	test.That(t, err, test.ShouldBeNil)
	writer, err := OpenReadWrite(fdMap, name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, header.ReaderRefCount(), test.ShouldEqual, 1)
	test.That(t, header.WriterRefCount(), test.ShouldEqual, 1)
	test.That(t, LockstepConnected(header), test.ShouldBeFalse)

	secondWriter, err := OpenReadWrite(fdMap, name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, LockstepConnected(header), test.ShouldBeTrue)

	test.That(t, secondWriter.Close(), test.ShouldBeNil)
	test.That(t, writer.Close(), test.ShouldBeNil)
	test.That(t, reader.Close(), test.ShouldBeNil)
	test.That(t, header.ReaderRefCount(), test.ShouldEqual, 0)
	test.That(t, header.WriterRefCount(), test.ShouldEqual, 0)
}

func TestOpenUnknownSegment(t *testing.T) {
	_, err := OpenReadOnly(SegmentNameToFileDescriptorMap{}, "/nope")
	test.That(t, status.Code(err), test.ShouldEqual, codes.NotFound)
}

func TestAddSegmentReusesStaleSegment(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	manager, err := NewManager("test", testModuleName(t), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, manager.Close(), test.ShouldBeNil)
	}()

	// A leftover object from a crashed prior run, with the right size.
	name := MemoryName(manager.Namespace(), manager.ModuleName(), "stale")
	fd, err := unix.Open("/dev/shm/"+name[1:], unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o660)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, unix.Ftruncate(fd, int64(HeaderSize+8)), test.ShouldBeNil)
	test.That(t, unix.Close(fd), test.ShouldBeNil)

	test.That(t, manager.AddSegment(name, false, 8, "test.State"), test.ShouldBeNil)
	test.That(t, observed.FilterMessageSnippet("reusing existing").Len(), test.ShouldEqual, 1)

	// A stale object with the wrong size is rejected.
	wrongName := MemoryName(manager.Namespace(), manager.ModuleName(), "wrongsize")
	fd, err = unix.Open("/dev/shm/"+wrongName[1:], unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o660)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, unix.Ftruncate(fd, int64(HeaderSize+99)), test.ShouldBeNil)
	test.That(t, unix.Close(fd), test.ShouldBeNil)
	defer unix.Unlink("/dev/shm/" + wrongName[1:]) //nolint:errcheck

	err = manager.AddSegment(wrongName, false, 8, "test.State")
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
}

func TestGetSegmentInfo(t *testing.T) {
	manager := newTestManager(t)
	required := MemoryName(manager.Namespace(), manager.ModuleName(), "command")
	optional := MemoryName(manager.Namespace(), manager.ModuleName(), "state")
	test.That(t, manager.AddSegment(required, true, 8, "test.Command"), test.ShouldBeNil)
	test.That(t, manager.AddSegment(optional, false, 8, "test.State"), test.ShouldBeNil)

	info := manager.GetSegmentInfo()
	test.That(t, info.Segments, test.ShouldHaveLength, 2)

	data, err := info.Marshal()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(data), test.ShouldEqual, SegmentInfoSize)

	parsed, err := UnmarshalSegmentInfo(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldResemble, info)

	byName := map[string]bool{}
	for _, seg := range parsed.Segments {
		byName[seg.Name] = seg.MustBeUsed
	}
	test.That(t, byName[required], test.ShouldBeTrue)
	test.That(t, byName[optional], test.ShouldBeFalse)
}
