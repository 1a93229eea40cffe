package shmem

import (
	"strings"
	"testing"

	"go.viam.com/test"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMemoryName(t *testing.T) {
	test.That(t, MemoryName("ns", "mod", "iface"), test.ShouldEqual, "/ns.mod.iface")
	test.That(t, MemoryName("", "mod", "iface"), test.ShouldEqual, "/mod.iface")
	test.That(t, ModuleInfoName("ns", "mod"), test.ShouldEqual, "/ns.mod")
	test.That(t, ModuleInfoName("", "mod"), test.ShouldEqual, "/mod")
}

func TestVerifySegmentName(t *testing.T) {
	for _, tc := range []struct {
		name    string
		segName string
		valid   bool
	}{
		{"valid", "/ns.mod.iface", true},
		{"empty", "", false},
		{"no leading slash", "no_leading_slash", false},
		{"extra slash", "/ok/extra/slash", false},
		{"trailing slash", "/ok/", false},
		{"bare slash", "/", false},
		{"too long", "/" + strings.Repeat("a", MaxSegmentNameLength), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySegmentName(tc.segName)
			if tc.valid {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
		})
	}
}
