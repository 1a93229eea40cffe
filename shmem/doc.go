// Package shmem manages the named POSIX shared-memory segments that carry
// hardware interface data between a hardware module process and the
// real-time controller process.
//
// Every segment starts with a fixed-layout SegmentHeader followed by the
// typed payload. The header layout is part of the cross-process ABI and is
// bit-identical in every process that maps the segment. There is no locking
// on the hot path; consumers that care about torn reads re-check the
// header's update counters instead.
package shmem
