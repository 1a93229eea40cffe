package shmem

import (
	"encoding/binary"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SegmentInfoTypeID is the type id of the segment that carries the
// marshaled SegmentInfo table itself.
const SegmentInfoTypeID = "intrinsic_fbs.SegmentInfo"

// SegmentInfoSize is the fixed byte size of a marshaled SegmentInfo table:
// a uint32 count followed by MaxSegments fixed-size descriptor slots.
const SegmentInfoSize = 4 + MaxSegments*segmentDescriptorSize

// Each descriptor slot is a NUL-padded name buffer of MaxSegmentNameLength+1
// bytes, one flag byte and two bytes of padding to keep slots word-aligned.
const segmentDescriptorSize = MaxSegmentNameLength + 1 + 1 + 2

// SegmentDescriptor describes one shared memory segment for discovery.
type SegmentDescriptor struct {
	Name string
	// MustBeUsed marks segments the controller configuration is required
	// to reference, typically command interfaces that would otherwise
	// leave the hardware without input.
	MustBeUsed bool
}

// SegmentInfo is the discovery table a module publishes so the controller
// can find every segment the module exports.
type SegmentInfo struct {
	Segments []SegmentDescriptor
}

// Marshal writes the table into its fixed binary form. The layout is part
// of the cross-process ABI: writers and readers map the same bytes.
func (si SegmentInfo) Marshal() ([]byte, error) {
	if len(si.Segments) > MaxSegments {
		return nil, status.Errorf(codes.ResourceExhausted,
			"segment info cannot hold %d segments, max is %d", len(si.Segments), MaxSegments)
	}
	buf := make([]byte, SegmentInfoSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(si.Segments)))
	for i, seg := range si.Segments {
		if len(seg.Name) > MaxSegmentNameLength {
			return nil, status.Errorf(codes.InvalidArgument,
				"segment name %q cannot exceed %d characters", seg.Name, MaxSegmentNameLength)
		}
		slot := buf[4+i*segmentDescriptorSize:]
		copy(slot[:MaxSegmentNameLength], seg.Name)
		if seg.MustBeUsed {
			slot[MaxSegmentNameLength+1] = 1
		}
	}
	return buf, nil
}

// UnmarshalSegmentInfo reads a table back from its fixed binary form.
func UnmarshalSegmentInfo(data []byte) (SegmentInfo, error) {
	if len(data) < SegmentInfoSize {
		return SegmentInfo{}, status.Errorf(codes.InvalidArgument,
			"segment info requires %d bytes, got %d", SegmentInfoSize, len(data))
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	if count > MaxSegments {
		return SegmentInfo{}, status.Errorf(codes.InvalidArgument,
			"segment info claims %d segments, max is %d", count, MaxSegments)
	}
	info := SegmentInfo{}
	for i := 0; i < int(count); i++ {
		slot := data[4+i*segmentDescriptorSize:]
		nameBytes := slot[:MaxSegmentNameLength]
		end := 0
		for end < len(nameBytes) && nameBytes[end] != 0 {
			end++
		}
		info.Segments = append(info.Segments, SegmentDescriptor{
			Name:       string(nameBytes[:end]),
			MustBeUsed: slot[MaxSegmentNameLength+1] != 0,
		})
	}
	return info, nil
}
