package shmem

// SegmentNameToFileDescriptorMap maps segment names to open file
// descriptors for those segments. A hardware module's Manager produces one
// for the segments it owns; on the controller side the map is supplied by
// the domain-socket file-descriptor transfer mechanism. Consumers only need
// the open descriptors and never care how they were obtained.
type SegmentNameToFileDescriptorMap map[string]int
