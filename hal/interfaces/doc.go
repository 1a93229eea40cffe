// Package interfaces defines the payload types exchanged through shared
// memory hardware interfaces. Every payload is a fixed-offset little
// endian byte layout wrapped by a typed view; the views never copy, they
// read and write the mapped segment bytes directly.
//
// Each payload type registers an initializer for its wire type id from
// init() so that newly created segments start in a well-defined state.
package interfaces
