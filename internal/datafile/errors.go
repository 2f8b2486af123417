package datafile

import "errors"

var (
	// ErrCorrupt is returned when an extent does not hold a valid block.
	ErrCorrupt = errors.New("datafile: corrupt block")
	// ErrChecksumMismatch is returned when a block fails its CRC check.
	ErrChecksumMismatch = errors.New("datafile: checksum mismatch")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("datafile: closed")
	// ErrExtentTooLarge is returned for a page that cannot be addressed by
	// one downlink.
	ErrExtentTooLarge = errors.New("datafile: extent too large")
)
