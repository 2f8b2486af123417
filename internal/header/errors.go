package header

import "errors"

var (
	// ErrIncompatibleFormat is returned for records with an unknown magic or
	// version.
	ErrIncompatibleFormat = errors.New("header: incompatible format")

	// ErrChecksumMismatch is returned when a record fails its CRC check.
	ErrChecksumMismatch = errors.New("header: checksum mismatch")

	// ErrNotFound is returned when no header exists for a checkpoint.
	ErrNotFound = errors.New("header: not found")

	// ErrCheckpointExists is returned when a checkpoint was already written.
	ErrCheckpointExists = errors.New("header: checkpoint exists")
)
