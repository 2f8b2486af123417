package build

import "errors"

var (
	// ErrTupleTooLarge is returned for a tuple longer than page.MaxTupleSize.
	// The build state is left unchanged.
	ErrTupleTooLarge = errors.New("build: tuple too large")

	// ErrOutOfOrder is returned by an order-checking build for a tuple that
	// sorts before its predecessor. The build state is left unchanged.
	ErrOutOfOrder = errors.New("build: tuple out of order")

	// ErrUniqueViolation is returned by an order-checking build of a unique
	// tree for a tuple whose unique prefix repeats its predecessor's. The
	// build state is left unchanged.
	ErrUniqueViolation = errors.New("build: duplicate key violates unique constraint")

	// ErrBuildFailed wraps the first failure that left the build unusable.
	// Every later call returns the same error.
	ErrBuildFailed = errors.New("build: build failed")

	// ErrFinished is returned when a finished build is used again.
	ErrFinished = errors.New("build: already finished")

	// ErrTooDeep is returned when the tree would exceed page.MaxDepth levels.
	ErrTooDeep = errors.New("build: tree too deep")
)
