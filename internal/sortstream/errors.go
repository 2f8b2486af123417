package sortstream

import "errors"

var (
	// ErrUniqueViolation is returned when two tuples share the unique key
	// prefix and neither has a null in it.
	ErrUniqueViolation = errors.New("sortstream: duplicate key violates unique constraint")

	// ErrMemoryLimit is returned when one tuple does not fit the memory
	// budget even with an empty buffer.
	ErrMemoryLimit = errors.New("sortstream: tuple exceeds memory budget")

	// ErrSorted is returned by Add after Sort.
	ErrSorted = errors.New("sortstream: input already sorted")

	// ErrNotSorted is returned by Next before Sort.
	ErrNotSorted = errors.New("sortstream: Sort not called")

	// ErrCorruptRun is returned for a damaged spill run.
	ErrCorruptRun = errors.New("sortstream: corrupt run")
)
