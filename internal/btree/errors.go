package btree

import "errors"

var (
	// ErrCorrupt is returned when the tree structure violates an invariant.
	ErrCorrupt = errors.New("btree: corrupt tree")
	// ErrClosed is returned by operations on a closed Reader.
	ErrClosed = errors.New("btree: reader closed")
	// ErrTooManyRetries is returned when a page kept changing under the
	// optimistic reader and the snapshot fallback could not be taken.
	ErrTooManyRetries = errors.New("btree: too many retries")
)
