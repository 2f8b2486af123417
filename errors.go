package obtree

import (
	"errors"
	"fmt"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/internal/btree"
	"github.com/hupe1980/obtree/internal/build"
	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/internal/sortstream"
)

var (
	// ErrNotFound is returned when a tree, checkpoint or datafile is missing.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when stored data fails validation.
	ErrCorrupt = errors.New("corrupt data")
	// ErrIncompatibleFormat is returned for files written by an unknown
	// format version.
	ErrIncompatibleFormat = errors.New("incompatible format")
	// ErrCheckpointExists is returned when a build targets a checkpoint that
	// was already written.
	ErrCheckpointExists = errors.New("checkpoint exists")
	// ErrUniqueViolation is returned when a unique tree receives two tuples
	// with the same non-null unique key.
	ErrUniqueViolation = errors.New("unique violation")
	// ErrTupleTooLarge is returned for a tuple that cannot fit a page.
	ErrTupleTooLarge = errors.New("tuple too large")
	// ErrOutOfOrder is returned when a presorted source is not in key order.
	ErrOutOfOrder = errors.New("tuple out of order")
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("closed")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, header.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, header.ErrIncompatibleFormat):
		return fmt.Errorf("%w: %w", ErrIncompatibleFormat, err)
	case errors.Is(err, header.ErrCheckpointExists):
		return fmt.Errorf("%w: %w", ErrCheckpointExists, err)
	case errors.Is(err, sortstream.ErrUniqueViolation), errors.Is(err, build.ErrUniqueViolation):
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case errors.Is(err, build.ErrTupleTooLarge):
		return fmt.Errorf("%w: %w", ErrTupleTooLarge, err)
	case errors.Is(err, build.ErrOutOfOrder):
		return fmt.Errorf("%w: %w", ErrOutOfOrder, err)
	case errors.Is(err, btree.ErrClosed), errors.Is(err, datafile.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, btree.ErrCorrupt),
		errors.Is(err, page.ErrCorrupt),
		errors.Is(err, datafile.ErrCorrupt),
		errors.Is(err, datafile.ErrChecksumMismatch),
		errors.Is(err, header.ErrChecksumMismatch),
		errors.Is(err, sortstream.ErrCorruptRun):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}
