package datafile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/resource"
)

// Writer appends framed pages to a datafile and hands out downlinks.
//
// Space is managed in UnitSize units and pages are only ever appended, so a
// datafile holds exactly the pages of one checkpoint. A Writer is safe for
// concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      fs.File
	out    *resource.RateLimitedWriterAt
	opts   options
	logger *slog.Logger

	units  uint64 // file length in units
	pages  uint64
	closed bool
}

// Create truncates or creates the datafile at path.
func Create(fsys fs.FileSystem, path string, opts ...Option) (*Writer, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datafile: create %s: %w", path, err)
	}
	return NewWriter(f, opts...)
}

// NewWriter wraps an open file. The file's current size, rounded up to a
// unit, is where appends start.
func NewWriter(f fs.File, opts ...Option) (*Writer, error) {
	o := applyOptions(opts)
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:      f,
		out:    resource.NewRateLimitedWriterAt(f, o.rc),
		opts:   o,
		logger: o.logger,
		units:  unitsFor(int(st.Size())),
	}, nil
}

// WritePage stores img and returns its downlink.
func (w *Writer) WritePage(ctx context.Context, img []byte) (Downlink, error) {
	block, err := encodeBlock(img, w.opts.compression)
	if err != nil {
		return InvalidDownlink, err
	}
	n := unitsFor(len(block))
	if n > MaxLengthUnits {
		return InvalidDownlink, fmt.Errorf("%w: %d bytes", ErrExtentTooLarge, len(block))
	}
	if pad := int(n)*UnitSize - len(block); pad > 0 {
		block = append(block, make([]byte, pad)...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return InvalidDownlink, ErrClosed
	}

	off := w.units
	if off+n > MaxOffsetUnits {
		return InvalidDownlink, fmt.Errorf("%w: datafile full", ErrExtentTooLarge)
	}

	if _, err := w.out.WriteAt(ctx, block, int64(off)*UnitSize); err != nil {
		return InvalidDownlink, fmt.Errorf("datafile: write page: %w", err)
	}
	w.units = off + n
	w.pages++
	return MakeDownlink(w.opts.checkpoint, off, n), nil
}

// Length returns the datafile length in bytes.
func (w *Writer) Length() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.units * UnitSize
}

// FreeBlocks returns the number of free units. Appends leave no holes, so
// it is always zero.
func (w *Writer) FreeBlocks() uint64 { return 0 }

// Pages returns the number of pages written.
func (w *Writer) Pages() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages
}

// Checkpoint returns the checkpoint stamped into downlinks.
func (w *Writer) Checkpoint() uint32 { return w.opts.checkpoint }

// Sync flushes the datafile.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.f.Sync()
}

// Close syncs and closes the datafile. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
