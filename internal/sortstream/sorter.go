package sortstream

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/tuple"
)

// tupleOverhead approximates the per-tuple bookkeeping in the buffer.
const tupleOverhead = 32

var sorterSeq atomic.Uint64

// Sorter orders leaf tuples by key. Tuples are buffered in memory and
// spilled as sorted zstd runs when the buffer exceeds its budget; Next
// merges the runs. Equal keys keep their input order.
//
// A Sorter is used in two phases: Add every tuple, call Sort, then drain
// with Next. It is not safe for concurrent use.
type Sorter struct {
	desc   *tuple.IndexDescr
	opts   options
	logger *slog.Logger
	nkeys  int

	buf      []tuple.Tuple
	bufBytes int64
	charged  int64
	runs     []string
	id       uint64

	sorted  bool
	merge   *mergeHeap
	readers []*runReader
	prev    tuple.Tuple
	hasPrev bool
	count   uint64
	err     error
}

// New returns a Sorter for the leaf tuples of desc.
func New(desc *tuple.IndexDescr, opts ...Option) *Sorter {
	o := options{fsys: fs.Default, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.memoryLimit <= 0 {
		o.memoryLimit = DefaultMemoryLimit
	}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	return &Sorter{
		desc:   desc,
		opts:   o,
		logger: o.logger,
		nkeys:  len(desc.KeyAttrs),
		id:     sorterSeq.Add(1),
	}
}

// Add buffers a copy of tup.
func (s *Sorter) Add(ctx context.Context, tup tuple.Tuple) error {
	if s.err != nil {
		return s.err
	}
	if s.sorted {
		return ErrSorted
	}
	size := int64(tup.Len() + tupleOverhead)
	if size > s.opts.memoryLimit {
		return fmt.Errorf("%w: %d bytes", ErrMemoryLimit, size)
	}
	if s.bufBytes+size > s.opts.memoryLimit || !s.opts.rc.TryAcquireMemory(size) {
		if err := s.spill(ctx); err != nil {
			return s.fail(err)
		}
		if !s.opts.rc.TryAcquireMemory(size) {
			return fmt.Errorf("%w: %d bytes", ErrMemoryLimit, size)
		}
	}
	s.charged += size
	s.bufBytes += size
	s.buf = append(s.buf, tup.Clone())
	return nil
}

// Runs returns the number of spilled runs.
func (s *Sorter) Runs() int { return len(s.runs) }

// Sort ends the input and prepares the merge.
func (s *Sorter) Sort(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.sorted {
		return nil
	}
	s.sorted = true
	if err := s.sortBuffer(); err != nil {
		return s.fail(err)
	}

	h := &mergeHeap{less: s.less}
	for i, path := range s.runs {
		r, err := openRun(s.opts.fsys, path)
		if err != nil {
			return s.fail(err)
		}
		s.readers = append(s.readers, r)
		src := &source{order: i, next: r.next}
		if err := h.pushNext(src); err != nil {
			return s.fail(err)
		}
	}
	mem := &memSource{tuples: s.buf}
	if err := h.pushNext(&source{order: len(s.runs), next: mem.next}); err != nil {
		return s.fail(err)
	}
	s.merge = h
	s.logger.Debug("sort ready", "runs", len(s.runs), "buffered", len(s.buf))
	return ctx.Err()
}

// Next returns the next tuple in key order. ok is false when drained.
func (s *Sorter) Next(ctx context.Context) (tuple.Tuple, bool, error) {
	if s.err != nil {
		return tuple.Tuple{}, false, s.err
	}
	if !s.sorted {
		return tuple.Tuple{}, false, ErrNotSorted
	}
	if s.merge.Len() == 0 {
		return tuple.Tuple{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return tuple.Tuple{}, false, err
	}

	top := s.merge.items[0]
	tup := top.cur
	if err := s.merge.advance(); err != nil {
		return tuple.Tuple{}, false, s.fail(err)
	}

	if s.opts.unique {
		if err := s.checkUnique(tup); err != nil {
			return tuple.Tuple{}, false, s.fail(err)
		}
	}
	s.count++
	return tup, true, nil
}

// checkUnique compares tup with its predecessor on the unique prefix.
// Tuples with a null in the prefix never conflict.
func (s *Sorter) checkUnique(tup tuple.Tuple) error {
	n := s.desc.NUniqueFields
	null, err := s.desc.HasNullKey(tup, n)
	if err != nil || null {
		return err
	}
	if s.hasPrev {
		c, err := s.desc.CompareTuples(s.prev, tup, n)
		if err != nil {
			return err
		}
		if c == 0 {
			return fmt.Errorf("%w: tuple %d", ErrUniqueViolation, s.count)
		}
	}
	s.prev, s.hasPrev = tup, true
	return nil
}

func (s *Sorter) less(a, b *source) bool {
	c, err := s.desc.CompareTuples(a.cur, b.cur, s.nkeys)
	if err != nil && s.err == nil {
		s.err = err
	}
	if c != 0 {
		return c < 0
	}
	return a.order < b.order
}

func (s *Sorter) sortBuffer() error {
	var cmpErr error
	slices.SortStableFunc(s.buf, func(a, b tuple.Tuple) int {
		c, err := s.desc.CompareTuples(a, b, s.nkeys)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c
	})
	return cmpErr
}

// spill writes the sorted buffer as a run and releases its memory.
func (s *Sorter) spill(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sortBuffer(); err != nil {
		return err
	}
	path := filepath.Join(s.opts.tempDir, fmt.Sprintf("obtree-sort-%d-%d-%06d.run", os.Getpid(), s.id, len(s.runs)))
	w, err := createRun(s.opts.fsys, path)
	if err != nil {
		return err
	}
	s.runs = append(s.runs, path)
	for _, t := range s.buf {
		if err := w.write(t); err != nil {
			_ = w.close()
			return err
		}
	}
	if err := w.close(); err != nil {
		return err
	}
	s.logger.Debug("sort run spilled", "run", len(s.runs)-1, "tuples", len(s.buf), "bytes", s.bufBytes)

	s.opts.rc.ReleaseMemory(s.charged)
	s.charged = 0
	s.buf = nil
	s.bufBytes = 0
	return nil
}

func (s *Sorter) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return s.err
}

// Close removes spill runs and releases buffered memory.
func (s *Sorter) Close() error {
	var errs []error
	for _, r := range s.readers {
		errs = append(errs, r.close())
	}
	s.readers = nil
	for _, path := range s.runs {
		if err := s.opts.fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.runs = nil
	s.opts.rc.ReleaseMemory(s.charged)
	s.charged = 0
	s.buf = nil
	return errors.Join(errs...)
}

type source struct {
	order int
	cur   tuple.Tuple
	next  func() (tuple.Tuple, bool, error)
}

type memSource struct {
	tuples []tuple.Tuple
	i      int
}

func (m *memSource) next() (tuple.Tuple, bool, error) {
	if m.i >= len(m.tuples) {
		return tuple.Tuple{}, false, nil
	}
	t := m.tuples[m.i]
	m.i++
	return t, true, nil
}

// mergeHeap is a min-heap of sources ordered by their current tuple.
type mergeHeap struct {
	items []*source
	less  func(a, b *source) bool
}

func (h *mergeHeap) Len() int           { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)         { h.items = append(h.items, x.(*source)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// pushNext loads the first tuple of src and adds it unless it is empty.
func (h *mergeHeap) pushNext(src *source) error {
	t, ok, err := src.next()
	if err != nil || !ok {
		return err
	}
	src.cur = t
	heap.Push(h, src)
	return nil
}

// advance moves the top source to its next tuple.
func (h *mergeHeap) advance() error {
	top := h.items[0]
	t, ok, err := top.next()
	if err != nil {
		return err
	}
	if !ok {
		heap.Pop(h)
		return nil
	}
	top.cur = t
	heap.Fix(h, 0)
	return nil
}
