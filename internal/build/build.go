package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// splitRatio is the share of the item bytes that stays on the left page of
// a split. Input arrives sorted, so the right page only receives appends.
const splitRatio = 0.9

// PageWriter persists page images. *datafile.Writer implements it.
type PageWriter interface {
	WritePage(ctx context.Context, img []byte) (datafile.Downlink, error)
	// Length returns the datafile length in bytes.
	Length() uint64
	// FreeBlocks returns the number of free datafile units.
	FreeBlocks() uint64
	// Checkpoint returns the checkpoint number stamped into downlinks.
	Checkpoint() uint32
}

// Meta holds the counters a build reports in the file header.
type Meta struct {
	// DatafileLength is indexed by checkpoint parity.
	DatafileLength [2]uint64
	NumFreeBlocks  uint64
	LeafPagesNum   uint32
	Ctid           uint64
	BridgeCtid     uint64
}

type frame struct {
	b *page.Builder
	// key is the low key of the open page, empty for the leftmost page of
	// the level.
	key tuple.Tuple
}

// State builds a tree bottom-up from tuples that arrive in key order.
//
// Each level has at most one open page. When the open page of a level is
// full it is split, the left part is written, and its downlink moves up one
// level. The first split of the top level grows the tree. A State is not
// safe for concurrent use.
type State struct {
	desc   *tuple.IndexDescr
	w      PageWriter
	opts   options
	logger *slog.Logger

	levels    [page.MaxDepth]frame
	rootLevel int
	reserve   int
	meta      Meta

	prev     tuple.Tuple
	tuples   uint64
	pages    [page.MaxDepth]uint32
	err      error
	finished bool
}

// Start begins a build of desc writing pages through w.
func Start(desc *tuple.IndexDescr, w PageWriter, opts ...Option) *State {
	o := options{logger: slog.New(slog.DiscardHandler), fillFactor: desc.FillFactor}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fillFactor == 0 {
		o.fillFactor = tuple.DefaultFillFactor
	}
	o.fillFactor = min(max(o.fillFactor, 10), 100)

	s := &State{
		desc:    desc,
		w:       w,
		opts:    o,
		logger:  o.logger,
		reserve: page.BlockSize * (100 - o.fillFactor) / 100,
		meta:    Meta{Ctid: o.ctid, BridgeCtid: o.bridgeCtid},
	}
	s.levels[0].b = page.NewBuilder(0, page.FlagLeaf, desc.MakeKey)
	return s
}

// Meta returns the current counters.
func (s *State) Meta() Meta { return s.meta }

// RootLevel returns the current height of the tree minus one.
func (s *State) RootLevel() int { return s.rootLevel }

// Tuples returns the number of tuples added.
func (s *State) Tuples() uint64 { return s.tuples }

// Err returns the error that poisoned the build, if any.
func (s *State) Err() error { return s.err }

// AddTuple appends a leaf tuple. Tuples must arrive in key order.
func (s *State) AddTuple(ctx context.Context, tup tuple.Tuple) error {
	if err := s.usable(); err != nil {
		return err
	}
	if tup.Len() > page.MaxTupleSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTupleTooLarge, tup.Len(), page.MaxTupleSize)
	}
	if s.opts.checkOrder && s.tuples > 0 {
		c, err := s.desc.CompareTuples(s.prev, tup, s.desc.NKeyFields)
		if err != nil {
			return err
		}
		if c > 0 {
			return fmt.Errorf("%w: tuple %d", ErrOutOfOrder, s.tuples)
		}
		if s.desc.IsUnique() {
			if err := s.checkUnique(tup); err != nil {
				return err
			}
		}
	}

	// The key of a leaf tuple is never longer than the tuple.
	hdr := page.LeafTuphdr{XactInfo: page.FrozenXactInfo}
	if err := s.put(ctx, 0, page.Item{Header: hdr.Pack(), Tuple: tup.Clone()}, tup.Len()); err != nil {
		return s.fail(err)
	}
	if s.opts.checkOrder {
		s.prev = tup.Clone()
	}
	s.tuples++
	return nil
}

// checkUnique rejects tup when it repeats the unique prefix of the previous
// tuple. Tuples with a null in the prefix never conflict.
func (s *State) checkUnique(tup tuple.Tuple) error {
	n := s.desc.NUniqueFields
	null, err := s.desc.HasNullKey(tup, n)
	if err != nil || null {
		return err
	}
	c, err := s.desc.CompareTuples(s.prev, tup, n)
	if err != nil {
		return err
	}
	if c == 0 {
		return fmt.Errorf("%w: tuple %d", ErrUniqueViolation, s.tuples)
	}
	return nil
}

// SetPositions overrides the tuple positions recorded in the header.
func (s *State) SetPositions(ctid, bridgeCtid uint64) {
	s.meta.Ctid = ctid
	s.meta.BridgeCtid = bridgeCtid
}

// Finish writes the open pages bottom-up and then the root, and returns the
// file header of the new tree. An empty build yields a single empty leaf.
func (s *State) Finish(ctx context.Context) (header.FileHeader, error) {
	if err := s.usable(); err != nil {
		return header.FileHeader{}, err
	}

	// A flush can split the parent and grow the tree, so the root level is
	// read again on every iteration.
	for i := 0; i < s.rootLevel; i++ {
		f := &s.levels[i]
		if i != 0 {
			f.b.SetNOnDisk(f.b.Len())
		}
		d, err := s.writePage(ctx, f.b)
		if err != nil {
			return header.FileHeader{}, s.fail(err)
		}
		if err := s.put(ctx, i+1, page.Item{Header: uint64(d), Tuple: f.key}, f.key.Len()); err != nil {
			return header.FileHeader{}, s.fail(err)
		}
	}

	root := s.levels[s.rootLevel].b
	if s.rootLevel == 0 {
		root.SetFlags(page.RootInitFlags)
	} else {
		root.SetNOnDisk(root.Len())
	}
	d, err := s.writePage(ctx, root)
	if err != nil {
		return header.FileHeader{}, s.fail(err)
	}
	s.finished = true

	hdr := header.FileHeader{
		RootDownlink:   uint64(d),
		DatafileLength: s.meta.DatafileLength[d.Checkpoint()%2],
		NumFreeBlocks:  s.meta.NumFreeBlocks,
		LeafPagesNum:   s.meta.LeafPagesNum,
		Ctid:           s.meta.Ctid,
		BridgeCtid:     s.meta.BridgeCtid,
		RootLevel:      uint16(s.rootLevel),
	}
	s.logger.Info("build finished",
		"tuples", s.tuples,
		"levels", s.rootLevel+1,
		"leaf_pages", s.meta.LeafPagesNum,
		"datafile_length", hdr.DatafileLength,
	)
	return hdr, nil
}

// put appends it to the open page of level, splitting pages up the levels
// as needed.
func (s *State) put(ctx context.Context, level int, it page.Item, keyLen int) error {
	for {
		if level >= page.MaxDepth {
			return ErrTooDeep
		}
		f := &s.levels[level]
		if f.b == nil {
			f.b = page.NewBuilder(level, 0, s.desc.MakeKey)
		}
		if s.fits(f.b, it, keyLen) {
			f.b.Append(it, keyLen)
			return nil
		}

		left := f.b
		right, hikey, err := s.split(left, it)
		if err != nil {
			return err
		}
		if level == s.rootLevel {
			if level+1 >= page.MaxDepth {
				return ErrTooDeep
			}
			parent := &s.levels[level+1]
			if parent.b == nil {
				parent.b = page.NewBuilder(level+1, 0, s.desc.MakeKey)
			}
			parent.b.SetFlags(page.FlagRightmost | page.FlagLeftmost)
			left.AddFlags(page.FlagLeftmost)
			s.rootLevel = level + 1
			s.logger.Debug("tree grown", "root_level", s.rootLevel)
		}
		if level != 0 {
			left.SetNOnDisk(left.Len())
		}
		left.SetHikey(hikey)

		d, err := s.writePage(ctx, left)
		if err != nil {
			return err
		}
		s.logger.Debug("page split", "level", level, "left_items", left.Len(), "right_items", right.Len(), "downlink", d.String())

		lowKey := f.key
		f.key = hikey
		f.b = right

		it = page.Item{Header: uint64(d), Tuple: lowKey}
		keyLen = lowKey.Len()
		level++
	}
}

// fits reports whether it can be appended to b without exceeding the fill
// factor, keeping room for a high key. An empty page takes any tuple.
func (s *State) fits(b *page.Builder, it page.Item, keyLen int) bool {
	if b.Len() == 0 {
		return true
	}
	hikeyLen := max(b.MaxKeyLen(), keyLen)
	free := page.BlockSize - b.SingleChunkSize(1, it.Size(), hikeyLen)
	return free >= s.reserve
}

// split moves the tail of b plus it into a new rightmost page. It returns
// the new page and the high key of the left page. The first item of a
// non-leaf page carries no key, so the separator moves into the high key.
func (s *State) split(b *page.Builder, it page.Item) (*page.Builder, tuple.Tuple, error) {
	items := append(b.Items(), it)
	leftCount := splitLocation(items, splitRatio)

	var hikey tuple.Tuple
	first := items[leftCount]
	if b.IsLeaf() {
		key, err := s.desc.MakeKey(first.Tuple)
		if err != nil {
			return nil, tuple.Tuple{}, err
		}
		hikey = key
	} else {
		hikey = first.Tuple.Clone()
		first.Tuple = tuple.Tuple{}
	}

	right := page.NewBuilder(b.Level(), page.FlagRightmost, s.desc.MakeKey)
	right.Append(first, hikey.Len())
	for _, ri := range items[leftCount+1:] {
		right.Append(ri, ri.Tuple.Len())
	}
	b.ClearFlags(page.FlagRightmost)
	b.Reset(items[:leftCount:leftCount])
	return right, hikey, nil
}

// splitLocation returns the number of items that stay on the left so that
// the left holds about ratio of the item bytes. Both sides keep at least
// one item.
func splitLocation(items []page.Item, ratio float64) int {
	total := 0
	for _, it := range items {
		total += it.Size()
	}
	target := int(float64(total) * ratio)
	cum, n := 0, 0
	for n < len(items)-1 && cum+items[n].Size() <= target {
		cum += items[n].Size()
		n++
	}
	return max(n, 1)
}

func (s *State) writePage(ctx context.Context, b *page.Builder) (datafile.Downlink, error) {
	img, err := b.Image()
	if err != nil {
		return datafile.InvalidDownlink, err
	}
	d, err := s.w.WritePage(ctx, img)
	if err != nil {
		return datafile.InvalidDownlink, err
	}
	if b.Level() == 0 {
		s.meta.LeafPagesNum++
	}
	s.pages[b.Level()]++
	s.meta.DatafileLength[s.w.Checkpoint()%2] = s.w.Length()
	s.meta.NumFreeBlocks = s.w.FreeBlocks()
	return d, nil
}

// Pages returns the number of pages written at level.
func (s *State) Pages(level int) uint32 {
	if level < 0 || level >= page.MaxDepth {
		return 0
	}
	return s.pages[level]
}

func (s *State) usable() error {
	if s.err != nil {
		return s.err
	}
	if s.finished {
		return ErrFinished
	}
	return nil
}

func (s *State) fail(err error) error {
	s.err = fmt.Errorf("%w: %w", ErrBuildFailed, err)
	s.logger.Error("build failed", "tuples", s.tuples, "error", err)
	return s.err
}
