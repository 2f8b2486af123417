package btree

import (
	"bytes"
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// Report summarizes a verified tree.
type Report struct {
	Pages     int
	LeafPages int
	Tuples    int
	// Levels counts pages per level, leaves first.
	Levels []int
}

// Verify walks the whole tree and checks its structure: levels, edge flags,
// high keys against parent separators, key order and page uniqueness.
func (r *Reader) Verify(ctx context.Context) (Report, error) {
	v := verifier{
		r:       r,
		ctx:     ctx,
		visited: roaring64.New(),
		rep:     Report{Levels: make([]int, r.rootLevel+1)},
	}
	if err := v.visit(r.root, r.rootLevel, true, true, tuple.Tuple{}, tuple.Tuple{}); err != nil {
		return v.rep, err
	}
	if r.leafPages != 0 && uint32(v.rep.LeafPages) != r.leafPages {
		return v.rep, fmt.Errorf("%w: %d leaf pages, header says %d", ErrCorrupt, v.rep.LeafPages, r.leafPages)
	}
	return v.rep, nil
}

type verifier struct {
	r       *Reader
	ctx     context.Context
	visited *roaring64.Bitmap
	rep     Report
	last    tuple.Tuple
}

func (v *verifier) corrupt(d datafile.Downlink, format string, args ...any) error {
	return fmt.Errorf("%w: page %s: %s", ErrCorrupt, d, fmt.Sprintf(format, args...))
}

func (v *verifier) visit(d datafile.Downlink, level int, leftmost, rightmost bool, low, high tuple.Tuple) error {
	if err := v.ctx.Err(); err != nil {
		return err
	}
	if !v.visited.CheckedAdd(d.OffsetUnits()) {
		return v.corrupt(d, "referenced twice")
	}
	p, err := v.r.load(v.ctx, d)
	if err != nil {
		return err
	}
	pv, err := v.r.snapshot(p)
	if err != nil {
		return fmt.Errorf("page %s: %w", d, err)
	}
	h := pv.Header()
	v.rep.Pages++
	v.rep.Levels[level]++

	switch {
	case int(h.Level) != level:
		return v.corrupt(d, "level %d, expected %d", h.Level, level)
	case pv.IsLeaf() != (level == 0):
		return v.corrupt(d, "leaf flag at level %d", level)
	case h.Flags.IsLeftmost() != leftmost:
		return v.corrupt(d, "leftmost flag")
	case h.Flags.IsRightmost() != rightmost:
		return v.corrupt(d, "rightmost flag")
	}

	hikey, hasHikey, err := pv.Hikey()
	if err != nil {
		return fmt.Errorf("page %s: %w", d, err)
	}
	if hasHikey == rightmost {
		return v.corrupt(d, "high key presence")
	}
	if hasHikey && !bytes.Equal(hikey.Data, high.Data) {
		return v.corrupt(d, "high key differs from parent separator")
	}

	items, err := pv.Items()
	if err != nil {
		return fmt.Errorf("page %s: %w", d, err)
	}
	if level == 0 {
		return v.leaf(d, items, low, high)
	}

	if len(items) == 0 {
		return v.corrupt(d, "empty non-leaf page")
	}
	if int(h.NOnDisk) != len(items) {
		return v.corrupt(d, "%d on-disk children, %d items", h.NOnDisk, len(items))
	}
	for i, it := range items {
		childLow, childHigh := low, high
		if i > 0 {
			childLow = it.Tuple
			if !low.IsEmpty() {
				if c, err := v.compareKeys(low, it.Tuple); err != nil || c > 0 {
					return v.corrupt(d, "separator %d below low key", i)
				}
			}
			if i > 1 {
				if c, err := v.compareKeys(items[i-1].Tuple, it.Tuple); err != nil || c > 0 {
					return v.corrupt(d, "separator %d out of order", i)
				}
			}
		}
		if i+1 < len(items) {
			childHigh = items[i+1].Tuple
		}
		if err := v.visit(datafile.Downlink(it.Header), level-1,
			leftmost && i == 0, rightmost && i == len(items)-1, childLow, childHigh); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) leaf(d datafile.Downlink, items []page.Item, low, high tuple.Tuple) error {
	v.rep.LeafPages++
	desc := v.r.desc
	for i, it := range items {
		if !low.IsEmpty() {
			if c, err := v.keyVsLeaf(low, it.Tuple); err != nil || c > 0 {
				return v.corrupt(d, "tuple %d below low key", i)
			}
		}
		if !high.IsEmpty() {
			if c, err := v.keyVsLeaf(high, it.Tuple); err != nil || c < 0 {
				return v.corrupt(d, "tuple %d above high key", i)
			}
		}
		if !v.last.IsEmpty() {
			c, err := desc.CompareTuples(v.last, it.Tuple, len(desc.KeyFields()))
			if err != nil || c > 0 {
				return v.corrupt(d, "tuple %d out of order", i)
			}
		}
		v.last = it.Tuple.Clone()
		v.rep.Tuples++
	}
	return nil
}

func (v *verifier) keyVsLeaf(key, leaf tuple.Tuple) (int, error) {
	parts, err := v.r.desc.Decompose(tuple.TupleKey(tuple.KeyNonLeafKey, key))
	if err != nil {
		return 0, err
	}
	return v.r.desc.CompareLeaf(parts, leaf)
}

func (v *verifier) compareKeys(a, b tuple.Tuple) (int, error) {
	parts, err := v.r.desc.Decompose(tuple.TupleKey(tuple.KeyNonLeafKey, a))
	if err != nil {
		return 0, err
	}
	return v.r.desc.CompareKey(parts, b)
}
