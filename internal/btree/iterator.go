package btree

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/fastpath"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// DefaultChunkCacheSize is the chunk cache capacity of one iterator.
const DefaultChunkCacheSize = 16

// Iterator walks leaf tuples in key order. It is not safe for concurrent
// use.
type Iterator struct {
	r     *Reader
	ctx   context.Context
	parts tuple.Parts
	cache *fastpath.ChunkCache

	path []cursor
	leaf *page.View
	pos  int
	cur  tuple.Tuple
	err  error
	done bool
}

// Seek returns an iterator positioned before the first live tuple whose key
// is not below key.
func (r *Reader) Seek(ctx context.Context, key tuple.SearchKey) (*Iterator, error) {
	return r.seek(ctx, key, fastpath.NewChunkCache(DefaultChunkCacheSize))
}

func (r *Reader) seek(ctx context.Context, key tuple.SearchKey, cache *fastpath.ChunkCache) (*Iterator, error) {
	meta, parts, err := r.prepare(key, true)
	if err != nil {
		return nil, err
	}
	it := &Iterator{r: r, ctx: ctx, parts: parts, cache: cache}
	p, err := r.descend(ctx, &meta, parts, it.cache, &it.path)
	if err != nil {
		return nil, err
	}
	if it.leaf, err = r.snapshot(p); err != nil {
		return nil, err
	}
	if it.pos, err = it.lowerBound(); err != nil {
		return nil, err
	}
	return it, nil
}

// Scan returns an iterator over the whole tree.
func (r *Reader) Scan(ctx context.Context) (*Iterator, error) {
	return r.Seek(ctx, tuple.NoneKey())
}

func (it *Iterator) lowerBound() (int, error) {
	var cmpErr error
	pos := sort.Search(it.leaf.ItemCount(), func(i int) bool {
		if cmpErr != nil {
			return true
		}
		item, err := it.leaf.Item(i)
		if err != nil {
			cmpErr = err
			return true
		}
		c, err := it.r.desc.CompareLeaf(it.parts, item.Tuple)
		if err != nil {
			cmpErr = err
			return true
		}
		return c <= 0
	})
	return pos, cmpErr
}

// Next advances to the next live tuple.
func (it *Iterator) Next() bool {
	for !it.done && it.err == nil {
		if it.pos < it.leaf.ItemCount() {
			item, err := it.leaf.Item(it.pos)
			if err != nil {
				it.err = err
				return false
			}
			it.pos++
			if page.UnpackLeafTuphdr(item.Header).Deleted {
				continue
			}
			it.cur = item.Tuple
			return true
		}
		if err := it.nextLeaf(); err != nil {
			it.err = err
		}
	}
	return false
}

// nextLeaf moves to the leaf right of the current one by climbing the
// recorded path to the first ancestor with a child left to visit.
func (it *Iterator) nextLeaf() error {
	if err := it.ctx.Err(); err != nil {
		return err
	}
	for len(it.path) > 0 {
		top := &it.path[len(it.path)-1]
		if top.view == nil {
			v, err := it.r.snapshot(top.p)
			if err != nil {
				return err
			}
			top.view = v
		}
		if top.child+1 >= top.view.ItemCount() {
			it.path = it.path[:len(it.path)-1]
			continue
		}
		top.child++
		item, err := top.view.Item(top.child)
		if err != nil {
			return err
		}
		return it.leftmost(datafile.Downlink(item.Header), int(top.view.Header().Level)-1)
	}
	it.done = true
	return nil
}

// leftmost descends along first children from d, whose page sits at level.
func (it *Iterator) leftmost(d datafile.Downlink, level int) error {
	for {
		p, err := it.r.load(it.ctx, d)
		if err != nil {
			return err
		}
		v, err := it.r.snapshot(p)
		if err != nil {
			return err
		}
		if int(v.Header().Level) != level {
			return fmt.Errorf("%w: page %s at level %d, expected %d", ErrCorrupt, d, v.Header().Level, level)
		}
		if level == 0 {
			if !v.IsLeaf() {
				return fmt.Errorf("%w: page %s at level 0 is not a leaf", ErrCorrupt, d)
			}
			it.leaf, it.pos = v, 0
			return nil
		}
		it.path = append(it.path, cursor{p: p, view: v})
		item, err := v.Item(0)
		if err != nil {
			return err
		}
		d = datafile.Downlink(item.Header)
		level--
	}
}

// Tuple returns the current tuple. It is valid until the next call to Next.
func (it *Iterator) Tuple() tuple.Tuple { return it.cur }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// ChunkCacheStats returns the hit and miss counts of the iterator's chunk
// cache.
func (it *Iterator) ChunkCacheStats() (hits, misses uint64) { return it.cache.Stats() }

// Close releases the iterator.
func (it *Iterator) Close() {
	it.done = true
	it.path = nil
	it.leaf = nil
}
