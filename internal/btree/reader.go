package btree

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/fastpath"
	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// PageSource reads page images by downlink.
type PageSource interface {
	ReadPage(ctx context.Context, d datafile.Downlink) ([]byte, error)
}

// Stats counts how descents were resolved.
type Stats struct {
	FastPath  uint64
	SlowPath  uint64
	Retries   uint64
	PageLoads uint64
}

// Reader serves lookups and scans over a tree written by a bulk build.
//
// Non-leaf pages are kept resident as page.Shared mirrors so descents can
// run the optimistic fast path against them. Reader is safe for concurrent
// use.
type Reader struct {
	desc      *tuple.IndexDescr
	src       PageSource
	root      datafile.Downlink
	rootLevel int
	leafPages uint32
	lens      page.FixedLens
	opts      options

	mu       sync.RWMutex
	pages    map[datafile.Downlink]*page.Shared
	inflight singleflight.Group
	charged  int64
	closed   bool
	blkno    atomic.Uint32

	fast, slow, retries, loads atomic.Uint64
}

// NewReader opens the tree described by hdr.
func NewReader(desc *tuple.IndexDescr, src PageSource, hdr header.FileHeader, opts ...Option) *Reader {
	o := options{maxRetries: DefaultMaxRetries, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reader{
		desc:      desc,
		src:       src,
		root:      datafile.Downlink(hdr.RootDownlink),
		rootLevel: int(hdr.RootLevel),
		leafPages: hdr.LeafPagesNum,
		lens:      page.FixedLens{Leaf: desc.LeafSpec().Len, Key: desc.NonLeafSpec().Len},
		opts:      o,
		pages:     make(map[datafile.Downlink]*page.Shared),
	}
}

// Descr returns the tuple descriptor of the tree.
func (r *Reader) Descr() *tuple.IndexDescr { return r.desc }

// RootLevel returns the level of the root page.
func (r *Reader) RootLevel() int { return r.rootLevel }

// Stats returns descent counters.
func (r *Reader) Stats() Stats {
	return Stats{
		FastPath:  r.fast.Load(),
		SlowPath:  r.slow.Load(),
		Retries:   r.retries.Load(),
		PageLoads: r.loads.Load(),
	}
}

// Close drops resident pages and returns their memory.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.pages = nil
	r.opts.rc.ReleaseMemory(r.charged)
	r.charged = 0
	return nil
}

// load returns the shared mirror of the page at d. Resident pages are
// returned as is; others are read, validated and made resident if the
// memory budget allows. Concurrent loads of one page share a single read.
func (r *Reader) load(ctx context.Context, d datafile.Downlink) (*page.Shared, error) {
	if p, err := r.resident(d); p != nil || err != nil {
		return p, err
	}
	v, err, _ := r.inflight.Do(strconv.FormatUint(uint64(d), 16), func() (any, error) {
		if p, err := r.resident(d); p != nil || err != nil {
			return p, err
		}
		img, err := r.src.ReadPage(ctx, d)
		if err != nil {
			return nil, err
		}
		if _, err := page.NewView(img, r.lens); err != nil {
			return nil, fmt.Errorf("page %s: %w", d, err)
		}
		r.loads.Add(1)
		p := page.NewShared(r.blkno.Add(1), img)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, ErrClosed
		}
		if r.opts.rc.TryAcquireMemory(page.BlockSize) {
			r.pages[d] = p
			r.charged += page.BlockSize
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*page.Shared), nil
}

func (r *Reader) resident(d datafile.Downlink) (*page.Shared, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.pages[d], nil
}

// snapshot copies p into a private view.
func (r *Reader) snapshot(p *page.Shared) (*page.View, error) {
	img := make([]byte, page.BlockSize)
	p.Snapshot(img)
	return page.NewView(img, r.lens)
}

// cursor is one step of a descent: the non-leaf page visited and the child
// taken.
type cursor struct {
	p     *page.Shared
	view  *page.View
	child int
}

// descend walks from the root to the leaf that covers the key. meta and
// parts must describe the same key with the same inclusiveness. When path
// is not nil the non-leaf steps are recorded so scans can move to the next
// leaf.
func (r *Reader) descend(ctx context.Context, meta *fastpath.Meta, parts tuple.Parts, cache *fastpath.ChunkCache, path *[]cursor) (*page.Shared, error) {
	d := r.root
	for level := r.rootLevel; ; level-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := r.load(ctx, d)
		if err != nil {
			return nil, err
		}
		hdr := p.Header()
		if int(hdr.Level) != level {
			return nil, fmt.Errorf("%w: page %s at level %d, expected %d", ErrCorrupt, d, hdr.Level, level)
		}
		if level == 0 {
			if !hdr.Flags.IsLeaf() {
				return nil, fmt.Errorf("%w: page %s at level 0 is not a leaf", ErrCorrupt, d)
			}
			return p, nil
		}

		next, child, ok := datafile.Downlink(0), 0, false
		if meta.Enabled && !r.opts.noFastPath {
			next, child, ok = r.fastStep(p, meta, cache)
		}
		if !ok {
			v, err := r.snapshot(p)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", d, err)
			}
			if child, err = r.slowStep(v, parts); err != nil {
				return nil, fmt.Errorf("page %s: %w", d, err)
			}
			it, err := v.Item(child)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", d, err)
			}
			next = datafile.Downlink(it.Header)
		}
		if path != nil {
			*path = append(*path, cursor{p: p, child: child})
		}
		d = next
	}
}

// fastStep runs the optimistic downlink search, retrying while the page
// changes under it. It returns the downlink and the page-wide index of the
// item it came from.
func (r *Reader) fastStep(p *page.Shared, meta *fastpath.Meta, cache *fastpath.ChunkCache) (datafile.Downlink, int, bool) {
	for attempt := 0; attempt < r.opts.maxRetries; attempt++ {
		hdr := p.Header()
		loc, tuphdr, res := fastpath.FindDownlink(&hdr, p, meta, cache)
		switch res {
		case fastpath.ResultOK:
			first := int(page.ReadChunkDesc(p, loc.Chunk).Offset)
			if p.State() != hdr.State {
				r.retries.Add(1)
				continue
			}
			r.fast.Add(1)
			return datafile.Downlink(tuphdr.Downlink), loc.ItemIndex(first), true
		case fastpath.ResultRetry:
			r.retries.Add(1)
			continue
		default:
			r.opts.logger.Debug("fast path declined", "blkno", p.Blkno, "result", res.String())
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// slowStep picks the child of non-leaf page v for parts. Item 0 carries no
// key and covers everything below the first separator.
func (r *Reader) slowStep(v *page.View, parts tuple.Parts) (int, error) {
	r.slow.Add(1)
	n := v.ItemCount()
	if n == 0 {
		return 0, fmt.Errorf("%w: empty non-leaf page", ErrCorrupt)
	}
	var cmpErr error
	// Separators at 1..n-1 are ascending; count how many sort before the
	// key (or equal it when the search is not inclusive).
	k := sort.Search(n-1, func(j int) bool {
		if cmpErr != nil {
			return true
		}
		it, err := v.Item(j + 1)
		if err != nil {
			cmpErr = err
			return true
		}
		c, err := r.desc.CompareKey(parts, it.Tuple)
		if err != nil {
			cmpErr = err
			return true
		}
		if parts.Inclusive {
			return c <= 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return 0, cmpErr
	}
	return k, nil
}

// prepare builds the fast-path descriptor and the generic parts for key.
// Lower-bound descents are inclusive so that the leaf they reach holds the
// first tuple equal to the key even when duplicates straddle a split.
func (r *Reader) prepare(key tuple.SearchKey, lowerBound bool) (fastpath.Meta, tuple.Parts, error) {
	var meta fastpath.Meta
	fastpath.CanFindDownlink(fastpath.FindContext{Desc: r.desc, Op: fastpath.OpFetch}, key, &meta)
	parts, err := r.desc.Decompose(key)
	if err != nil {
		return meta, parts, err
	}
	if lowerBound {
		meta.Inclusive = true
		parts.Inclusive = true
	}
	return meta, parts, nil
}

// FindLeaf returns the leaf page the search key descends to, using the
// same inclusiveness rules as page navigation.
func (r *Reader) FindLeaf(ctx context.Context, key tuple.SearchKey) (*page.View, error) {
	meta, parts, err := r.prepare(key, false)
	if err != nil {
		return nil, err
	}
	p, err := r.descend(ctx, &meta, parts, nil, nil)
	if err != nil {
		return nil, err
	}
	return r.snapshot(p)
}

// Lookup returns every live leaf tuple whose key equals key on the compared
// fields. Bound keys with fewer fields match by prefix.
func (r *Reader) Lookup(ctx context.Context, key tuple.SearchKey) ([]tuple.Tuple, error) {
	it, err := r.Seek(ctx, key)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []tuple.Tuple
	for it.Next() {
		c, err := r.desc.CompareLeaf(it.parts, it.Tuple())
		if err != nil {
			return nil, err
		}
		if c != 0 {
			break
		}
		out = append(out, it.Tuple().Clone())
	}
	return out, it.Err()
}

// LookupBatch runs Lookup for every key. The probes share one chunk cache
// keyed by page and search key, so repeated keys skip the chunk search.
func (r *Reader) LookupBatch(ctx context.Context, keys []tuple.SearchKey) ([][]tuple.Tuple, error) {
	cache := fastpath.NewChunkCache(DefaultChunkCacheSize * max(1, r.rootLevel))
	out := make([][]tuple.Tuple, len(keys))
	for i, key := range keys {
		it, err := r.seek(ctx, key, cache)
		if err != nil {
			return nil, err
		}
		for it.Next() {
			c, err := r.desc.CompareLeaf(it.parts, it.Tuple())
			if err != nil {
				it.Close()
				return nil, err
			}
			if c != 0 {
				break
			}
			out[i] = append(out[i], it.Tuple().Clone())
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
