package fastpath

import (
	"github.com/hupe1980/obtree/internal/page"
)

// Result is the outcome of a fast-path navigation step.
type Result uint8

const (
	// ResultOK means the returned location can be trusted.
	ResultOK Result = iota
	// ResultRetry means a concurrent write was detected. Nothing read may
	// be used; the caller retries or falls back.
	ResultRetry
	// ResultFailure is reserved for hard failures.
	ResultFailure
	// ResultSlowpath means the page or key shape is not fast-path eligible.
	ResultSlowpath
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultRetry:
		return "retry"
	case ResultFailure:
		return "failure"
	case ResultSlowpath:
		return "slowpath"
	}
	return "unknown"
}

// Locator points at an item inside a page.
type Locator struct {
	Chunk           int
	ChunkOffset     int
	ChunkItemsCount int
	ChunkSize       int
	// ItemOffset is the item index within the chunk.
	ItemOffset int
}

// ItemIndex returns the page-wide item index given the first item index of
// the chunk.
func (l Locator) ItemIndex(chunkFirst int) int { return chunkFirst + l.ItemOffset }

type hookStage uint8

const (
	stageChunkScanned hookStage = iota
	stageTuphdrLocated
)

// testHook runs between the optimistic reads and their validation.
var testHook func(stage hookStage, p *page.Shared)

func runHook(stage hookStage, p *page.Shared) {
	if testHook != nil {
		testHook(stage, p)
	}
}

func stateMoved(p *page.Shared, changeCount uint64) bool {
	s := p.State()
	return page.ReadBlocked(s) || page.ChangeCount(s) != changeCount
}

func mustEnabled(meta *Meta) {
	if !meta.Enabled {
		panic("fastpath: navigation with a disabled descriptor")
	}
}

// FindChunk locates the chunk of p that holds meta's key. hdr must be a
// header snapshot of p; its state word anchors validation.
func FindChunk(hdr *page.Header, p *page.Shared, meta *Meta) (int, Result) {
	mustEnabled(meta)
	if page.ReadBlocked(hdr.State) {
		return 0, ResultRetry
	}
	changeCount := page.ChangeCount(hdr.State)
	if hdr.Flags&page.FlagHikeysFixed == 0 {
		return 0, ResultSlowpath
	}
	rightmost := hdr.Flags.IsRightmost()
	count := int(hdr.ChunksCount)
	if rightmost {
		count--
	}
	if count < 0 || int(hdr.ChunksCount) > page.MaxChunks {
		return 0, ResultSlowpath
	}
	hikeys := int(page.ReadChunkDesc(p, 0).HikeyLocation)
	if int(hdr.HikeysEnd)-hikeys != count*meta.Length || hikeys+count*meta.Length > page.BlockSize {
		if stateMoved(p, changeCount) {
			return 0, ResultRetry
		}
		return 0, ResultSlowpath
	}

	lower, upper := narrow(p, hikeys, meta.Length, 0, count, meta)
	index := upper
	if meta.Inclusive {
		index = lower
	}

	runHook(stageChunkScanned, p)
	if stateMoved(p, changeCount) {
		return 0, ResultRetry
	}
	if index >= count {
		// Past the last high key: the right sibling or the trailing
		// chunk of a rightmost page is left to the generic search.
		return 0, ResultSlowpath
	}
	return index, ResultOK
}

// narrow runs the two-phase search field by field over the array at base.
func narrow(m page.Memory, base, stride, lower, upper int, meta *Meta) (int, int) {
	for i := 0; i < meta.NumKeys && lower < upper; i++ {
		switch meta.Flags[i] {
		case KeyPlain:
			lower, upper = meta.Funcs[i](m, base+meta.Offsets[i], stride, lower, upper, meta.Values[i])
		case KeyMinusInf:
			upper = lower
		case KeyPlusInf:
			lower = upper
		}
	}
	return lower, upper
}

// chunkBounds returns the location, byte size, first item and item count of
// chunk c.
func chunkBounds(hdr *page.Header, p *page.Shared, c int) (loc, size, first, n int, keysFixed bool) {
	d := page.ReadChunkDesc(p, c)
	loc, first = int(d.Location), int(d.Offset)
	if c+1 < int(hdr.ChunksCount) {
		next := page.ReadChunkDesc(p, c+1)
		size, n = int(next.Location)-loc, int(next.Offset)-first
	} else {
		size, n = int(hdr.DataSize)-loc, int(hdr.ItemsCount)-first
	}
	return loc, size, first, n, d.KeysFixed
}

// keyedLayout returns where the keyed items of a fixed chunk start and how
// many there are. The first item of a non-leaf page has no key.
func keyedLayout(c, loc, n int) (base, count int) {
	base = loc + page.Align(2*n)
	count = n
	if c == 0 {
		base += page.TuphdrSize
		count--
	}
	return base, count
}

func fixedChunkOK(size, n, count, length int) bool {
	return n > 0 && size == page.Align(2*n)+page.TuphdrSize*n+length*count
}

// tuphdrOffset returns the byte offset of the header of item j of chunk c,
// whose keyed items start at base.
func tuphdrOffset(c, base, stride, j int) int {
	if c == 0 {
		if j == 0 {
			return base - page.TuphdrSize
		}
		return base + stride*(j-1)
	}
	return base + stride*j
}

// FindDownlink locates the downlink to follow for meta's key on the non-leaf
// page p. cache is optional and shared across probes of one scan.
func FindDownlink(hdr *page.Header, p *page.Shared, meta *Meta, cache *ChunkCache) (Locator, page.NonLeafTuphdr, Result) {
	mustEnabled(meta)
	var loc Locator
	if page.ReadBlocked(hdr.State) {
		return loc, page.NonLeafTuphdr{}, ResultRetry
	}
	if hdr.Flags.IsLeaf() {
		return loc, page.NonLeafTuphdr{}, ResultSlowpath
	}
	changeCount := page.ChangeCount(hdr.State)

	chunk, cached := -1, false
	var key CacheKey
	if meta.cache.valid && meta.cache.blkno == p.Blkno && meta.cache.changeCount == changeCount {
		chunk, cached = meta.cache.chunk, true
	} else if cache != nil {
		key = meta.CacheKey()
		chunk, cached = cache.Get(p.Blkno, changeCount, key)
	}
	if !cached {
		var res Result
		if chunk, res = FindChunk(hdr, p, meta); res != ResultOK {
			return loc, page.NonLeafTuphdr{}, res
		}
		if cache != nil {
			cache.Put(p.Blkno, changeCount, key, chunk)
		}
	}
	meta.cache = slot{valid: true, blkno: p.Blkno, changeCount: changeCount, chunk: chunk}

	if chunk >= int(hdr.ChunksCount) {
		return loc, page.NonLeafTuphdr{}, ResultSlowpath
	}
	cloc, size, _, n, fixed := chunkBounds(hdr, p, chunk)
	if !fixed {
		return loc, page.NonLeafTuphdr{}, ResultSlowpath
	}
	base, count := keyedLayout(chunk, cloc, n)
	if !fixedChunkOK(size, n, count, meta.Length) || cloc+size > page.BlockSize {
		if stateMoved(p, changeCount) {
			return loc, page.NonLeafTuphdr{}, ResultRetry
		}
		return loc, page.NonLeafTuphdr{}, ResultSlowpath
	}

	stride := page.TuphdrSize + meta.Length
	lower, upper := narrow(p, base+page.TuphdrSize, stride, 0, count, meta)
	idx := upper
	if meta.Inclusive {
		idx = lower
	}

	loc = Locator{Chunk: chunk, ChunkOffset: cloc, ChunkItemsCount: n, ChunkSize: size}
	var hdrOff int
	switch {
	case chunk == 0:
		loc.ItemOffset = idx
		hdrOff = tuphdrOffset(0, base, stride, idx)
	case idx > 0:
		loc.ItemOffset = idx - 1
		hdrOff = tuphdrOffset(chunk, base, stride, idx-1)
	default:
		// Nothing in this chunk is <= key: take the last item of the
		// previous chunk, a different region that needs validating too.
		prev := chunk - 1
		ploc, psize, _, pn, pfixed := chunkBounds(hdr, p, prev)
		if !pfixed {
			return Locator{}, page.NonLeafTuphdr{}, ResultSlowpath
		}
		pbase, pcount := keyedLayout(prev, ploc, pn)
		if !fixedChunkOK(psize, pn, pcount, meta.Length) || ploc+psize > page.BlockSize {
			if stateMoved(p, changeCount) {
				return Locator{}, page.NonLeafTuphdr{}, ResultRetry
			}
			return Locator{}, page.NonLeafTuphdr{}, ResultSlowpath
		}
		if stateMoved(p, changeCount) {
			return Locator{}, page.NonLeafTuphdr{}, ResultRetry
		}
		loc = Locator{Chunk: prev, ChunkOffset: ploc, ChunkItemsCount: pn, ChunkSize: psize, ItemOffset: pn - 1}
		hdrOff = tuphdrOffset(prev, pbase, stride, pn-1)
	}

	runHook(stageTuphdrLocated, p)
	if stateMoved(p, changeCount) {
		return Locator{}, page.NonLeafTuphdr{}, ResultRetry
	}
	tuphdr := page.NonLeafTuphdr{Downlink: p.Load64(hdrOff)}
	if stateMoved(p, changeCount) {
		return Locator{}, page.NonLeafTuphdr{}, ResultRetry
	}
	return loc, tuphdr, ResultOK
}
