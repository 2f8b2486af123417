package fastpath

import "github.com/hupe1980/obtree/tuple"

// ChunkCache is a bounded LRU of resolved chunk indexes keyed by page,
// change count and search key. It serves probes that revisit pages with a
// key already resolved there, where the single slot of a Meta keeps
// missing.
//
// Entries live in a fixed arena linked by index, so Get and Put never
// allocate. A ChunkCache is owned by one scan and is not safe for
// concurrent use.
type ChunkCache struct {
	entries []chunkEntry
	head    int // most recently used
	tail    int
	n       int

	hits, misses uint64
}

type chunkEntry struct {
	blkno       uint32
	changeCount uint64
	key         CacheKey
	chunk       int
	prev, next  int
}

// CacheKey identifies the decomposed search key a chunk was resolved for.
// Two descriptors with equal keys pick the same chunk on the same page.
type CacheKey struct {
	numKeys   int
	inclusive bool
	flags     [MaxKeys]KeyFlag
	values    [MaxKeys]tuple.Datum
}

// CacheKey returns the identity of m's decomposed key.
func (m *Meta) CacheKey() CacheKey {
	k := CacheKey{numKeys: m.NumKeys, inclusive: m.Inclusive}
	for i := 0; i < m.NumKeys; i++ {
		k.flags[i] = m.Flags[i]
		if m.Flags[i] == KeyPlain {
			k.values[i] = m.Values[i]
		}
	}
	return k
}

const nilEntry = -1

// NewChunkCache returns a cache holding up to capacity entries.
func NewChunkCache(capacity int) *ChunkCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkCache{
		entries: make([]chunkEntry, capacity),
		head:    nilEntry,
		tail:    nilEntry,
	}
}

// Get returns the chunk of page blkno at changeCount resolved for key.
func (c *ChunkCache) Get(blkno uint32, changeCount uint64, key CacheKey) (int, bool) {
	for i := c.head; i != nilEntry; i = c.entries[i].next {
		e := &c.entries[i]
		if e.blkno == blkno && e.key == key {
			if e.changeCount != changeCount {
				break
			}
			c.moveToFront(i)
			c.hits++
			return e.chunk, true
		}
	}
	c.misses++
	return 0, false
}

// Put records the chunk of page blkno at changeCount resolved for key,
// replacing an older entry of the same page and key.
func (c *ChunkCache) Put(blkno uint32, changeCount uint64, key CacheKey, chunk int) {
	for i := c.head; i != nilEntry; i = c.entries[i].next {
		if c.entries[i].blkno == blkno && c.entries[i].key == key {
			c.entries[i].changeCount = changeCount
			c.entries[i].chunk = chunk
			c.moveToFront(i)
			return
		}
	}
	var i int
	if c.n < len(c.entries) {
		i = c.n
		c.n++
	} else {
		i = c.tail
		c.unlink(i)
	}
	c.entries[i] = chunkEntry{blkno: blkno, changeCount: changeCount, key: key, chunk: chunk, prev: nilEntry, next: nilEntry}
	c.pushFront(i)
}

// Len returns the number of cached entries.
func (c *ChunkCache) Len() int { return c.n }

// Stats returns hit and miss counts.
func (c *ChunkCache) Stats() (hits, misses uint64) { return c.hits, c.misses }

func (c *ChunkCache) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}

func (c *ChunkCache) unlink(i int) {
	e := &c.entries[i]
	if e.prev != nilEntry {
		c.entries[e.prev].next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nilEntry {
		c.entries[e.next].prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nilEntry, nilEntry
}

func (c *ChunkCache) pushFront(i int) {
	e := &c.entries[i]
	e.prev = nilEntry
	e.next = c.head
	if c.head != nilEntry {
		c.entries[c.head].prev = i
	}
	c.head = i
	if c.tail == nilEntry {
		c.tail = i
	}
}
