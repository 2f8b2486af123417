package page

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/obtree/tuple"
)

// Item is one page item: a tuple header word and a tuple. For non-leaf
// pages the header word is the downlink.
type Item struct {
	Header uint64
	Tuple  tuple.Tuple
}

// Size returns the bytes the item occupies in a chunk, excluding its slot
// in the chunk offsets array.
func (it Item) Size() int { return TuphdrSize + Align(it.Tuple.Len()) }

// KeyFunc extracts the non-leaf key of a leaf tuple.
type KeyFunc func(leaf tuple.Tuple) (tuple.Tuple, error)

// Builder assembles a page from items appended in key order. It is not
// safe for concurrent use.
type Builder struct {
	flags     Flags
	level     int
	items     []Item
	itemsSize int
	hikey     tuple.Tuple
	maxKeyLen int
	nOnDisk   int
	csn       uint64
	makeKey   KeyFunc
}

// NewBuilder returns an empty builder for a page at level. Level 0 pages
// are leaves and need makeKey to derive chunk high keys.
func NewBuilder(level int, flags Flags, makeKey KeyFunc) *Builder {
	if level == 0 {
		flags |= FlagLeaf
	}
	return &Builder{level: level, flags: flags, makeKey: makeKey}
}

func (b *Builder) Len() int       { return len(b.items) }
func (b *Builder) Items() []Item  { return b.items }
func (b *Builder) Level() int     { return b.level }
func (b *Builder) Flags() Flags   { return b.flags }
func (b *Builder) IsLeaf() bool   { return b.flags.IsLeaf() }
func (b *Builder) MaxKeyLen() int { return b.maxKeyLen }

func (b *Builder) SetFlags(f Flags)   { b.flags = f }
func (b *Builder) AddFlags(f Flags)   { b.flags |= f }
func (b *Builder) ClearFlags(f Flags) { b.flags &^= f }

// SetNOnDisk records how many downlinks of a non-leaf page are on disk.
func (b *Builder) SetNOnDisk(n int) { b.nOnDisk = n }

// SetCSN sets the commit sequence number stamped into the header.
func (b *Builder) SetCSN(csn uint64) { b.csn = csn }

// SetHikey sets the page high key. Rightmost pages have none.
func (b *Builder) SetHikey(k tuple.Tuple) {
	b.hikey = k
	b.noteKeyLen(k.Len())
}

// Hikey returns the page high key.
func (b *Builder) Hikey() tuple.Tuple { return b.hikey }

// Append adds an item after all existing items. keyLen is the length of
// the item's key, used to reserve room for a future high key.
func (b *Builder) Append(it Item, keyLen int) {
	b.items = append(b.items, it)
	b.itemsSize += it.Size()
	b.noteKeyLen(keyLen)
}

func (b *Builder) noteKeyLen(n int) {
	if n > b.maxKeyLen {
		b.maxKeyLen = n
	}
}

// Reset replaces the items, keeping flags and level.
func (b *Builder) Reset(items []Item) {
	b.items = items
	b.itemsSize = 0
	for _, it := range items {
		b.itemsSize += it.Size()
	}
	b.hikey = tuple.Tuple{}
}

// SingleChunkSize returns the size of the page laid out as one chunk with
// extra more items of extraSize total bytes and a high key of hikeyLen.
func (b *Builder) SingleChunkSize(extra, extraSize, hikeyLen int) int {
	n := len(b.items) + extra
	return HikeysStart(1) + Align(hikeyLen) + Align(2*n) + b.itemsSize + extraSize
}

// FreeSpace returns the free bytes of the single-chunk layout.
func (b *Builder) FreeSpace() int {
	return BlockSize - b.SingleChunkSize(0, 0, b.hikey.Len())
}

// ItemsSize returns the total size of all items.
func (b *Builder) ItemsSize() int { return b.itemsSize }

type chunkPlan struct {
	starts []int
	hikeys []tuple.Tuple
	has    []bool
	size   int
}

// Image lays the page out into chunks and returns the page image. The chunk
// count adapts to the payload and shrinks until the page fits.
func (b *Builder) Image() ([]byte, error) {
	n := len(b.items)
	want := (b.itemsSize + ChunkTargetSize - 1) / ChunkTargetSize
	want = max(1, min(want, MaxChunks, max(n, 1)))
	for k := want; k >= 1; k-- {
		plan, err := b.plan(k)
		if err != nil {
			return nil, err
		}
		if plan.size <= BlockSize {
			return b.write(plan), nil
		}
	}
	return nil, fmt.Errorf("%w: %d items, %d bytes", ErrPageOverflow, n, b.itemsSize)
}

func (b *Builder) plan(k int) (*chunkPlan, error) {
	n := len(b.items)
	p := &chunkPlan{
		starts: make([]int, k),
		hikeys: make([]tuple.Tuple, k),
		has:    make([]bool, k),
	}
	cum, i := 0, 0
	for c := 1; c < k; c++ {
		target := b.itemsSize * c / k
		for i < n && cum < target {
			cum += b.items[i].Size()
			i++
		}
		start := max(i, p.starts[c-1]+1)
		start = min(start, n-(k-c))
		p.starts[c] = start
		if start != i {
			cum = 0
			for _, it := range b.items[:start] {
				cum += it.Size()
			}
			i = start
		}
	}

	for c := 0; c < k-1; c++ {
		first := b.items[p.starts[c+1]]
		key := first.Tuple
		if b.IsLeaf() {
			var err error
			if key, err = b.makeKey(first.Tuple); err != nil {
				return nil, err
			}
		}
		p.hikeys[c], p.has[c] = key, true
	}
	if !b.flags.IsRightmost() {
		p.hikeys[k-1], p.has[k-1] = b.hikey, true
	}

	size := HikeysStart(k)
	for c := 0; c < k; c++ {
		if p.has[c] {
			size += Align(p.hikeys[c].Len())
		}
	}
	size = Align(size)
	for c := 0; c < k; c++ {
		size += Align(2 * (b.chunkEnd(p, c) - p.starts[c]))
	}
	p.size = size + b.itemsSize
	return p, nil
}

func (b *Builder) chunkEnd(p *chunkPlan, c int) int {
	if c+1 < len(p.starts) {
		return p.starts[c+1]
	}
	return len(b.items)
}

func (b *Builder) write(p *chunkPlan) []byte {
	k := len(p.starts)
	img := make([]byte, BlockSize)
	le := binary.LittleEndian

	hikeysFixed := true
	descs := make([]ChunkDesc, k)
	off := HikeysStart(k)
	for c := 0; c < k; c++ {
		descs[c].HikeyLocation = uint16(off)
		if !p.has[c] {
			continue
		}
		copy(img[off:], p.hikeys[c].Data)
		descs[c].HikeyFixed = p.hikeys[c].Fixed
		hikeysFixed = hikeysFixed && p.hikeys[c].Fixed
		off += Align(p.hikeys[c].Len())
	}
	hikeysEnd := off
	off = Align(off)

	for c := 0; c < k; c++ {
		start, end := p.starts[c], b.chunkEnd(p, c)
		loc := off
		descs[c].Location = uint16(loc)
		descs[c].Offset = uint16(start)
		keysFixed := true
		itemOff := Align(2 * (end - start))
		for j := start; j < end; j++ {
			it := b.items[j]
			slot := uint16(itemOff)
			if it.Tuple.Fixed {
				slot |= ItemFixedFlag
			} else if !it.Tuple.IsEmpty() {
				keysFixed = false
			}
			le.PutUint16(img[loc+2*(j-start):], slot)
			le.PutUint64(img[loc+itemOff:], it.Header)
			copy(img[loc+itemOff+TuphdrSize:], it.Tuple.Data)
			itemOff += it.Size()
		}
		descs[c].KeysFixed = keysFixed
		off = loc + itemOff
	}

	for c, d := range descs {
		d.put(img, c)
	}
	flags := b.flags &^ FlagHikeysFixed
	if hikeysFixed {
		flags |= FlagHikeysFixed
	}
	hdr := Header{
		Flags:       flags,
		Level:       uint16(b.level),
		ChunksCount: uint16(k),
		ItemsCount:  uint16(len(b.items)),
		HikeysEnd:   uint16(hikeysEnd),
		DataSize:    uint16(off),
		NOnDisk:     uint16(b.nOnDisk),
		MaxKeyLen:   uint16(b.maxKeyLen),
		CSN:         b.csn,
	}
	hdr.put(img)
	return img
}
