package page

import (
	"encoding/binary"
	"sort"

	"github.com/hupe1980/obtree/tuple"
)

// FixedLens are the encoded lengths of fixed-format tuples, which carry no
// length of their own.
type FixedLens struct {
	Leaf int
	Key  int
}

// View decodes a private page image.
type View struct {
	img  []byte
	hdr  Header
	lens FixedLens
}

// NewView validates img and returns a view over it.
func NewView(img []byte, lens FixedLens) (*View, error) {
	if len(img) != BlockSize {
		return nil, corrupt("image size %d", len(img))
	}
	v := &View{img: img, hdr: ParseHeader(img), lens: lens}
	h := v.hdr
	n := int(h.ChunksCount)
	if n == 0 || n > MaxChunks {
		return nil, corrupt("chunk count %d", n)
	}
	if int(h.HikeysEnd) < HikeysStart(n) || int(h.DataSize) > BlockSize || int(h.DataSize) < int(h.HikeysEnd) {
		return nil, corrupt("areas hikeysEnd=%d dataSize=%d", h.HikeysEnd, h.DataSize)
	}
	prev := ChunkDesc{}
	for c := 0; c < n; c++ {
		d := v.Chunk(c)
		if c == 0 && d.Offset != 0 {
			return nil, corrupt("first chunk offset %d", d.Offset)
		}
		if c > 0 && (d.Location < prev.Location || d.Offset <= prev.Offset) {
			return nil, corrupt("chunk %d out of order", c)
		}
		if int(d.Offset) > int(h.ItemsCount) || int(d.Location) > int(h.DataSize) {
			return nil, corrupt("chunk %d out of range", c)
		}
		prev = d
	}
	return v, nil
}

// Header returns the page header.
func (v *View) Header() Header { return v.hdr }

// Image returns the underlying image.
func (v *View) Image() []byte { return v.img }

// IsLeaf reports whether the page is a leaf.
func (v *View) IsLeaf() bool { return v.hdr.Flags.IsLeaf() }

// ItemCount returns the number of items.
func (v *View) ItemCount() int { return int(v.hdr.ItemsCount) }

// ChunkCount returns the number of chunks.
func (v *View) ChunkCount() int { return int(v.hdr.ChunksCount) }

// Chunk returns chunk descriptor c.
func (v *View) Chunk(c int) ChunkDesc { return ReadChunkDesc(Bytes(v.img), c) }

// ChunkItems returns the item index range [start, end) of chunk c.
func (v *View) ChunkItems(c int) (int, int) {
	start := int(v.Chunk(c).Offset)
	if c+1 < v.ChunkCount() {
		return start, int(v.Chunk(c + 1).Offset)
	}
	return start, v.ItemCount()
}

// ChunkSize returns the byte size of chunk c.
func (v *View) ChunkSize(c int) int {
	loc := int(v.Chunk(c).Location)
	if c+1 < v.ChunkCount() {
		return int(v.Chunk(c+1).Location) - loc
	}
	return int(v.hdr.DataSize) - loc
}

// ChunkHikey returns the high key of chunk c. The last chunk of a rightmost
// page has none.
func (v *View) ChunkHikey(c int) (tuple.Tuple, bool, error) {
	d := v.Chunk(c)
	end := int(v.hdr.HikeysEnd)
	if c+1 < v.ChunkCount() {
		end = int(v.Chunk(c + 1).HikeyLocation)
	}
	if int(d.HikeyLocation) >= end {
		return tuple.Tuple{}, false, nil
	}
	t, err := v.tupleAt(int(d.HikeyLocation), end, d.HikeyFixed, v.lens.Key)
	return t, err == nil, err
}

// Hikey returns the page high key.
func (v *View) Hikey() (tuple.Tuple, bool, error) {
	if v.hdr.Flags.IsRightmost() {
		return tuple.Tuple{}, false, nil
	}
	return v.ChunkHikey(v.ChunkCount() - 1)
}

// Item decodes item i.
func (v *View) Item(i int) (Item, error) {
	if i < 0 || i >= v.ItemCount() {
		return Item{}, corrupt("item %d out of range", i)
	}
	n := v.ChunkCount()
	c := sort.Search(n, func(c int) bool { return int(v.Chunk(c).Offset) > i }) - 1
	start, end := v.ChunkItems(c)
	loc := int(v.Chunk(c).Location)
	chunkEnd := loc + v.ChunkSize(c)

	slot := binary.LittleEndian.Uint16(v.img[loc+2*(i-start):])
	off := loc + int(slot&itemOffsetMask)
	next := chunkEnd
	if i+1 < end {
		next = loc + int(binary.LittleEndian.Uint16(v.img[loc+2*(i+1-start):])&itemOffsetMask)
	}
	if off+TuphdrSize > next || next > chunkEnd {
		return Item{}, corrupt("item %d bounds", i)
	}
	it := Item{Header: binary.LittleEndian.Uint64(v.img[off:])}
	if !v.IsLeaf() && i == 0 {
		return it, nil
	}
	fixedLen := v.lens.Key
	if v.IsLeaf() {
		fixedLen = v.lens.Leaf
	}
	t, err := v.tupleAt(off+TuphdrSize, next, slot&ItemFixedFlag != 0, fixedLen)
	if err != nil {
		return Item{}, err
	}
	it.Tuple = t
	return it, nil
}

// Items decodes every item of the page.
func (v *View) Items() ([]Item, error) {
	out := make([]Item, v.ItemCount())
	for i := range out {
		it, err := v.Item(i)
		if err != nil {
			return nil, err
		}
		out[i] = it
	}
	return out, nil
}

func (v *View) tupleAt(off, limit int, fixed bool, fixedLen int) (tuple.Tuple, error) {
	n := fixedLen
	if !fixed {
		if off+tuple.HeaderSize > limit {
			return tuple.Tuple{}, corrupt("tuple header at %d", off)
		}
		n = int(binary.LittleEndian.Uint16(v.img[off:]) & 0x7fff)
	}
	if n <= 0 || off+n > limit {
		return tuple.Tuple{}, corrupt("tuple at %d length %d", off, n)
	}
	return tuple.Tuple{Data: v.img[off : off+n], Fixed: fixed}, nil
}
