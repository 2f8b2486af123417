package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the fixed page size.
	BlockSize = 8192
	// MaxAlign is the alignment of tuples and areas inside a page.
	MaxAlign = 8
	// HeaderSize is the size of the page header.
	HeaderSize = 48
	// ChunkDescSize is the size of one chunk descriptor.
	ChunkDescSize = 8
	// TuphdrSize is the size of the header preceding every item tuple.
	TuphdrSize = 8
	// MaxChunks bounds the chunk count of a page.
	MaxChunks = 64
	// ChunkTargetSize is the payload size a chunk is split at.
	ChunkTargetSize = 512
	// MaxDepth bounds the height of a tree.
	MaxDepth = 32
	// MaxTupleSize is the largest tuple a page accepts. Three such tuples
	// plus a high key always fit into one chunk.
	MaxTupleSize = 2048
)

// Header field offsets.
const (
	offState       = 0
	offFlags       = 8
	offLevel       = 10
	offChunksCount = 12
	offItemsCount  = 14
	offHikeysEnd   = 16
	offDataSize    = 18
	offNOnDisk     = 20
	offMaxKeyLen   = 22
	offRightLink   = 24
	offCSN         = 32
)

// Chunk descriptor field offsets.
const (
	descLocation      = 0
	descOffset        = 2
	descHikeyLocation = 4
	descHikeyFixed    = 6
	descKeysFixed     = 7
)

// ItemFixedFlag marks an item offset whose tuple is in the fixed format.
const (
	ItemFixedFlag  = 0x8000
	itemOffsetMask = 0x1fff
)

// State word layout.
const (
	StateChangeCountMask uint64 = 1<<62 - 1
	StateReadBlocked     uint64 = 1 << 62
)

// ChangeCount extracts the change count of a state word.
func ChangeCount(state uint64) uint64 { return state & StateChangeCountMask }

// ReadBlocked reports whether a state word has the read-blocked bit set.
func ReadBlocked(state uint64) bool { return state&StateReadBlocked != 0 }

// Flags are page header flags.
type Flags uint16

const (
	FlagLeaf Flags = 1 << iota
	FlagRightmost
	FlagLeftmost
	FlagHikeysFixed
	FlagBroken
)

// RootInitFlags are the flags of a root that is also the only leaf.
const RootInitFlags = FlagLeaf | FlagLeftmost | FlagRightmost

func (f Flags) IsLeaf() bool      { return f&FlagLeaf != 0 }
func (f Flags) IsRightmost() bool { return f&FlagRightmost != 0 }
func (f Flags) IsLeftmost() bool  { return f&FlagLeftmost != 0 }

var (
	// ErrPageOverflow is returned when items do not fit into one page.
	ErrPageOverflow = errors.New("page: items do not fit into a page")
	// ErrCorrupt is returned for a page image that fails validation.
	ErrCorrupt = errors.New("page: corrupt page")
)

// CorruptPageError describes a failed structural check.
type CorruptPageError struct {
	Reason string
}

func (e *CorruptPageError) Error() string { return fmt.Sprintf("page: corrupt page: %s", e.Reason) }

// Unwrap returns ErrCorrupt.
func (e *CorruptPageError) Unwrap() error { return ErrCorrupt }

func corrupt(format string, args ...any) error {
	return &CorruptPageError{Reason: fmt.Sprintf(format, args...)}
}

// Align rounds n up to MaxAlign.
func Align(n int) int { return (n + MaxAlign - 1) &^ (MaxAlign - 1) }

// Header is a decoded page header.
type Header struct {
	State       uint64
	Flags       Flags
	Level       uint16
	ChunksCount uint16
	ItemsCount  uint16
	HikeysEnd   uint16
	DataSize    uint16
	NOnDisk     uint16
	MaxKeyLen   uint16
	RightLink   uint64
	CSN         uint64
}

// ParseHeader decodes the header of a page image.
func ParseHeader(img []byte) Header {
	return readHeader(Bytes(img))
}

func readHeader(m Memory) Header {
	return Header{
		State:       m.Load64(offState),
		Flags:       Flags(m.Load16(offFlags)),
		Level:       m.Load16(offLevel),
		ChunksCount: m.Load16(offChunksCount),
		ItemsCount:  m.Load16(offItemsCount),
		HikeysEnd:   m.Load16(offHikeysEnd),
		DataSize:    m.Load16(offDataSize),
		NOnDisk:     m.Load16(offNOnDisk),
		MaxKeyLen:   m.Load16(offMaxKeyLen),
		RightLink:   m.Load64(offRightLink),
		CSN:         m.Load64(offCSN),
	}
}

func (h *Header) put(img []byte) {
	le := binary.LittleEndian
	le.PutUint64(img[offState:], h.State)
	le.PutUint16(img[offFlags:], uint16(h.Flags))
	le.PutUint16(img[offLevel:], h.Level)
	le.PutUint16(img[offChunksCount:], h.ChunksCount)
	le.PutUint16(img[offItemsCount:], h.ItemsCount)
	le.PutUint16(img[offHikeysEnd:], h.HikeysEnd)
	le.PutUint16(img[offDataSize:], h.DataSize)
	le.PutUint16(img[offNOnDisk:], h.NOnDisk)
	le.PutUint16(img[offMaxKeyLen:], h.MaxKeyLen)
	le.PutUint64(img[offRightLink:], h.RightLink)
	le.PutUint64(img[offCSN:], h.CSN)
}

// ChunkDesc is a decoded chunk descriptor.
type ChunkDesc struct {
	Location      uint16
	Offset        uint16
	HikeyLocation uint16
	HikeyFixed    bool
	KeysFixed     bool
}

// ChunkDescOffset returns the byte offset of chunk descriptor i.
func ChunkDescOffset(i int) int { return HeaderSize + i*ChunkDescSize }

// ReadChunkDesc decodes chunk descriptor i from m.
func ReadChunkDesc(m Memory, i int) ChunkDesc {
	w := m.Load64(ChunkDescOffset(i))
	return ChunkDesc{
		Location:      uint16(w >> (8 * descLocation)),
		Offset:        uint16(w >> (8 * descOffset)),
		HikeyLocation: uint16(w >> (8 * descHikeyLocation)),
		HikeyFixed:    byte(w>>(8*descHikeyFixed)) != 0,
		KeysFixed:     byte(w>>(8*descKeysFixed)) != 0,
	}
}

func (d ChunkDesc) put(img []byte, i int) {
	off := ChunkDescOffset(i)
	le := binary.LittleEndian
	le.PutUint16(img[off+descLocation:], d.Location)
	le.PutUint16(img[off+descOffset:], d.Offset)
	le.PutUint16(img[off+descHikeyLocation:], d.HikeyLocation)
	img[off+descHikeyFixed] = boolByte(d.HikeyFixed)
	img[off+descKeysFixed] = boolByte(d.KeysFixed)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// HikeysStart returns the offset of the hikey area for n chunks.
func HikeysStart(n int) int { return Align(HeaderSize + n*ChunkDescSize) }

// NonLeafTuphdr precedes every non-leaf tuple.
type NonLeafTuphdr struct {
	Downlink uint64
}

// LeafTuphdr precedes every leaf tuple.
type LeafTuphdr struct {
	Deleted  bool
	XactInfo uint32
}

// FrozenXactInfo marks tuples written by a bulk build: visible to everyone.
const FrozenXactInfo uint32 = 0xffffffff

// Pack encodes the leaf tuple header into its on-page word.
func (h LeafTuphdr) Pack() uint64 {
	return uint64(boolByte(h.Deleted)) | uint64(h.XactInfo)<<32
}

// UnpackLeafTuphdr decodes an on-page leaf tuple header word.
func UnpackLeafTuphdr(w uint64) LeafTuphdr {
	return LeafTuphdr{Deleted: w&1 != 0, XactInfo: uint32(w >> 32)}
}
