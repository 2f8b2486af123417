package page

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
)

// Memory is read access to a page by byte offset. Offsets must be aligned
// to the access width.
type Memory interface {
	Load16(off int) uint16
	Load32(off int) uint32
	Load64(off int) uint64
}

// Bytes is a private page image.
type Bytes []byte

func (b Bytes) Load16(off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func (b Bytes) Load32(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func (b Bytes) Load64(off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

const words = BlockSize / 8

// Shared is the in-memory mirror of a page read concurrently with a single
// writer. The page lives in atomic words so optimistic readers never race
// with the writer; word 0 is the state word.
//
// Readers load the state, read what they need and load the state again. The
// read is valid only if the read-blocked bit was clear and the change count
// did not move.
type Shared struct {
	Blkno uint32
	w     [words]atomic.Uint64
}

// NewShared returns a page mirror holding img.
func NewShared(blkno uint32, img []byte) *Shared {
	p := &Shared{Blkno: blkno}
	for i := 1; i < words; i++ {
		p.w[i].Store(binary.LittleEndian.Uint64(img[i*8:]))
	}
	return p
}

// State returns the state word.
func (p *Shared) State() uint64 { return p.w[0].Load() }

func (p *Shared) Load64(off int) uint64 { return p.w[off>>3].Load() }

func (p *Shared) Load32(off int) uint32 {
	sh := uint(off&7) * 8
	if sh <= 32 {
		return uint32(p.w[off>>3].Load() >> sh)
	}
	lo := p.w[off>>3].Load() >> sh
	hi := p.w[off>>3+1].Load() << (64 - sh)
	return uint32(lo | hi)
}

func (p *Shared) Load16(off int) uint16 {
	sh := uint(off&7) * 8
	if sh <= 48 {
		return uint16(p.w[off>>3].Load() >> sh)
	}
	lo := p.w[off>>3].Load() >> sh
	hi := p.w[off>>3+1].Load() << (64 - sh)
	return uint16(lo | hi)
}

// Header returns the page header. The state is loaded first, so a reader
// that validates against Header().State covers every later load.
func (p *Shared) Header() Header { return readHeader(p) }

// BeginWrite blocks optimistic readers. Only one writer may be active.
func (p *Shared) BeginWrite() {
	p.w[0].Or(StateReadBlocked)
}

// EndWrite bumps the change count and unblocks readers.
func (p *Shared) EndWrite() {
	s := p.w[0].Load()
	p.w[0].Store((ChangeCount(s) + 1) & StateChangeCountMask)
}

// Store64 writes one word. Callers must be between BeginWrite and EndWrite.
func (p *Shared) Store64(off int, v uint64) {
	if off>>3 == 0 {
		return
	}
	p.w[off>>3].Store(v)
}

// Install replaces the page contents with img.
func (p *Shared) Install(img []byte) {
	p.BeginWrite()
	for i := 1; i < words; i++ {
		p.w[i].Store(binary.LittleEndian.Uint64(img[i*8:]))
	}
	p.EndWrite()
}

// TrySnapshot copies the page into dst, which must hold BlockSize bytes.
// It fails if a writer interfered.
func (p *Shared) TrySnapshot(dst []byte) bool {
	s := p.State()
	if ReadBlocked(s) {
		return false
	}
	for i := 1; i < words; i++ {
		binary.LittleEndian.PutUint64(dst[i*8:], p.w[i].Load())
	}
	if p.State() != s {
		return false
	}
	binary.LittleEndian.PutUint64(dst, s)
	return true
}

// Snapshot copies a consistent image of the page into dst, waiting out any
// concurrent writer.
func (p *Shared) Snapshot(dst []byte) {
	for !p.TrySnapshot(dst) {
		runtime.Gosched()
	}
}
