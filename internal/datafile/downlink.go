package datafile

import "fmt"

// UnitSize is the allocation granularity of a datafile.
const UnitSize = 512

// Downlink addresses a page extent in a datafile.
//
//	bit 63      on-disk flag
//	bits 55..62 checkpoint generation, mod 256
//	bits 40..54 length in units
//	bits 0..39  offset in units
type Downlink uint64

const (
	downlinkOnDisk = uint64(1) << 63
	chkpShift      = 55
	chkpMask       = 0xff
	lenShift       = 40
	lenMask        = 0x7fff
	offMask        = uint64(1)<<lenShift - 1

	// MaxOffsetUnits is the largest addressable offset in units.
	MaxOffsetUnits = offMask
	// MaxLengthUnits is the longest extent in units.
	MaxLengthUnits = lenMask
)

// InvalidDownlink addresses nothing.
const InvalidDownlink Downlink = 0

// MakeDownlink returns the on-disk downlink of an extent.
func MakeDownlink(chkp uint32, offUnits, lenUnits uint64) Downlink {
	return Downlink(downlinkOnDisk |
		uint64(chkp&chkpMask)<<chkpShift |
		(lenUnits&lenMask)<<lenShift |
		offUnits&offMask)
}

// IsOnDisk reports whether d addresses a datafile extent.
func (d Downlink) IsOnDisk() bool { return uint64(d)&downlinkOnDisk != 0 }

// Checkpoint returns the checkpoint generation, mod 256.
func (d Downlink) Checkpoint() uint32 { return uint32(uint64(d)>>chkpShift) & chkpMask }

// OffsetUnits returns the extent start in units.
func (d Downlink) OffsetUnits() uint64 { return uint64(d) & offMask }

// LengthUnits returns the extent length in units.
func (d Downlink) LengthUnits() uint64 { return uint64(d) >> lenShift & lenMask }

// Offset returns the extent start in bytes.
func (d Downlink) Offset() int64 { return int64(d.OffsetUnits()) * UnitSize }

// Length returns the extent length in bytes.
func (d Downlink) Length() int { return int(d.LengthUnits()) * UnitSize }

func (d Downlink) String() string {
	if !d.IsOnDisk() {
		return fmt.Sprintf("downlink(%#x)", uint64(d))
	}
	return fmt.Sprintf("downlink(chkp=%d off=%d len=%d)", d.Checkpoint(), d.Offset(), d.Length())
}

func unitsFor(n int) uint64 {
	return uint64((n + UnitSize - 1) / UnitSize)
}
