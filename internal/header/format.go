package header

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/obtree/internal/hash"
)

const (
	binaryMagic   = 0x4854424f // "OBTH"
	binaryVersion = 1

	frameSize   = 16
	payloadSize = 52
)

// FileHeader describes one checkpoint of a tree.
type FileHeader struct {
	// RootDownlink addresses the root page in the datafile.
	RootDownlink uint64
	// DatafileLength is the datafile length in bytes for the checkpoint
	// generation of RootDownlink.
	DatafileLength uint64
	// NumFreeBlocks is the number of free datafile units.
	NumFreeBlocks uint64
	// LeafPagesNum counts leaf pages.
	LeafPagesNum uint32
	// Ctid and BridgeCtid are the next tuple positions handed out after the
	// build.
	Ctid       uint64
	BridgeCtid uint64
	// ChkpNum is the checkpoint number that wrote the header.
	ChkpNum uint32
	// RootLevel is the level of the root page, 0 for a single leaf.
	RootLevel uint16
	// Flags is reserved.
	Flags uint16
}

// MarshalBinary encodes the header.
//
// Format, little-endian:
//
//	Magic (4 bytes)
//	Version (4 bytes)
//	Checksum (4 bytes) - CRC32C of payload
//	PayloadLength (4 bytes)
//	Payload:
//	  RootDownlink (8 bytes)
//	  DatafileLength (8 bytes)
//	  NumFreeBlocks (8 bytes)
//	  LeafPagesNum (4 bytes)
//	  Ctid (8 bytes)
//	  BridgeCtid (8 bytes)
//	  ChkpNum (4 bytes)
//	  RootLevel (2 bytes)
//	  Flags (2 bytes)
func (h FileHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, frameSize, frameSize+payloadSize)
	buf = binary.LittleEndian.AppendUint64(buf, h.RootDownlink)
	buf = binary.LittleEndian.AppendUint64(buf, h.DatafileLength)
	buf = binary.LittleEndian.AppendUint64(buf, h.NumFreeBlocks)
	buf = binary.LittleEndian.AppendUint32(buf, h.LeafPagesNum)
	buf = binary.LittleEndian.AppendUint64(buf, h.Ctid)
	buf = binary.LittleEndian.AppendUint64(buf, h.BridgeCtid)
	buf = binary.LittleEndian.AppendUint32(buf, h.ChkpNum)
	buf = binary.LittleEndian.AppendUint16(buf, h.RootLevel)
	buf = binary.LittleEndian.AppendUint16(buf, h.Flags)

	payload := buf[frameSize:]
	binary.LittleEndian.PutUint32(buf[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(buf[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(buf[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	return buf, nil
}

// UnmarshalBinary decodes a header written by MarshalBinary.
func (h *FileHeader) UnmarshalBinary(data []byte) error {
	if len(data) < frameSize {
		return fmt.Errorf("%w: short record (%d bytes)", ErrIncompatibleFormat, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != binaryMagic {
		return fmt.Errorf("%w: invalid magic %x", ErrIncompatibleFormat, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != binaryVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrIncompatibleFormat, version)
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := int(binary.LittleEndian.Uint32(data[12:16]))
	if length != payloadSize || len(data) < frameSize+length {
		return fmt.Errorf("%w: payload length %d", ErrIncompatibleFormat, length)
	}
	p := data[frameSize : frameSize+length]
	if hash.CRC32C(p) != checksum {
		return ErrChecksumMismatch
	}

	h.RootDownlink = binary.LittleEndian.Uint64(p[0:])
	h.DatafileLength = binary.LittleEndian.Uint64(p[8:])
	h.NumFreeBlocks = binary.LittleEndian.Uint64(p[16:])
	h.LeafPagesNum = binary.LittleEndian.Uint32(p[24:])
	h.Ctid = binary.LittleEndian.Uint64(p[28:])
	h.BridgeCtid = binary.LittleEndian.Uint64(p[36:])
	h.ChkpNum = binary.LittleEndian.Uint32(p[44:])
	h.RootLevel = binary.LittleEndian.Uint16(p[48:])
	h.Flags = binary.LittleEndian.Uint16(p[50:])
	return nil
}
