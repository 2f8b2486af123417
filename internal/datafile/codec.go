package datafile

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/obtree/internal/hash"
)

// Compression selects the page codec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("datafile: unknown compression %q", s)
}

// Block header, 16 bytes, little-endian:
//
//	0  u16 magic
//	2  u8  codec
//	3  u8  reserved
//	4  u32 uncompressed size
//	8  u32 stored size
//	12 u32 crc32c of the stored bytes
const (
	blockHeaderSize = 16
	blockMagic      = 0x0B7E
)

var (
	zstdEncoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		return enc
	}}
	zstdDecoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}}
)

// encodeBlock frames img, compressing it when that saves at least a tenth.
func encodeBlock(img []byte, c Compression) ([]byte, error) {
	var stored []byte
	codec := CompressionNone
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(img)))
		n, err := lz4.CompressBlock(img, buf, nil)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			stored, codec = buf[:n], CompressionLZ4
		}
	case CompressionZSTD:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		stored, codec = enc.EncodeAll(img, nil), CompressionZSTD
		zstdEncoderPool.Put(enc)
	}
	if codec == CompressionNone || len(stored)*10 > len(img)*9 {
		stored, codec = img, CompressionNone
	}

	out := make([]byte, blockHeaderSize+len(stored))
	binary.LittleEndian.PutUint16(out[0:], blockMagic)
	out[2] = byte(codec)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(img)))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(stored)))
	binary.LittleEndian.PutUint32(out[12:], hash.CRC32C(stored))
	copy(out[blockHeaderSize:], stored)
	return out, nil
}

// decodeBlock verifies and decompresses a framed block.
func decodeBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize || binary.LittleEndian.Uint16(block) != blockMagic {
		return nil, fmt.Errorf("%w: bad block header", ErrCorrupt)
	}
	codec := Compression(block[2])
	rawSize := int(binary.LittleEndian.Uint32(block[4:]))
	storedSize := int(binary.LittleEndian.Uint32(block[8:]))
	if blockHeaderSize+storedSize > len(block) || rawSize > MaxLengthUnits*UnitSize {
		return nil, fmt.Errorf("%w: block sizes %d/%d", ErrCorrupt, rawSize, storedSize)
	}
	stored := block[blockHeaderSize : blockHeaderSize+storedSize]
	if hash.CRC32C(stored) != binary.LittleEndian.Uint32(block[12:]) {
		return nil, ErrChecksumMismatch
	}

	dst := make([]byte, rawSize)
	switch codec {
	case CompressionNone:
		if storedSize != rawSize {
			return nil, fmt.Errorf("%w: raw block size %d", ErrCorrupt, storedSize)
		}
		copy(dst, stored)
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d of %d bytes", ErrCorrupt, n, rawSize)
		}
	case CompressionZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(stored, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d of %d bytes", ErrCorrupt, len(out), rawSize)
		}
		dst = out
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}
	return dst, nil
}
