// Package datafile stores page images in an append-only file addressed by
// downlinks.
//
// Every page is framed with a small header carrying its codec, sizes and a
// CRC32C of the stored bytes, then padded to a whole number of 512-byte
// units. A downlink packs the extent's offset and length in units with the
// checkpoint that wrote it. Writers only append; Readers decode pages on
// demand, zero-copy when the blob is memory mapped, and may share a block
// cache.
package datafile
