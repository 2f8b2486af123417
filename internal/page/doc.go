// Package page defines the on-disk B-tree page format.
//
// A page is BlockSize bytes: a header, a directory of chunk descriptors, the
// chunk high keys and the chunk payloads.
//
//	+--------+-------------+---------+----------------------------------+
//	| header | chunk descs | hikeys  | chunk 0 | chunk 1 | ... | free   |
//	+--------+-------------+---------+----------------------------------+
//
// Each chunk starts with an array of item offsets followed by its items. An
// item is an 8-byte tuple header and a MaxAlign-padded tuple. A chunk whose
// keys are all fixed-format is a fixed-stride array that can be binary
// searched in place.
//
// Shared is the concurrently readable in-memory mirror of a page. Builder
// lays out new pages and View decodes page images.
package page
