// Package sortstream sorts leaf tuples for a bulk build.
//
// Tuples are buffered up to a memory budget, optionally charged to a
// resource.Controller, and spilled as zstd-compressed sorted runs through
// internal/fs. Next merges the runs with a heap. A unique Sorter fails with
// ErrUniqueViolation when two tuples without nulls share the unique prefix.
package sortstream
