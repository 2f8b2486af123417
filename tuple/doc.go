// Package tuple implements the tuple encoding, index descriptors, search
// keys and the generic comparator used by the B-tree slow path.
//
// A tuple whose attributes are all fixed-width and non-null is stored in the
// fixed format: a raw array of aligned scalars with no header. Fixed keys are
// what allows the fast path to binary search a page without decoding.
package tuple
