// Package btree reads trees written by the bulk build.
//
// A Reader keeps visited pages resident as optimistic page mirrors. Every
// descent first asks the fast path for the downlink and falls back to a
// binary search over a page snapshot when the page or key is not
// fixed-format. Lookups and scans descend inclusively to the leaf holding
// the first matching tuple and then walk right through the recorded path.
package btree
