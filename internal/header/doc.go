// Package header persists the per-checkpoint header record of a tree.
//
// A header names the root downlink, the datafile length and the counters a
// build produced. Each checkpoint writes an immutable <name>.<chkp>.hdr blob,
// then moves the <name>.LATEST pointer to it. With a remote store configured
// the checkpoint is mirrored asynchronously, pointer last.
package header
