// Package cache provides byte-bounded LRU caches for immutable blocks.
//
// The datafile reader caches decoded pages in a ShardedLRUBlockCache keyed
// by downlink; the caching blob store uses an LRUBlockCache for raw ranges.
// Both charge cached bytes against an optional resource.Controller.
package cache
