// Package resource governs memory, background concurrency and IO bandwidth
// shared by index builds and readers.
//
//   - Memory: the sorted tuple stream reserves memory for in-memory runs and
//     spills to disk when TryAcquireMemory fails.
//   - Background: remote header uploads take a worker slot each.
//   - IO: datafile page writes pass through a token bucket so a bulk build
//     does not starve foreground reads.
//
// Every method is a no-op on a nil *Controller, so limits are optional.
package resource
