// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that fails writes, syncs or closes on demand
//
// Production code uses fs.Default. Tests inject a [FaultyFS] to simulate a
// datafile write failure in the middle of a build:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".obt", fs.Fault{FailAfterBytes: 64 << 10})
//
// Operations take no context.Context: local filesystem calls are not
// interruptible at the syscall level. Remote storage goes through
// [blobstore.BlobStore], which does.
package fs
