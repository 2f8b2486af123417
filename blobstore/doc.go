// Package blobstore abstracts where built indexes live.
//
// A build writes its datafile locally; the header record and the LATEST
// pointer are stored through a BlobStore, and an optional remote BlobStore
// receives asynchronous copies of all three. Readers open the datafile as a
// Blob, zero-copy when it implements Mappable.
//
// Implementations:
//
//   - LocalStore: a directory, read through mmap
//   - MemoryStore: in-memory, for tests
//   - CachingStore: a block cache in front of any store
//   - s3.Store, s3.DDBCommitStore: Amazon S3, optionally with DynamoDB
//     conditional commits of the LATEST pointer
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
