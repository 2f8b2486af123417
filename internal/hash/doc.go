// Package hash provides the CRC32-Castagnoli checksum shared by datafile
// blocks, header records, sort spill runs and S3 uploads.
package hash
