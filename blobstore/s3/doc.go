// Package s3 stores built indexes in Amazon S3.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "indexes/")
//
// Datafiles stream through multipart uploads with CRC32C checksums; header
// records are single conditional puts. DDBCommitStore adds DynamoDB
// conditional writes for LATEST pointers so concurrent publishers cannot
// overwrite each other silently.
package s3
