package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/blobstore/minio"
	"github.com/hupe1980/obtree/blobstore/s3"
)

// remoteFlags selects an optional remote blob store.
type remoteFlags struct {
	s3Bucket string
	s3Prefix string
	ddbTable string

	minioEndpoint  string
	minioBucket    string
	minioAccessKey string
	minioSecretKey string
	minioSecure    bool
}

func (f *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 bucket of the remote store")
	fs.StringVar(&f.s3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket")
	fs.StringVar(&f.ddbTable, "ddb-table", "", "DynamoDB table holding LATEST pointers (S3 only)")
	fs.StringVar(&f.minioEndpoint, "minio-endpoint", "", "MinIO endpoint, host:port")
	fs.StringVar(&f.minioBucket, "minio-bucket", "", "MinIO bucket of the remote store")
	fs.StringVar(&f.minioAccessKey, "minio-access-key", "", "MinIO access key")
	fs.StringVar(&f.minioSecretKey, "minio-secret-key", "", "MinIO secret key")
	fs.BoolVar(&f.minioSecure, "minio-secure", true, "use TLS for MinIO")
}

// open returns the configured remote store or nil when none is set.
func (f *remoteFlags) open(ctx context.Context) (blobstore.BlobStore, error) {
	switch {
	case f.s3Bucket != "" && f.minioEndpoint != "":
		return nil, fmt.Errorf("-s3-bucket and -minio-endpoint are exclusive")
	case f.s3Bucket != "":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		store := s3.NewStore(awss3.NewFromConfig(cfg), f.s3Bucket, f.s3Prefix)
		if f.ddbTable == "" {
			return store, nil
		}
		baseURI := "s3://" + f.s3Bucket + "/" + f.s3Prefix
		return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), f.ddbTable, baseURI), nil
	case f.minioEndpoint != "":
		if f.minioBucket == "" {
			return nil, fmt.Errorf("-minio-bucket is required")
		}
		client, err := miniogo.New(f.minioEndpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(f.minioAccessKey, f.minioSecretKey, ""),
			Secure: f.minioSecure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minio.NewStore(client, f.minioBucket, ""), nil
	case f.ddbTable != "":
		return nil, fmt.Errorf("-ddb-table needs -s3-bucket")
	}
	return nil, nil
}
