package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree/blobstore"
)

func TestIntegrationS3Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("Skipping S3 integration test: S3_BUCKET not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	prefix := fmt.Sprintf("test-obtree-%d/", time.Now().UnixNano())
	store := NewStore(s3.NewFromConfig(cfg), bucket, prefix)

	data := make([]byte, 1<<20)
	_, _ = rand.Read(data)

	w, err := store.Create(ctx, "idx.obt")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "idx.obt")

	r, err := store.Open(ctx, "idx.obt")
	require.NoError(t, err)
	buf := make([]byte, 8192)
	_, err = r.ReadAt(ctx, buf, 8192)
	require.NoError(t, err)
	assert.Equal(t, data[8192:16384], buf)
	require.NoError(t, r.Close())

	require.NoError(t, store.Delete(ctx, "idx.obt"))
	_, err = store.Open(ctx, "idx.obt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
