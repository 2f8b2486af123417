package header

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/resource"
)

func sampleHeader() FileHeader {
	return FileHeader{
		RootDownlink:   1<<63 | 42,
		DatafileLength: 1 << 20,
		NumFreeBlocks:  3,
		LeafPagesNum:   17,
		Ctid:           1000,
		BridgeCtid:     7,
		RootLevel:      2,
	}
}

func TestMarshalBinary(t *testing.T) {
	h := sampleHeader()
	h.ChkpNum = 9
	data, err := h.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, frameSize+payloadSize)

	var got FileHeader
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, h, got)

	t.Run("bad crc", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[frameSize+3] ^= 1
		assert.ErrorIs(t, new(FileHeader).UnmarshalBinary(bad), ErrChecksumMismatch)
	})
	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 1
		assert.ErrorIs(t, new(FileHeader).UnmarshalBinary(bad), ErrIncompatibleFormat)
	})
	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4] = 2
		assert.ErrorIs(t, new(FileHeader).UnmarshalBinary(bad), ErrIncompatibleFormat)
	})
	t.Run("truncated", func(t *testing.T) {
		assert.ErrorIs(t, new(FileHeader).UnmarshalBinary(data[:20]), ErrIncompatibleFormat)
		assert.ErrorIs(t, new(FileHeader).UnmarshalBinary(data[:8]), ErrIncompatibleFormat)
	})
}

func TestStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	for name, bs := range map[string]blobstore.BlobStore{
		"local":  blobstore.NewLocalStore(t.TempDir()),
		"memory": blobstore.NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(bs)

			_, err := s.ReadLatest(ctx, "idx")
			assert.ErrorIs(t, err, ErrNotFound)

			task, err := s.Write(ctx, "idx", 1, sampleHeader())
			require.NoError(t, err)
			assert.Nil(t, task)

			next := sampleHeader()
			next.LeafPagesNum = 99
			_, err = s.Write(ctx, "idx", 2, next)
			require.NoError(t, err)

			latest, err := s.ReadLatest(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, uint32(2), latest.ChkpNum)
			assert.Equal(t, uint32(99), latest.LeafPagesNum)

			first, err := s.Read(ctx, "idx", 1)
			require.NoError(t, err)
			assert.Equal(t, uint32(17), first.LeafPagesNum)

			_, err = s.Write(ctx, "idx", 2, sampleHeader())
			assert.ErrorIs(t, err, ErrCheckpointExists)

			chkps, err := s.Checkpoints(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, []uint32{1, 2}, chkps)

			require.NoError(t, s.Delete(ctx, "idx", 1))
			_, err = s.Read(ctx, "idx", 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// plainStore hides PutIfAbsent to exercise the open-then-put path.
type plainStore struct{ blobstore.BlobStore }

func TestStoreWithoutConditionalPut(t *testing.T) {
	ctx := context.Background()
	s := NewStore(plainStore{blobstore.NewMemoryStore()})
	_, err := s.Write(ctx, "idx", 5, sampleHeader())
	require.NoError(t, err)
	_, err = s.Write(ctx, "idx", 5, sampleHeader())
	assert.ErrorIs(t, err, ErrCheckpointExists)
}

func TestStoreCorruptHeader(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	require.NoError(t, bs.Put(ctx, FileName("idx", 1), []byte("garbage-garbage-garbage")))
	require.NoError(t, bs.Put(ctx, LatestName("idx"), []byte(FileName("idx", 1))))

	_, err := NewStore(bs).ReadLatest(ctx, "idx")
	assert.ErrorIs(t, err, ErrIncompatibleFormat)
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	remote := blobstore.NewMemoryStore()
	require.NoError(t, local.Put(ctx, "idx.data", []byte("pages")))
	require.NoError(t, local.Put(ctx, "idx.empty", nil))

	rc := resource.NewController(resource.Config{MaxBackgroundWorkers: 1})
	s := NewStore(local, WithRemote(remote), WithResourceController(rc))

	task, err := s.Write(ctx, "idx", 3, sampleHeader(), "idx.data", "idx.empty")
	require.NoError(t, err)
	require.NotNil(t, task)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(wctx))
	assert.Len(t, task.Uploaded(), 4)
	assert.Equal(t, LatestName("idx"), task.Uploaded()[3])

	data, err := blobstore.ReadAll(ctx, remote, "idx.data")
	require.NoError(t, err)
	assert.Equal(t, "pages", string(data))

	hdr, err := NewStore(remote).ReadLatest(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), hdr.ChkpNum)
}

func TestUploadMissingAttachment(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	s := NewStore(blobstore.NewMemoryStore(), WithRemote(remote))

	task, err := s.Write(ctx, "idx", 1, sampleHeader(), "idx.data")
	require.NoError(t, err)
	<-task.Done()
	require.ErrorIs(t, task.Wait(ctx), blobstore.ErrNotFound)

	_, err = remote.Open(ctx, LatestName("idx"))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
