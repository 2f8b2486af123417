package obtree_test

import (
	"context"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree"
	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/resource"
	"github.com/hupe1980/obtree/tuple"
)

func idsDescr(t *testing.T) *tuple.IndexDescr {
	t.Helper()
	desc, err := obtree.NewIndex("ids").Int8("id").Int4("v").Key("id").Descr()
	require.NoError(t, err)
	return desc
}

// rows returns n tuples (id, id*2) in random order, each id repeated dup
// times.
func rows(desc *tuple.IndexDescr, n, dup int, seed int64) []tuple.Tuple {
	out := make([]tuple.Tuple, 0, n*dup)
	for i := 0; i < n; i++ {
		for j := 0; j < dup; j++ {
			out = append(out, desc.Leaf().MustEncode(tuple.Int8(int64(i)), tuple.Int4(int32(i*2))))
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func sorted(desc *tuple.IndexDescr, n int) []tuple.Tuple {
	out := make([]tuple.Tuple, n)
	for i := range out {
		out[i] = desc.Leaf().MustEncode(tuple.Int8(int64(i)), tuple.Int4(int32(i*2)))
	}
	return out
}

func idKey(id int64) tuple.SearchKey {
	return tuple.BoundKey(tuple.Eq(tuple.TypeInt8, tuple.Int8(id)))
}

func fieldOf(t *testing.T, desc *tuple.IndexDescr, tup tuple.Tuple, i int) tuple.Value {
	t.Helper()
	v, err := desc.Leaf().Attr(tup, i)
	require.NoError(t, err)
	return v
}

func TestBuildOpenLookup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)

	res, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(rows(desc, 20000, 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Checkpoint)
	assert.Equal(t, uint64(20000), res.Tuples)
	assert.Greater(t, res.RootLevel, 0)
	assert.Equal(t, "ids.00000001.dat", res.DataFile)
	assert.Nil(t, res.Upload)

	idx, err := obtree.OpenLocal(ctx, dir, "ids", desc)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, "ids", idx.Name())
	assert.Equal(t, uint32(1), idx.Header().ChkpNum)

	for _, id := range []int64{0, 1, 777, 12345, 19999} {
		out, err := idx.Lookup(ctx, idKey(id))
		require.NoError(t, err)
		require.Len(t, out, 1, "id %d", id)
		assert.Equal(t, int32(id*2), fieldOf(t, desc, out[0], 1).Int4())
	}
	out, err := idx.Lookup(ctx, idKey(20000))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Greater(t, idx.Stats().FastPath, uint64(0))

	rep, err := idx.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20000, rep.Tuples)
	assert.Equal(t, int(res.LeafPages), rep.LeafPages)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)
	_, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(rows(desc, 3000, 3, 2)))
	require.NoError(t, err)

	idx, err := obtree.OpenLocal(ctx, dir, "ids", desc)
	require.NoError(t, err)
	defer idx.Close()

	t.Run("Equal", func(t *testing.T) {
		got, err := idx.Search(idKey(1500)).Equal().Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("Until", func(t *testing.T) {
		got, err := idx.Search(idKey(100)).Until(idKey(110)).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, got, 30)
		assert.Equal(t, int64(100), fieldOf(t, desc, got[0], 0).Int8())
		assert.Equal(t, int64(109), fieldOf(t, desc, got[29], 0).Int8())
	})

	t.Run("Limit", func(t *testing.T) {
		got, err := idx.Search(tuple.NoneKey()).Limit(7).Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 7)
	})

	t.Run("Stream", func(t *testing.T) {
		prev := int64(-1)
		n := 0
		for tup, err := range idx.Search(tuple.NoneKey()).Stream(ctx) {
			require.NoError(t, err)
			id := fieldOf(t, desc, tup, 0).Int8()
			require.GreaterOrEqual(t, id, prev)
			prev = id
			n++
		}
		assert.Equal(t, 9000, n)
	})

	t.Run("First", func(t *testing.T) {
		tup, err := idx.Search(idKey(42)).First(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), fieldOf(t, desc, tup, 0).Int8())

		_, err = idx.Search(idKey(5000)).Equal().First(ctx)
		assert.ErrorIs(t, err, obtree.ErrNotFound)
	})

	t.Run("CountExists", func(t *testing.T) {
		n, err := idx.Search(idKey(2999)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		ok, err := idx.Search(idKey(10)).Equal().Exists(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = idx.Search(idKey(-1)).Equal().Exists(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("LookupBatch", func(t *testing.T) {
		got, err := idx.LookupBatch(ctx, []tuple.SearchKey{idKey(5), idKey(-3), idKey(2998)})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Len(t, got[0], 3)
		assert.Empty(t, got[1])
		assert.Len(t, got[2], 3)
	})
}

func TestPresortedOutOfOrder(t *testing.T) {
	ctx := context.Background()
	desc := idsDescr(t)
	in := sorted(desc, 100)
	in[50], in[51] = in[51], in[50]

	_, err := obtree.Build(ctx, t.TempDir(), "ids", desc, obtree.NewSliceSource(in), obtree.WithPresorted())
	assert.ErrorIs(t, err, obtree.ErrOutOfOrder)
}

func TestUniqueViolation(t *testing.T) {
	ctx := context.Background()
	desc, err := obtree.NewIndex("u").Int8("id").Int4("v").Key("id").Unique(1).Descr()
	require.NoError(t, err)

	_, err = obtree.Build(ctx, t.TempDir(), "u", desc, obtree.NewSliceSource(rows(desc, 10, 2, 3)))
	assert.ErrorIs(t, err, obtree.ErrUniqueViolation)

	_, err = obtree.Build(ctx, t.TempDir(), "u", desc, obtree.NewSliceSource(rows(desc, 10, 1, 3)))
	assert.NoError(t, err)

	dups := append(sorted(desc, 10), sorted(desc, 1)...)
	slices.SortStableFunc(dups, func(a, b tuple.Tuple) int {
		c, err := desc.CompareTuples(a, b, 1)
		require.NoError(t, err)
		return c
	})
	_, err = obtree.Build(ctx, t.TempDir(), "u", desc, obtree.NewSliceSource(dups), obtree.WithPresorted())
	assert.ErrorIs(t, err, obtree.ErrUniqueViolation)

	pk, err := obtree.NewIndex("pk").Int8("id").Int4("v").Key("id").Primary().Descr()
	require.NoError(t, err)
	require.True(t, pk.IsUnique())
	_, err = obtree.Build(ctx, t.TempDir(), "pk", pk, obtree.NewSliceSource(rows(pk, 10, 2, 3)))
	assert.ErrorIs(t, err, obtree.ErrUniqueViolation)
	_, err = obtree.Build(ctx, t.TempDir(), "pk", pk, obtree.NewSliceSource(append(sorted(pk, 10), sorted(pk, 10)[9])), obtree.WithPresorted())
	assert.ErrorIs(t, err, obtree.ErrUniqueViolation)
}

func TestTupleTooLarge(t *testing.T) {
	ctx := context.Background()
	desc, err := obtree.NewIndex("t").Text("s").Descr()
	require.NoError(t, err)
	big := desc.Leaf().MustEncode(tuple.Text(strings.Repeat("x", 10000)))

	_, err = obtree.Build(ctx, t.TempDir(), "t", desc, obtree.NewSliceSource([]tuple.Tuple{big}), obtree.WithPresorted())
	assert.ErrorIs(t, err, obtree.ErrTupleTooLarge)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)

	res, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 100)), obtree.WithPresorted())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Checkpoint)
	res, err = obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 200)), obtree.WithPresorted())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Checkpoint)

	_, err = obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 5)), obtree.WithCheckpoint(1))
	assert.ErrorIs(t, err, obtree.ErrCheckpointExists)

	chkps, err := obtree.Checkpoints(ctx, blobstore.NewLocalStore(dir), "ids")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, chkps)

	count := func(opts ...obtree.Option) int {
		idx, err := obtree.OpenLocal(ctx, dir, "ids", desc, opts...)
		require.NoError(t, err)
		defer idx.Close()
		n, err := idx.Search(tuple.NoneKey()).Count(ctx)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 200, count())
	assert.Equal(t, 100, count(obtree.WithCheckpoint(1)))
}

func TestRemoteMirror(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	desc := idsDescr(t)

	_, err := obtree.Build(ctx, t.TempDir(), "ids", desc, obtree.NewSliceSource(rows(desc, 5000, 1, 4)),
		obtree.WithRemote(remote), obtree.WithWaitUpload(), obtree.WithCompression(obtree.CompressionZSTD))
	require.NoError(t, err)

	idx, err := obtree.Open(ctx, remote, "ids", desc, obtree.WithBlockCache(1<<20))
	require.NoError(t, err)
	defer idx.Close()

	out, err := idx.Lookup(ctx, idKey(4321))
	require.NoError(t, err)
	require.Len(t, out, 1)
	_, err = idx.Verify(ctx)
	require.NoError(t, err)
}

func TestCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			desc := idsDescr(t)
			comp, err := obtree.ParseCompression(name)
			require.NoError(t, err)

			_, err = obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 4000)),
				obtree.WithPresorted(), obtree.WithCompression(comp), obtree.WithFillFactor(70))
			require.NoError(t, err)

			idx, err := obtree.OpenLocal(ctx, dir, "ids", desc, obtree.WithPageCache(1<<20))
			require.NoError(t, err)
			defer idx.Close()
			for _, id := range []int64{0, 2000, 3999} {
				out, err := idx.Lookup(ctx, idKey(id))
				require.NoError(t, err)
				assert.Len(t, out, 1)
			}
		})
	}

	_, err := obtree.ParseCompression("brotli")
	assert.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	_, err := obtree.OpenLocal(context.Background(), t.TempDir(), "nope", idsDescr(t))
	assert.ErrorIs(t, err, obtree.ErrNotFound)
}

func TestClosedIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)
	_, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 10)), obtree.WithPresorted())
	require.NoError(t, err)

	idx, err := obtree.OpenLocal(ctx, dir, "ids", desc)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Lookup(ctx, idKey(1))
	assert.ErrorIs(t, err, obtree.ErrClosed)

	var nilIdx *obtree.Index
	assert.NoError(t, nilIdx.Close())
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)
	mc := &obtree.BasicMetricsCollector{}

	_, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(sorted(desc, 50)), obtree.WithMetricsCollector(mc))
	require.NoError(t, err)
	idx, err := obtree.OpenLocal(ctx, dir, "ids", desc, obtree.WithMetricsCollector(mc))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Lookup(ctx, idKey(3))
	require.NoError(t, err)
	_, err = idx.Search(tuple.NoneKey()).Execute(ctx)
	require.NoError(t, err)
	_, err = idx.Verify(ctx)
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(50), stats.BuildTuples)
	assert.Equal(t, int64(1), stats.LookupCount)
	assert.Equal(t, int64(1), stats.LookupFound)
	assert.Equal(t, int64(1), stats.ScanCount)
	assert.Equal(t, int64(50), stats.ScanTuples)
	assert.Equal(t, int64(1), stats.VerifyCount)
	assert.Zero(t, stats.LookupErrors)
}

func TestResourceController(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	desc := idsDescr(t)
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})

	_, err := obtree.Build(ctx, dir, "ids", desc, obtree.NewSliceSource(rows(desc, 3000, 1, 5)),
		obtree.WithResourceController(rc), obtree.WithSortMemory(16<<10))
	require.NoError(t, err)

	idx, err := obtree.OpenLocal(ctx, dir, "ids", desc, obtree.WithResourceController(rc), obtree.WithoutFastPath())
	require.NoError(t, err)
	before := rc.MemoryUsage()
	out, err := idx.Lookup(ctx, idKey(2500))
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Zero(t, idx.Stats().FastPath)
	assert.Greater(t, rc.MemoryUsage(), before)

	require.NoError(t, idx.Close())
	assert.Equal(t, before, rc.MemoryUsage())
}

func TestCloseReleasesCaches(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	desc := idsDescr(t)
	_, err := obtree.Build(ctx, t.TempDir(), "ids", desc, obtree.NewSliceSource(sorted(desc, 5000)),
		obtree.WithPresorted(), obtree.WithRemote(remote), obtree.WithWaitUpload(), obtree.WithCompression(obtree.CompressionLZ4))
	require.NoError(t, err)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
	idx, err := obtree.Open(ctx, remote, "ids", desc,
		obtree.WithResourceController(rc), obtree.WithBlockCache(1<<20), obtree.WithPageCache(1<<20))
	require.NoError(t, err)
	for _, id := range []int64{1, 2500, 4999} {
		_, err := idx.Lookup(ctx, idKey(id))
		require.NoError(t, err)
	}
	assert.Positive(t, rc.MemoryUsage())

	require.NoError(t, idx.Close())
	assert.Zero(t, rc.MemoryUsage())
}
