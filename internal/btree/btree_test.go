package btree

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree/internal/build"
	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/resource"
	"github.com/hupe1980/obtree/tuple"
)

// memPages is both the build's page writer and the reader's page source.
type memPages struct {
	pages map[datafile.Downlink][]byte
	n     uint64
	reads atomic.Int64
}

func newMemPages() *memPages {
	return &memPages{pages: make(map[datafile.Downlink][]byte)}
}

func (m *memPages) WritePage(_ context.Context, img []byte) (datafile.Downlink, error) {
	d := datafile.MakeDownlink(0, m.n*16, 16)
	m.pages[d] = append([]byte(nil), img...)
	m.n++
	return d, nil
}

func (m *memPages) Length() uint64     { return m.n * 16 * datafile.UnitSize }
func (m *memPages) FreeBlocks() uint64 { return 0 }
func (m *memPages) Checkpoint() uint32 { return 0 }

func (m *memPages) ReadPage(_ context.Context, d datafile.Downlink) ([]byte, error) {
	m.reads.Add(1)
	img, ok := m.pages[d]
	if !ok {
		return nil, fmt.Errorf("no page %s", d)
	}
	return img, nil
}

func int8Descr(t *testing.T) *tuple.IndexDescr {
	t.Helper()
	d := &tuple.IndexDescr{
		Name: "ids",
		Fields: []tuple.Field{
			{Name: "id", Type: tuple.TypeInt8},
			{Name: "v", Type: tuple.TypeInt4},
		},
		KeyAttrs: []int{0},
	}
	require.NoError(t, d.Init())
	return d
}

func textDescr(t *testing.T) *tuple.IndexDescr {
	t.Helper()
	d := &tuple.IndexDescr{
		Name: "names",
		Fields: []tuple.Field{
			{Name: "name", Type: tuple.TypeText},
			{Name: "v", Type: tuple.TypeInt4},
		},
		KeyAttrs: []int{0},
	}
	require.NoError(t, d.Init())
	return d
}

func buildTree(t *testing.T, desc *tuple.IndexDescr, tuples []tuple.Tuple) (*memPages, header.FileHeader) {
	t.Helper()
	ctx := context.Background()
	m := newMemPages()
	s := build.Start(desc, m)
	for _, tup := range tuples {
		require.NoError(t, s.AddTuple(ctx, tup))
	}
	hdr, err := s.Finish(ctx)
	require.NoError(t, err)
	return m, hdr
}

// idTuples returns n tuples whose key is i/dup and whose value is i.
func idTuples(desc *tuple.IndexDescr, n, dup int) []tuple.Tuple {
	out := make([]tuple.Tuple, n)
	for i := range out {
		out[i] = desc.Leaf().MustEncode(tuple.Int8(int64(i/dup)), tuple.Int4(int32(i)))
	}
	return out
}

func idKey(id int64) tuple.SearchKey {
	return tuple.BoundKey(tuple.Eq(tuple.TypeInt8, tuple.Int8(id)))
}

func values(t *testing.T, desc *tuple.IndexDescr, tuples []tuple.Tuple) []int32 {
	t.Helper()
	out := make([]int32, len(tuples))
	for i, tup := range tuples {
		v, err := desc.Leaf().Attr(tup, 1)
		require.NoError(t, err)
		out[i] = v.Int4()
	}
	return out
}

func TestScanAll(t *testing.T) {
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))
	require.Positive(t, hdr.RootLevel)

	r := NewReader(desc, m, hdr)
	defer r.Close()

	it, err := r.Scan(context.Background())
	require.NoError(t, err)
	defer it.Close()

	n := 0
	for it.Next() {
		v, err := desc.Leaf().Attr(it.Tuple(), 1)
		require.NoError(t, err)
		require.Equal(t, int32(n), v.Int4())
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 20000, n)
}

func TestEmptyTree(t *testing.T) {
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, nil)

	r := NewReader(desc, m, hdr)
	it, err := r.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, it.Next())
	require.NoError(t, it.Err())

	got, err := r.Lookup(context.Background(), idKey(1))
	require.NoError(t, err)
	assert.Empty(t, got)

	rep, err := r.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LeafPages)
	assert.Zero(t, rep.Tuples)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))

	r := NewReader(desc, m, hdr)
	defer r.Close()

	for _, id := range []int64{0, 1, 777, 12345, 19999} {
		got, err := r.Lookup(ctx, idKey(id))
		require.NoError(t, err)
		require.Len(t, got, 1, "id %d", id)
		assert.Equal(t, []int32{int32(id)}, values(t, desc, got))
	}

	for _, id := range []int64{-5, 20000, 1 << 40} {
		got, err := r.Lookup(ctx, idKey(id))
		require.NoError(t, err)
		assert.Empty(t, got, "id %d", id)
	}

	assert.Positive(t, r.Stats().FastPath)
}

func TestLookupDuplicatesAcrossPages(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	const dup = 50
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, dup))
	require.Greater(t, hdr.LeafPagesNum, uint32(10))

	for _, name := range []string{"fast", "slow"} {
		t.Run(name, func(t *testing.T) {
			var opts []Option
			if name == "slow" {
				opts = append(opts, WithoutFastPath())
			}
			r := NewReader(desc, m, hdr, opts...)
			defer r.Close()

			for id := int64(0); id < 20000/dup; id++ {
				got, err := r.Lookup(ctx, idKey(id))
				require.NoError(t, err)
				want := make([]int32, dup)
				for j := range want {
					want[j] = int32(id)*dup + int32(j)
				}
				require.Equal(t, want, values(t, desc, got), "id %d", id)
			}
		})
	}
}

func TestFastAndSlowDescentAgree(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 30000, 3))

	fast := NewReader(desc, m, hdr)
	slow := NewReader(desc, m, hdr, WithoutFastPath())
	defer fast.Close()
	defer slow.Close()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		id := int64(rng.Intn(11000) - 500)
		keys := []tuple.SearchKey{
			idKey(id),
			tuple.TupleKey(tuple.KeyNonLeafKey, desc.NonLeaf().MustEncode(tuple.Int8(id))),
			tuple.TupleKey(tuple.KeyPageHiKey, desc.NonLeaf().MustEncode(tuple.Int8(id))),
		}
		for _, key := range keys {
			a, err := fast.FindLeaf(ctx, key)
			require.NoError(t, err)
			b, err := slow.FindLeaf(ctx, key)
			require.NoError(t, err)
			require.True(t, bytes.Equal(a.Image()[8:], b.Image()[8:]), "key kind %d id %d", key.Kind, id)
		}
	}
	assert.Positive(t, fast.Stats().FastPath)
	assert.Zero(t, slow.Stats().FastPath)
	assert.Positive(t, slow.Stats().SlowPath)
}

func TestSeekRange(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 5000, 1))
	r := NewReader(desc, m, hdr)
	defer r.Close()

	it, err := r.Seek(ctx, idKey(4990))
	require.NoError(t, err)
	defer it.Close()

	var got []int32
	for it.Next() {
		v, err := desc.Leaf().Attr(it.Tuple(), 1)
		require.NoError(t, err)
		got = append(got, v.Int4())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int32{4990, 4991, 4992, 4993, 4994, 4995, 4996, 4997, 4998, 4999}, got)
}

func TestLookupBatch(t *testing.T) {
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 2))
	r := NewReader(desc, m, hdr)
	defer r.Close()

	keys := []tuple.SearchKey{idKey(3), idKey(4), idKey(3), idKey(9000), idKey(-1)}
	got, err := r.LookupBatch(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, got, len(keys))
	assert.Equal(t, []int32{6, 7}, values(t, desc, got[0]))
	assert.Equal(t, []int32{8, 9}, values(t, desc, got[1]))
	assert.Equal(t, []int32{6, 7}, values(t, desc, got[2]))
	assert.Equal(t, []int32{18000, 18001}, values(t, desc, got[3]))
	assert.Empty(t, got[4])
}

func TestLookupBatchAcrossChunks(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 200000, 1))

	maxChunks := 0
	for _, img := range m.pages {
		if h := page.ParseHeader(img); !h.Flags.IsLeaf() {
			maxChunks = max(maxChunks, int(h.ChunksCount))
		}
	}
	require.Greater(t, maxChunks, 2)

	r := NewReader(desc, m, hdr)
	defer r.Close()

	ids := []int64{10, 5000, 20000, 60000, 60001, 123456, 199999, 10, -1, 200000}
	keys := make([]tuple.SearchKey, len(ids))
	for i, id := range ids {
		keys[i] = idKey(id)
	}
	got, err := r.LookupBatch(ctx, keys)
	require.NoError(t, err)
	require.Len(t, got, len(keys))

	for i, id := range ids {
		single, err := r.Lookup(ctx, keys[i])
		require.NoError(t, err)
		assert.Equal(t, values(t, desc, single), values(t, desc, got[i]), "id %d", id)
		if id >= 0 && id < 200000 {
			assert.Equal(t, []int32{int32(id)}, values(t, desc, got[i]), "id %d", id)
		}
	}
	assert.Positive(t, r.Stats().FastPath)
}

func TestVariableKeysUseSlowPath(t *testing.T) {
	ctx := context.Background()
	desc := textDescr(t)
	tuples := make([]tuple.Tuple, 8000)
	for i := range tuples {
		tuples[i] = desc.Leaf().MustEncode(tuple.Text(fmt.Sprintf("key-%06d", i)), tuple.Int4(int32(i)))
	}
	m, hdr := buildTree(t, desc, tuples)
	require.Positive(t, hdr.RootLevel)

	r := NewReader(desc, m, hdr)
	defer r.Close()

	for _, i := range []int{0, 4321, 7999} {
		key := tuple.BoundKey(tuple.Eq(tuple.TypeText, tuple.Text(fmt.Sprintf("key-%06d", i))))
		got, err := r.Lookup(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []int32{int32(i)}, values(t, desc, got))
	}
	assert.Zero(t, r.Stats().FastPath)
	assert.Positive(t, r.Stats().SlowPath)

	rep, err := r.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8000, rep.Tuples)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 4))

	r := NewReader(desc, m, hdr)
	rep, err := r.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20000, rep.Tuples)
	assert.Equal(t, int(hdr.LeafPagesNum), rep.LeafPages)
	assert.Equal(t, len(m.pages), rep.Pages)
	assert.Len(t, rep.Levels, int(hdr.RootLevel)+1)
	assert.Equal(t, 1, rep.Levels[hdr.RootLevel])
}

func TestVerifyDetectsSwappedLeaves(t *testing.T) {
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))

	// Swap the first two leaves: flags and key ranges no longer match.
	var leaves []datafile.Downlink
	for i := uint64(0); i < m.n && len(leaves) < 2; i++ {
		d := datafile.MakeDownlink(0, i*16, 16)
		if page.ParseHeader(m.pages[d]).Flags.IsLeaf() {
			leaves = append(leaves, d)
		}
	}
	require.Len(t, leaves, 2)
	m.pages[leaves[0]], m.pages[leaves[1]] = m.pages[leaves[1]], m.pages[leaves[0]]

	_, err := NewReader(desc, m, hdr).Verify(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestMemoryBudgetLimitsResidentPages(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))

	rc := resource.NewController(resource.Config{MemoryLimitBytes: page.BlockSize})
	r := NewReader(desc, m, hdr, WithResourceController(rc))

	for i := 0; i < 3; i++ {
		_, err := r.Lookup(ctx, idKey(100))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(page.BlockSize), rc.MemoryUsage())
	// Only the root stays resident; every other page is read again.
	assert.Greater(t, r.Stats().PageLoads, uint64(3))

	require.NoError(t, r.Close())
	assert.Zero(t, rc.MemoryUsage())

	_, err := r.Lookup(ctx, idKey(100))
	require.ErrorIs(t, err, ErrClosed)
}

func TestResidentPagesAreReused(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))
	r := NewReader(desc, m, hdr)
	defer r.Close()

	_, err := r.Lookup(ctx, idKey(5))
	require.NoError(t, err)
	reads := m.reads.Load()
	_, err = r.Lookup(ctx, idKey(5))
	require.NoError(t, err)
	assert.Equal(t, reads, m.reads.Load())
}

func TestConcurrentLoadsReadEachPageOnce(t *testing.T) {
	ctx := context.Background()
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))
	r := NewReader(desc, m, hdr)
	defer r.Close()

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := r.Scan(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer it.Close()
			n := 0
			for it.Next() {
				n++
			}
			assert.NoError(t, it.Err())
			assert.Equal(t, 20000, n)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(r.Stats().PageLoads), m.reads.Load())
	assert.Equal(t, int64(len(m.pages)), m.reads.Load())
}

func TestCancelledContext(t *testing.T) {
	desc := int8Descr(t)
	m, hdr := buildTree(t, desc, idTuples(desc, 20000, 1))
	r := NewReader(desc, m, hdr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Lookup(ctx, idKey(5))
	require.ErrorIs(t, err, context.Canceled)
}
