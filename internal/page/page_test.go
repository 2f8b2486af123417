package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree/tuple"
)

func int8Descr(t *testing.T) *tuple.IndexDescr {
	t.Helper()
	d := &tuple.IndexDescr{Fields: []tuple.Field{{Name: "k", Type: tuple.TypeInt8}, {Name: "v", Type: tuple.TypeText}}, KeyAttrs: []int{0}}
	require.NoError(t, d.Init())
	return d
}

func lensOf(d *tuple.IndexDescr) FixedLens {
	return FixedLens{Leaf: d.LeafSpec().Len, Key: d.NonLeafSpec().Len}
}

func TestBuilderLeafRoundTrip(t *testing.T) {
	d := int8Descr(t)
	b := NewBuilder(0, FlagLeftmost, d.MakeKey)
	var want []tuple.Tuple
	for i := 0; i < 120; i++ {
		tup := d.Leaf().MustEncode(tuple.Int8(int64(i)), tuple.Text("value"))
		want = append(want, tup)
		b.Append(Item{Header: LeafTuphdr{XactInfo: FrozenXactInfo}.Pack(), Tuple: tup}, 8)
	}
	b.SetHikey(d.NonLeaf().MustEncode(tuple.Int8(1000)))

	img, err := b.Image()
	require.NoError(t, err)

	v, err := NewView(img, lensOf(d))
	require.NoError(t, err)
	assert.True(t, v.IsLeaf())
	assert.Greater(t, v.ChunkCount(), 1)
	assert.Equal(t, 120, v.ItemCount())
	assert.True(t, v.Header().Flags&FlagHikeysFixed != 0)

	items, err := v.Items()
	require.NoError(t, err)
	for i, it := range items {
		assert.Equal(t, want[i].Data, it.Tuple.Data, "item %d", i)
		assert.Equal(t, FrozenXactInfo, UnpackLeafTuphdr(it.Header).XactInfo)
	}

	for c := 0; c+1 < v.ChunkCount(); c++ {
		hk, ok, err := v.ChunkHikey(c)
		require.NoError(t, err)
		require.True(t, ok)
		start, _ := v.ChunkItems(c + 1)
		val, err := d.NonLeaf().Attr(hk, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(start), val.Int8())
	}
	hk, ok, err := v.Hikey()
	require.NoError(t, err)
	require.True(t, ok)
	val, err := d.NonLeaf().Attr(hk, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), val.Int8())
}

func TestBuilderNonLeafLayout(t *testing.T) {
	d := int8Descr(t)
	b := NewBuilder(1, FlagRightmost|FlagLeftmost, nil)
	b.Append(Item{Header: 100}, 0)
	for i := 1; i < 200; i++ {
		b.Append(Item{Header: uint64(100 + i), Tuple: d.NonLeaf().MustEncode(tuple.Int8(int64(i * 10)))}, 8)
	}
	img, err := b.Image()
	require.NoError(t, err)

	v, err := NewView(img, lensOf(d))
	require.NoError(t, err)
	require.False(t, v.IsLeaf())

	stride := TuphdrSize + Align(d.NonLeafSpec().Len)
	for c := 0; c < v.ChunkCount(); c++ {
		assert.True(t, v.Chunk(c).KeysFixed)
		start, end := v.ChunkItems(c)
		n := end - start
		count := n
		if c == 0 {
			count = n - 1
		}
		want := Align(2*n) + TuphdrSize*(n-count) + stride*count
		assert.Equal(t, want, v.ChunkSize(c), "chunk %d", c)
	}

	first, err := v.Item(0)
	require.NoError(t, err)
	assert.True(t, first.Tuple.IsEmpty())
	assert.Equal(t, uint64(100), first.Header)

	_, ok, err := v.Hikey()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int(v.Header().HikeysEnd)-int(v.Chunk(0).HikeyLocation), (v.ChunkCount()-1)*Align(d.NonLeafSpec().Len))
}

func TestBuilderEmpty(t *testing.T) {
	b := NewBuilder(0, RootInitFlags, nil)
	img, err := b.Image()
	require.NoError(t, err)
	v, err := NewView(img, FixedLens{})
	require.NoError(t, err)
	assert.Equal(t, 0, v.ItemCount())
	assert.Equal(t, 1, v.ChunkCount())
	assert.Equal(t, RootInitFlags, v.Header().Flags&RootInitFlags)
}

func TestBuilderOverflow(t *testing.T) {
	d := int8Descr(t)
	b := NewBuilder(0, FlagRightmost, d.MakeKey)
	big := make([]byte, MaxTupleSize-64)
	for i := 0; i < 5; i++ {
		b.Append(Item{Tuple: d.Leaf().MustEncode(tuple.Int8(int64(i)), tuple.Value{Bytes: big})}, 8)
	}
	_, err := b.Image()
	assert.ErrorIs(t, err, ErrPageOverflow)
}

func TestViewRejectsGarbage(t *testing.T) {
	_, err := NewView(make([]byte, 10), FixedLens{})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = NewView(make([]byte, BlockSize), FixedLens{})
	var cpe *CorruptPageError
	assert.ErrorAs(t, err, &cpe)
}

func TestSharedSeqlock(t *testing.T) {
	b := NewBuilder(0, RootInitFlags, nil)
	img, err := b.Image()
	require.NoError(t, err)

	p := NewShared(7, img)
	s0 := p.State()
	assert.False(t, ReadBlocked(s0))

	dst := make([]byte, BlockSize)
	assert.True(t, p.TrySnapshot(dst))
	assert.Equal(t, img[8:], dst[8:])

	p.BeginWrite()
	assert.True(t, ReadBlocked(p.State()))
	assert.False(t, p.TrySnapshot(dst))
	p.Store64(HeaderSize, 0xdeadbeef)
	p.EndWrite()

	assert.False(t, ReadBlocked(p.State()))
	assert.Equal(t, ChangeCount(s0)+1, ChangeCount(p.State()))
	assert.Equal(t, uint64(0xdeadbeef), p.Load64(HeaderSize))

	p.Install(img)
	assert.Equal(t, ChangeCount(s0)+2, ChangeCount(p.State()))
	assert.Equal(t, ParseHeader(img).Flags, p.Header().Flags)
}

func TestSharedUnalignedLoads(t *testing.T) {
	img := make([]byte, BlockSize)
	for i := range img {
		img[i] = byte(i)
	}
	p := NewShared(1, img)
	mem := Bytes(img)
	for _, off := range []int{8, 10, 12, 14, 16, 22} {
		assert.Equal(t, mem.Load16(off), p.Load16(off), "off %d", off)
	}
	for _, off := range []int{8, 12, 14, 20} {
		assert.Equal(t, mem.Load32(off), p.Load32(off), "off %d", off)
	}
}
