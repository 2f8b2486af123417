package fastpath

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obtree/tuple"
)

func descrOf(t *testing.T, kind tuple.IndexKind, fields ...tuple.Field) *tuple.IndexDescr {
	t.Helper()
	d := &tuple.IndexDescr{Kind: kind, Fields: fields}
	require.NoError(t, d.Init())
	return d
}

func TestCanFindDownlinkDisqualifies(t *testing.T) {
	int4 := tuple.Field{Name: "a", Type: tuple.TypeInt4}
	key := tuple.BoundKey(tuple.Eq(tuple.TypeInt4, tuple.Int4(1)))

	cases := []struct {
		name string
		fc   func() FindContext
		key  tuple.SearchKey
	}{
		{"not a fetch", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, int4), Op: OpModify}
		}, key},
		{"system tree", func() FindContext {
			d := descrOf(t, tuple.IndexRegular, int4)
			d.System = true
			return FindContext{Desc: d}
		}, key},
		{"too many fields", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, int4, int4, int4, int4, int4)}
		}, key},
		{"variable key", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, int4, tuple.Field{Type: tuple.TypeText})}
		}, key},
		{"descending", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, tuple.Field{Type: tuple.TypeInt4, Descending: true})}
		}, key},
		{"foreign opclass", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, tuple.Field{Type: tuple.TypeInt4, OpClass: 9999})}
		}, key},
		{"type mismatch", func() FindContext {
			return FindContext{Desc: descrOf(t, tuple.IndexRegular, int4)}
		}, tuple.BoundKey(tuple.Eq(tuple.TypeInt8, tuple.Int8(1)))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := Meta{Enabled: true}
			CanFindDownlink(tc.fc(), tc.key, &meta)
			assert.False(t, meta.Enabled)
		})
	}
}

func TestCanFindDownlinkLayout(t *testing.T) {
	d := descrOf(t, tuple.IndexRegular,
		tuple.Field{Type: tuple.TypeInt4},
		tuple.Field{Type: tuple.TypeInt8},
		tuple.Field{Type: tuple.TypeTID},
	)
	var meta Meta
	CanFindDownlink(FindContext{Desc: d}, tuple.NoneKey(), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, 3, meta.NumKeys)
	assert.Equal(t, [MaxKeys]int{0, 8, 16, 0}, meta.Offsets)
	assert.Equal(t, 24, meta.Length)
	assert.Equal(t, [MaxKeys]KeyFlag{KeyMinusInf, KeyMinusInf, KeyMinusInf}, meta.Flags)

	CanFindDownlink(FindContext{Desc: d}, tuple.RightmostKey(), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, [MaxKeys]KeyFlag{KeyPlusInf, KeyPlusInf, KeyPlusInf}, meta.Flags)
}

func TestCanFindDownlinkNumKeys(t *testing.T) {
	f := tuple.Field{Type: tuple.TypeInt8}

	unique := &tuple.IndexDescr{Kind: tuple.IndexUnique, Fields: []tuple.Field{f, f, f}, NKeyFields: 2, NUniqueFields: 1}
	require.NoError(t, unique.Init())
	var meta Meta
	CanFindDownlink(FindContext{Desc: unique}, tuple.SearchKey{Kind: tuple.KeyUniqueLowerBound, Bound: tuple.Bounds{Keys: []tuple.ValueBound{
		tuple.Eq(tuple.TypeInt8, tuple.Int8(1)), tuple.Eq(tuple.TypeInt8, tuple.Int8(2)),
	}}}, &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, 1, meta.NumKeys)

	key := unique.NonLeaf().MustEncode(tuple.Int8(1), tuple.Int8(2), tuple.Int8(3))
	CanFindDownlink(FindContext{Desc: unique}, tuple.TupleKey(tuple.KeyNonLeafKey, key), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, 2, meta.NumKeys)
	assert.False(t, meta.Inclusive)

	toast := &tuple.IndexDescr{Kind: tuple.IndexToast, Fields: []tuple.Field{f, f, f}, NKeyFields: 1}
	require.NoError(t, toast.Init())
	CanFindDownlink(FindContext{Desc: toast}, tuple.TupleKey(tuple.KeyPageHiKey, key), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, 3, meta.NumKeys)
	assert.True(t, meta.Inclusive)
	assert.Equal(t, [MaxKeys]tuple.Datum{1, 2, 3}, meta.Values)
}

func TestGetKeysBoundsAndNulls(t *testing.T) {
	d := descrOf(t, tuple.IndexRegular,
		tuple.Field{Type: tuple.TypeInt4, NullsFirst: true},
		tuple.Field{Type: tuple.TypeInt4},
		tuple.Field{Type: tuple.TypeInt4},
	)
	var meta Meta
	CanFindDownlink(FindContext{Desc: d}, tuple.BoundKey(
		tuple.ValueBound{Type: tuple.TypeInt4, Flags: tuple.BoundUnbounded | tuple.BoundLower},
		tuple.ValueBound{Type: tuple.TypeInt4, Flags: tuple.BoundUnbounded},
	), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, 2, meta.NumKeys)
	assert.Equal(t, KeyMinusInf, meta.Flags[0])
	assert.Equal(t, KeyPlusInf, meta.Flags[1])

	// A type mismatch disables the fast path even on an open end.
	CanFindDownlink(FindContext{Desc: d}, tuple.BoundKey(
		tuple.Eq(tuple.TypeInt4, tuple.Int4(1)),
		tuple.ValueBound{Type: tuple.TypeInt8, Flags: tuple.BoundUnbounded},
	), &meta)
	assert.False(t, meta.Enabled)

	leaf := d.Leaf().MustEncode(tuple.Null(), tuple.Int4(4), tuple.Null())
	CanFindDownlink(FindContext{Desc: d}, tuple.TupleKey(tuple.KeyLeafTuple, leaf), &meta)
	require.True(t, meta.Enabled)
	assert.Equal(t, [MaxKeys]KeyFlag{KeyMinusInf, KeyPlain, KeyPlusInf}, meta.Flags)
	assert.Equal(t, tuple.Datum(4), meta.Values[1])
}

func TestArraySearchLazyOpClass(t *testing.T) {
	sd, ok := LookupArraySearch(tuple.TypeTID)
	require.True(t, ok)
	sd.opClass.Store(uint32(tuple.InvalidOpClass))

	var calls atomic.Int32
	cat := tuple.CatalogFunc(func(typ tuple.TypeID) (tuple.OpClassID, bool) {
		calls.Add(1)
		return tuple.OpClassTID, typ == tuple.TypeTID
	})
	assert.Equal(t, tuple.OpClassTID, sd.OpClass(cat))
	assert.Equal(t, tuple.OpClassTID, sd.OpClass(cat))
	assert.Equal(t, int32(1), calls.Load())

	_, ok = LookupArraySearch(tuple.TypeText)
	assert.False(t, ok)
}
