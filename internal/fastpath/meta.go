package fastpath

import (
	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// MaxKeys is the largest key field count the fast path handles.
const MaxKeys = 4

// KeyFlag is the bound flag of one decomposed key field.
type KeyFlag uint8

const (
	KeyPlain KeyFlag = iota
	KeyMinusInf
	KeyPlusInf
)

// SearchOp is the kind of tree search being performed.
type SearchOp uint8

const (
	// OpFetch is a pure lookup.
	OpFetch SearchOp = iota
	// OpModify locates a page for modification.
	OpModify
	// OpImage requests a page image copy.
	OpImage
)

// FindContext describes the search a descriptor is built for.
type FindContext struct {
	Desc *tuple.IndexDescr
	Op   SearchOp
}

// Meta is the search descriptor built once per descent and reused at every
// page visited. The zero value is disabled.
type Meta struct {
	Enabled   bool
	Inclusive bool
	NumKeys   int
	// Length is the fixed stride of a key.
	Length  int
	Offsets [MaxKeys]int
	Funcs   [MaxKeys]ArraySearchFunc
	Values  [MaxKeys]tuple.Datum
	Flags   [MaxKeys]KeyFlag

	cache slot
}

type slot struct {
	valid       bool
	blkno       uint32
	changeCount uint64
	chunk       int
}

// CanFindDownlink decides whether key can be searched on the fast path and
// fills meta accordingly. meta.Enabled reports the outcome.
func CanFindDownlink(fc FindContext, key tuple.SearchKey, meta *Meta) {
	meta.Enabled = false
	desc := fc.Desc
	if fc.Op != OpFetch || desc.System {
		return
	}
	natts := desc.NonLeafNAtts()
	if natts > MaxKeys || desc.NonLeafSpec().NAtts != natts {
		return
	}

	numKeys := desc.CompareFieldCount(key.Kind)
	fields := desc.KeyFields()
	offset := 0
	for i := 0; i < numKeys; i++ {
		f := fields[i]
		sd, ok := LookupArraySearch(f.Type)
		if !ok || f.Descending || f.OpClass != sd.OpClass(desc.Catalog) {
			return
		}
		offset = tuple.TypeAlign(sd.Align, offset)
		meta.Offsets[i] = offset
		meta.Funcs[i] = sd.Search
		offset += sd.Width
	}
	meta.NumKeys = numKeys

	if !getKeys(desc, key, meta) {
		return
	}
	meta.Enabled = true
	meta.Length = page.Align(desc.NonLeafSpec().Len)
	meta.cache.valid = false
}

// getKeys decomposes key into per-field values and flags. It fails on a
// type mismatch; the fast path never widens.
func getKeys(desc *tuple.IndexDescr, key tuple.SearchKey, meta *Meta) bool {
	meta.Inclusive = false
	fields := desc.KeyFields()

	switch {
	case key.Kind == tuple.KeyNone:
		for i := 0; i < meta.NumKeys; i++ {
			meta.Flags[i] = KeyMinusInf
		}
	case key.Kind == tuple.KeyRightmost:
		for i := 0; i < meta.NumKeys; i++ {
			meta.Flags[i] = KeyPlusInf
		}
	case key.Kind.IsBound():
		n := min(meta.NumKeys, len(key.Bound.Keys))
		for i := 0; i < n; i++ {
			vb := key.Bound.Keys[i]
			if vb.Type != fields[i].Type {
				return false
			}
			if vb.Flags&tuple.BoundUnbounded != 0 {
				if vb.Flags&tuple.BoundLower != 0 {
					meta.Flags[i] = KeyMinusInf
				} else {
					meta.Flags[i] = KeyPlusInf
				}
				continue
			}
			setValue(meta, i, fields[i], vb.Value)
		}
		// Fields past the bound compare equal.
		meta.NumKeys = n
	case key.Kind.IsTuple():
		layout := desc.NonLeaf()
		for i := 0; i < meta.NumKeys; i++ {
			var (
				v   tuple.Value
				err error
			)
			if key.Kind == tuple.KeyLeafTuple {
				v, err = desc.Leaf().Attr(key.Tuple, desc.KeyAttrs[i])
			} else {
				v, err = layout.Attr(key.Tuple, i)
			}
			if err != nil {
				return false
			}
			setValue(meta, i, fields[i], v)
		}
		if key.Kind == tuple.KeyPageHiKey {
			meta.Inclusive = true
		}
	default:
		return false
	}
	return true
}

func setValue(meta *Meta, i int, f tuple.Field, v tuple.Value) {
	switch {
	case !v.Null:
		meta.Flags[i] = KeyPlain
		meta.Values[i] = v.Datum
	case f.NullsFirst:
		meta.Flags[i] = KeyMinusInf
	default:
		meta.Flags[i] = KeyPlusInf
	}
}

// InvalidateCache drops the cached chunk of the descriptor.
func (m *Meta) InvalidateCache() { m.cache.valid = false }
