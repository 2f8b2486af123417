package tuple

// KeyType tells how a search key is represented.
type KeyType uint8

const (
	// KeyNone probes the leftmost position of every page.
	KeyNone KeyType = iota
	// KeyRightmost probes the rightmost position of every page.
	KeyRightmost
	// KeyBound is a plain bound over the key fields.
	KeyBound
	// KeyUniqueLowerBound is a lower bound over the unique prefix.
	KeyUniqueLowerBound
	// KeyUniqueUpperBound is an upper bound over the unique prefix.
	KeyUniqueUpperBound
	// KeyLeafTuple searches by the key of a leaf tuple.
	KeyLeafTuple
	// KeyNonLeafKey searches by an encoded non-leaf key.
	KeyNonLeafKey
	// KeyPageHiKey searches by a page high key. The search is inclusive.
	KeyPageHiKey
)

// IsBound reports whether k carries Bounds.
func (k KeyType) IsBound() bool {
	return k == KeyBound || k == KeyUniqueLowerBound || k == KeyUniqueUpperBound
}

// IsTuple reports whether k carries an encoded tuple.
func (k KeyType) IsTuple() bool {
	return k == KeyLeafTuple || k == KeyNonLeafKey || k == KeyPageHiKey
}

// BoundFlags qualify a single ValueBound.
type BoundFlags uint8

const (
	// BoundUnbounded marks an open end: the Value is ignored.
	BoundUnbounded BoundFlags = 1 << iota
	// BoundLower marks a lower bound. Without it the bound is an upper bound.
	BoundLower
	// BoundInclusive marks an inclusive bound.
	BoundInclusive
)

// ValueBound is one field of Bounds.
type ValueBound struct {
	Type  TypeID
	Value Value
	Flags BoundFlags
}

// Bounds bound a prefix of the key fields.
type Bounds struct {
	Keys []ValueBound
}

// SearchKey is a logical search key together with its representation.
type SearchKey struct {
	Kind  KeyType
	Bound Bounds
	Tuple Tuple
}

// NoneKey returns the leftmost probe key.
func NoneKey() SearchKey { return SearchKey{Kind: KeyNone} }

// RightmostKey returns the rightmost probe key.
func RightmostKey() SearchKey { return SearchKey{Kind: KeyRightmost} }

// BoundKey returns a plain bound search key.
func BoundKey(keys ...ValueBound) SearchKey {
	return SearchKey{Kind: KeyBound, Bound: Bounds{Keys: keys}}
}

// Eq returns an inclusive ValueBound equal to v.
func Eq(t TypeID, v Value) ValueBound {
	return ValueBound{Type: t, Value: v, Flags: BoundInclusive | BoundLower}
}

// TupleKey returns a search key for an encoded tuple of kind k.
func TupleKey(k KeyType, t Tuple) SearchKey {
	return SearchKey{Kind: k, Tuple: t}
}

// CompareFieldCount returns how many key fields take part in comparing a
// search key of kind k against stored keys.
func (d *IndexDescr) CompareFieldCount(k KeyType) int {
	if k == KeyUniqueLowerBound || k == KeyUniqueUpperBound {
		return d.NUniqueFields
	}
	switch d.Kind {
	case IndexToast, IndexBridge:
		return len(d.keyFields)
	default:
		return d.NKeyFields
	}
}
