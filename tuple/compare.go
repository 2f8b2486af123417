package tuple

// PartKind tells how a search Part compares.
type PartKind uint8

const (
	PartValue PartKind = iota
	PartMinusInf
	PartPlusInf
)

// Part is one decomposed field of a search key.
type Part struct {
	Kind  PartKind
	Type  TypeID
	Value Value
}

// Parts is a decomposed search key ready for the generic comparator.
type Parts struct {
	Parts     []Part
	Inclusive bool
}

// Decompose turns a search key into comparable parts.
func (d *IndexDescr) Decompose(key SearchKey) (Parts, error) {
	n := d.CompareFieldCount(key.Kind)
	var out Parts
	switch {
	case key.Kind == KeyNone || key.Kind == KeyRightmost:
		kind := PartMinusInf
		if key.Kind == KeyRightmost {
			kind = PartPlusInf
		}
		out.Parts = make([]Part, n)
		for i := range out.Parts {
			out.Parts[i] = Part{Kind: kind, Type: d.keyFields[i].Type}
		}
	case key.Kind.IsBound():
		n = min(n, len(key.Bound.Keys))
		out.Parts = make([]Part, n)
		for i := 0; i < n; i++ {
			vb := key.Bound.Keys[i]
			switch {
			case vb.Flags&BoundUnbounded == 0:
				out.Parts[i] = Part{Kind: PartValue, Type: vb.Type, Value: vb.Value}
			case vb.Flags&BoundLower != 0:
				out.Parts[i] = Part{Kind: PartMinusInf, Type: vb.Type}
			default:
				out.Parts[i] = Part{Kind: PartPlusInf, Type: vb.Type}
			}
		}
	case key.Kind.IsTuple():
		layout, attrs := d.NonLeaf(), identity(n)
		if key.Kind == KeyLeafTuple {
			layout, attrs = d.Leaf(), d.KeyAttrs[:n]
		}
		out.Parts = make([]Part, n)
		for i := 0; i < n; i++ {
			v, err := layout.Attr(key.Tuple, attrs[i])
			if err != nil {
				return Parts{}, err
			}
			out.Parts[i] = Part{Kind: PartValue, Type: d.keyFields[i].Type, Value: v}
		}
		out.Inclusive = key.Kind == KeyPageHiKey
	}
	return out, nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// CompareKey orders a decomposed search key against a stored non-leaf key.
// An empty stored key is minus infinity.
func (d *IndexDescr) CompareKey(p Parts, key Tuple) (int, error) {
	if key.IsEmpty() {
		return 1, nil
	}
	return d.compareParts(p.Parts, d.NonLeaf(), key, nil)
}

// CompareLeaf orders a decomposed search key against a leaf tuple.
func (d *IndexDescr) CompareLeaf(p Parts, leaf Tuple) (int, error) {
	return d.compareParts(p.Parts, d.Leaf(), leaf, d.KeyAttrs)
}

func (d *IndexDescr) compareParts(parts []Part, layout Layout, t Tuple, attrs []int) (int, error) {
	for i, p := range parts {
		switch p.Kind {
		case PartMinusInf:
			return -1, nil
		case PartPlusInf:
			return 1, nil
		}
		attr := i
		if attrs != nil {
			attr = attrs[i]
		}
		stored, err := layout.Attr(t, attr)
		if err != nil {
			return 0, err
		}
		f := d.keyFields[i]
		if c := compareField(f, p.Type, p.Value, stored); c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func compareField(f Field, t TypeID, a, b Value) int {
	switch {
	case a.Null && b.Null:
		return 0
	case a.Null:
		if f.NullsFirst {
			return -1
		}
		return 1
	case b.Null:
		if f.NullsFirst {
			return 1
		}
		return -1
	}
	c := compareCross(t, a, f.Type, b)
	if f.Descending {
		c = -c
	}
	return c
}

// CompareTuples orders two leaf tuples by their first n key fields.
func (d *IndexDescr) CompareTuples(a, b Tuple, n int) (int, error) {
	l := d.Leaf()
	for i := 0; i < n; i++ {
		f := d.keyFields[i]
		va, err := l.Attr(a, d.KeyAttrs[i])
		if err != nil {
			return 0, err
		}
		vb, err := l.Attr(b, d.KeyAttrs[i])
		if err != nil {
			return 0, err
		}
		if c := compareField(f, f.Type, va, vb); c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// HasNullKey reports whether any of the first n key fields of leaf is null.
func (d *IndexDescr) HasNullKey(leaf Tuple, n int) (bool, error) {
	if leaf.Fixed {
		return false, nil
	}
	l := d.Leaf()
	for i := 0; i < n; i++ {
		v, err := l.Attr(leaf, d.KeyAttrs[i])
		if err != nil {
			return false, err
		}
		if v.Null {
			return true, nil
		}
	}
	return false, nil
}
