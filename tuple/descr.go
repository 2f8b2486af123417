package tuple

import (
	"errors"
	"fmt"
)

// IndexKind classifies a B-tree by its role in the table layer.
type IndexKind uint8

const (
	IndexRegular IndexKind = iota
	IndexPrimary
	IndexUnique
	IndexToast
	IndexBridge
)

func (k IndexKind) String() string {
	switch k {
	case IndexRegular:
		return "regular"
	case IndexPrimary:
		return "primary"
	case IndexUnique:
		return "unique"
	case IndexToast:
		return "toast"
	case IndexBridge:
		return "bridge"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field describes one tuple attribute.
type Field struct {
	Name       string
	Type       TypeID
	OpClass    OpClassID
	Descending bool
	NullsFirst bool
}

// FixedFormatSpec describes the fixed-format prefix of a tuple layout:
// NAtts leading fixed-width attributes spanning Len bytes.
type FixedFormatSpec struct {
	NAtts int
	Len   int
}

// IndexDescr is the read-only tuple descriptor of a B-tree.
type IndexDescr struct {
	Name   string
	Kind   IndexKind
	System bool

	// Fields are the leaf tuple attributes.
	Fields []Field
	// KeyAttrs lists the leaf attribute positions that form the non-leaf key.
	KeyAttrs []int
	// NKeyFields is the number of leading key fields that take part in
	// ordinary comparisons.
	NKeyFields int
	// NUniqueFields is the unique prefix length of the key.
	NUniqueFields int
	// FillFactor is the target page fill in percent (10..100).
	FillFactor int

	Catalog Catalog

	keyFields   []Field
	leafSpec    FixedFormatSpec
	nonLeafSpec FixedFormatSpec
	leafOffsets []int
	keyOffsets  []int
}

// ErrInvalidDescr is returned for an inconsistent index descriptor.
var ErrInvalidDescr = errors.New("tuple: invalid index descriptor")

// DefaultFillFactor is used when IndexDescr.FillFactor is zero.
const DefaultFillFactor = 90

// Init validates the descriptor and derives the key layout. It must be
// called once before the descriptor is shared.
func (d *IndexDescr) Init() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidDescr)
	}
	if len(d.KeyAttrs) == 0 {
		d.KeyAttrs = make([]int, len(d.Fields))
		for i := range d.KeyAttrs {
			d.KeyAttrs[i] = i
		}
	}
	for _, a := range d.KeyAttrs {
		if a < 0 || a >= len(d.Fields) {
			return fmt.Errorf("%w: key attribute %d out of range", ErrInvalidDescr, a)
		}
	}
	if d.NKeyFields == 0 {
		d.NKeyFields = len(d.KeyAttrs)
	}
	if d.NKeyFields > len(d.KeyAttrs) {
		return fmt.Errorf("%w: %d key fields but %d key attributes", ErrInvalidDescr, d.NKeyFields, len(d.KeyAttrs))
	}
	if d.NUniqueFields == 0 {
		d.NUniqueFields = d.NKeyFields
	}
	if d.NUniqueFields > d.NKeyFields {
		return fmt.Errorf("%w: %d unique fields exceed %d key fields", ErrInvalidDescr, d.NUniqueFields, d.NKeyFields)
	}
	if d.FillFactor == 0 {
		d.FillFactor = DefaultFillFactor
	}
	if d.FillFactor < 10 || d.FillFactor > 100 {
		return fmt.Errorf("%w: fill factor %d", ErrInvalidDescr, d.FillFactor)
	}
	if d.Catalog == nil {
		d.Catalog = BuiltinCatalog{}
	}
	for i := range d.Fields {
		f := &d.Fields[i]
		if _, ok := f.Type.Info(); !ok {
			return fmt.Errorf("%w: field %q has unsupported type %s", ErrInvalidDescr, f.Name, f.Type)
		}
		if f.OpClass == InvalidOpClass {
			if oc, ok := d.Catalog.DefaultOpClass(f.Type); ok {
				f.OpClass = oc
			}
		}
	}

	d.keyFields = make([]Field, len(d.KeyAttrs))
	for i, a := range d.KeyAttrs {
		d.keyFields[i] = d.Fields[a]
	}
	d.leafSpec, d.leafOffsets = fixedSpec(d.Fields)
	d.nonLeafSpec, d.keyOffsets = fixedSpec(d.keyFields)
	return nil
}

func fixedSpec(fields []Field) (FixedFormatSpec, []int) {
	var spec FixedFormatSpec
	offsets := make([]int, 0, len(fields))
	off := 0
	for _, f := range fields {
		info, _ := f.Type.Info()
		if !info.Fixed() {
			break
		}
		off = TypeAlign(info.Align, off)
		offsets = append(offsets, off)
		off += info.Width
		spec.NAtts++
	}
	spec.Len = off
	return spec, offsets
}

// IsUnique reports whether the tree rejects duplicate non-null keys on its
// unique prefix. Primary key trees are unique.
func (d *IndexDescr) IsUnique() bool {
	return d.Kind == IndexUnique || d.Kind == IndexPrimary
}

// KeyFields returns the non-leaf key attributes.
func (d *IndexDescr) KeyFields() []Field { return d.keyFields }

// LeafSpec returns the fixed-format spec of leaf tuples.
func (d *IndexDescr) LeafSpec() FixedFormatSpec { return d.leafSpec }

// NonLeafSpec returns the fixed-format spec of non-leaf keys.
func (d *IndexDescr) NonLeafSpec() FixedFormatSpec { return d.nonLeafSpec }

// NonLeafNAtts returns the number of non-leaf key attributes.
func (d *IndexDescr) NonLeafNAtts() int { return len(d.keyFields) }

// Leaf returns the leaf layout.
func (d *IndexDescr) Leaf() Layout {
	return Layout{Fields: d.Fields, Spec: d.leafSpec, offsets: d.leafOffsets}
}

// NonLeaf returns the non-leaf key layout.
func (d *IndexDescr) NonLeaf() Layout {
	return Layout{Fields: d.keyFields, Spec: d.nonLeafSpec, offsets: d.keyOffsets}
}
