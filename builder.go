package obtree

import (
	"fmt"
	"slices"

	"github.com/hupe1980/obtree/tuple"
)

// NewIndex creates a new tree descriptor builder.
//
// The builder is immutable - each method returns a new builder with the updated configuration.
// This ensures thread-safety and prevents accidental state sharing.
//
// Example:
//
//	desc, err := obtree.NewIndex("orders").
//	    Int8("customer").
//	    Int8("order").
//	    Float8("amount").
//	    Key("customer", "order").
//	    Unique(2).
//	    FillFactor(80).
//	    Descr()
func NewIndex(name string) IndexBuilder {
	return IndexBuilder{name: name, kind: tuple.IndexRegular}
}

// IndexBuilder is an immutable fluent builder for tuple descriptors.
// Each method returns a new builder with the updated configuration.
type IndexBuilder struct {
	name       string
	kind       tuple.IndexKind
	system     bool
	fields     []tuple.Field
	keys       []string
	nKey       int
	nUnique    int
	fillFactor int
	catalog    tuple.Catalog
}

// Field appends a field of type typ.
func (b IndexBuilder) Field(name string, typ tuple.TypeID) IndexBuilder {
	b.fields = append(slices.Clone(b.fields), tuple.Field{Name: name, Type: typ})
	return b
}

// Int4 appends a 4-byte integer field.
func (b IndexBuilder) Int4(name string) IndexBuilder { return b.Field(name, tuple.TypeInt4) }

// Int8 appends an 8-byte integer field.
func (b IndexBuilder) Int8(name string) IndexBuilder { return b.Field(name, tuple.TypeInt8) }

// OID appends an object identifier field.
func (b IndexBuilder) OID(name string) IndexBuilder { return b.Field(name, tuple.TypeOID) }

// Float4 appends a single precision float field.
func (b IndexBuilder) Float4(name string) IndexBuilder { return b.Field(name, tuple.TypeFloat4) }

// Float8 appends a double precision float field.
func (b IndexBuilder) Float8(name string) IndexBuilder { return b.Field(name, tuple.TypeFloat8) }

// TID appends a tuple identifier field.
func (b IndexBuilder) TID(name string) IndexBuilder { return b.Field(name, tuple.TypeTID) }

// Text appends a variable-length text field.
func (b IndexBuilder) Text(name string) IndexBuilder { return b.Field(name, tuple.TypeText) }

// Descending sorts the last field in descending order.
func (b IndexBuilder) Descending() IndexBuilder {
	return b.modifyLast(func(f *tuple.Field) { f.Descending = true })
}

// NullsFirst sorts nulls of the last field before values.
func (b IndexBuilder) NullsFirst() IndexBuilder {
	return b.modifyLast(func(f *tuple.Field) { f.NullsFirst = true })
}

// OpClass sets the operator class of the last field.
func (b IndexBuilder) OpClass(oc tuple.OpClassID) IndexBuilder {
	return b.modifyLast(func(f *tuple.Field) { f.OpClass = oc })
}

func (b IndexBuilder) modifyLast(fn func(f *tuple.Field)) IndexBuilder {
	if len(b.fields) == 0 {
		return b
	}
	b.fields = slices.Clone(b.fields)
	fn(&b.fields[len(b.fields)-1])
	return b
}

// Key names the fields that form the non-leaf key, in order. By default
// every field is a key field.
func (b IndexBuilder) Key(names ...string) IndexBuilder {
	b.keys = slices.Clone(names)
	return b
}

// KeyFields limits ordinary comparisons to the first n key fields. The
// remaining key fields are included but do not order lookups.
func (b IndexBuilder) KeyFields(n int) IndexBuilder {
	b.nKey = n
	return b
}

// Unique makes the tree unique over the first n key fields.
func (b IndexBuilder) Unique(n int) IndexBuilder {
	b.kind = tuple.IndexUnique
	b.nUnique = n
	return b
}

// Primary marks the tree as a primary key tree.
func (b IndexBuilder) Primary() IndexBuilder {
	b.kind = tuple.IndexPrimary
	return b
}

// Toast marks the tree as a TOAST tree, which compares every key field.
func (b IndexBuilder) Toast() IndexBuilder {
	b.kind = tuple.IndexToast
	return b
}

// Bridge marks the tree as a bridge tree, which compares every key field.
func (b IndexBuilder) Bridge() IndexBuilder {
	b.kind = tuple.IndexBridge
	return b
}

// System marks the tree as a system tree. System trees never take the
// fast path.
func (b IndexBuilder) System() IndexBuilder {
	b.system = true
	return b
}

// FillFactor sets the target leaf fill in percent (10..100).
func (b IndexBuilder) FillFactor(ff int) IndexBuilder {
	b.fillFactor = ff
	return b
}

// Catalog sets the catalog resolving default operator classes.
func (b IndexBuilder) Catalog(c tuple.Catalog) IndexBuilder {
	b.catalog = c
	return b
}

// Descr validates the configuration and returns the descriptor.
func (b IndexBuilder) Descr() (*tuple.IndexDescr, error) {
	d := &tuple.IndexDescr{
		Name:          b.name,
		Kind:          b.kind,
		System:        b.system,
		Fields:        slices.Clone(b.fields),
		NKeyFields:    b.nKey,
		NUniqueFields: b.nUnique,
		FillFactor:    b.fillFactor,
		Catalog:       b.catalog,
	}
	for _, name := range b.keys {
		i := slices.IndexFunc(b.fields, func(f tuple.Field) bool { return f.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: unknown key field %q", tuple.ErrInvalidDescr, name)
		}
		d.KeyAttrs = append(d.KeyAttrs, i)
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDescr is like Descr but panics on error.
// Use this only in tests or for static configurations.
func (b IndexBuilder) MustDescr() *tuple.IndexDescr {
	d, err := b.Descr()
	if err != nil {
		panic(err)
	}
	return d
}
