package tuple

// OpClassID identifies a B-tree operator class.
type OpClassID uint32

// InvalidOpClass marks an unresolved operator class.
const InvalidOpClass OpClassID = 0

// Default B-tree operator classes of the builtin catalog.
const (
	OpClassFloat4 OpClassID = 1970
	OpClassInt4   OpClassID = 1978
	OpClassOID    OpClassID = 1989
	OpClassTID    OpClassID = 2789
	OpClassFloat8 OpClassID = 3123
	OpClassInt8   OpClassID = 3124
	OpClassText   OpClassID = 3126
)

// Catalog resolves catalog metadata for column types.
type Catalog interface {
	// DefaultOpClass returns the default B-tree operator class of typ.
	DefaultOpClass(typ TypeID) (OpClassID, bool)
}

// BuiltinCatalog knows the default operator classes of the builtin types.
type BuiltinCatalog struct{}

// DefaultOpClass implements Catalog.
func (BuiltinCatalog) DefaultOpClass(typ TypeID) (OpClassID, bool) {
	switch typ {
	case TypeInt4:
		return OpClassInt4, true
	case TypeInt8:
		return OpClassInt8, true
	case TypeOID:
		return OpClassOID, true
	case TypeFloat4:
		return OpClassFloat4, true
	case TypeFloat8:
		return OpClassFloat8, true
	case TypeTID:
		return OpClassTID, true
	case TypeText:
		return OpClassText, true
	}
	return InvalidOpClass, false
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(typ TypeID) (OpClassID, bool)

// DefaultOpClass implements Catalog.
func (f CatalogFunc) DefaultOpClass(typ TypeID) (OpClassID, bool) { return f(typ) }
