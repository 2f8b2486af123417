package fastpath

import (
	"sync/atomic"

	"github.com/hupe1980/obtree/tuple"
)

// ArraySearchDesc registers a scalar type usable by the fast path.
type ArraySearchDesc struct {
	Type   tuple.TypeID
	Width  int
	Align  int
	Search ArraySearchFunc

	opClass atomic.Uint32
}

func newDesc(t tuple.TypeID, opClass tuple.OpClassID, search ArraySearchFunc) *ArraySearchDesc {
	info, _ := t.Info()
	d := &ArraySearchDesc{Type: t, Width: info.Width, Align: info.Align, Search: search}
	d.opClass.Store(uint32(opClass))
	return d
}

// float4 and tid have no well-known operator class and resolve it from the
// catalog on first use.
var arraySearchDescs = []*ArraySearchDesc{
	newDesc(tuple.TypeOID, tuple.OpClassOID, searchOID),
	newDesc(tuple.TypeInt4, tuple.OpClassInt4, searchInt4),
	newDesc(tuple.TypeInt8, tuple.OpClassInt8, searchInt8),
	newDesc(tuple.TypeFloat4, tuple.InvalidOpClass, searchFloat4),
	newDesc(tuple.TypeFloat8, tuple.OpClassFloat8, searchFloat8),
	newDesc(tuple.TypeTID, tuple.InvalidOpClass, searchTID),
}

// LookupArraySearch returns the registry entry for typ.
func LookupArraySearch(typ tuple.TypeID) (*ArraySearchDesc, bool) {
	for _, d := range arraySearchDescs {
		if d.Type == typ {
			return d, true
		}
	}
	return nil, false
}

// OpClass returns the default operator class of the entry, resolving and
// caching it through cat on first use.
func (d *ArraySearchDesc) OpClass(cat tuple.Catalog) tuple.OpClassID {
	if oc := d.opClass.Load(); oc != uint32(tuple.InvalidOpClass) {
		return tuple.OpClassID(oc)
	}
	if cat == nil {
		return tuple.InvalidOpClass
	}
	oc, ok := cat.DefaultOpClass(d.Type)
	if !ok {
		return tuple.InvalidOpClass
	}
	d.opClass.CompareAndSwap(uint32(tuple.InvalidOpClass), uint32(oc))
	return tuple.OpClassID(d.opClass.Load())
}
