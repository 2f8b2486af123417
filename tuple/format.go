package tuple

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tuple is an encoded tuple. Fixed tuples are a raw array of fixed-width
// attributes laid out per the layout's FixedFormatSpec; other tuples carry a
// header, an optional null bitmap and aligned attributes.
type Tuple struct {
	Data  []byte
	Fixed bool
}

// Len returns the encoded length.
func (t Tuple) Len() int { return len(t.Data) }

// IsEmpty reports whether the tuple has no data. The first key of a
// non-leaf page is empty.
func (t Tuple) IsEmpty() bool { return len(t.Data) == 0 }

// Clone returns a copy that does not alias t.
func (t Tuple) Clone() Tuple {
	return Tuple{Data: append([]byte(nil), t.Data...), Fixed: t.Fixed}
}

const (
	// HeaderSize is the size of the variable-format tuple header.
	HeaderSize = 8

	hasNullsBit = 0x8000
	lenMask     = 0x7fff
)

var (
	// ErrArity is returned when the number of values does not match the layout.
	ErrArity = errors.New("tuple: value count does not match layout")
	// ErrMalformed is returned when decoding a damaged tuple.
	ErrMalformed = errors.New("tuple: malformed tuple")
)

// Layout describes how tuples of a given attribute list are encoded.
type Layout struct {
	Fields  []Field
	Spec    FixedFormatSpec
	offsets []int
}

// NAtts returns the attribute count.
func (l Layout) NAtts() int { return len(l.Fields) }

// FixedOffset returns the byte offset of attribute i in a fixed tuple.
func (l Layout) FixedOffset(i int) int { return l.offsets[i] }

// Encode encodes values. The fixed format is used when every attribute is
// fixed-width and non-null.
func (l Layout) Encode(values []Value) (Tuple, error) {
	if len(values) != len(l.Fields) {
		return Tuple{}, fmt.Errorf("%w: got %d, want %d", ErrArity, len(values), len(l.Fields))
	}
	hasNulls := false
	for _, v := range values {
		if v.Null {
			hasNulls = true
			break
		}
	}
	if !hasNulls && l.Spec.NAtts == len(l.Fields) {
		data := make([]byte, l.Spec.Len)
		for i, f := range l.Fields {
			putFixed(data[l.offsets[i]:], f.Type, values[i].Datum)
		}
		return Tuple{Data: data, Fixed: true}, nil
	}

	start := HeaderSize
	if hasNulls {
		start += (len(values) + 7) / 8
	}
	start = TypeAlign(8, start)
	size := start
	for i, f := range l.Fields {
		if values[i].Null {
			continue
		}
		info, _ := f.Type.Info()
		size = TypeAlign(info.Align, size)
		if info.Fixed() {
			size += info.Width
		} else {
			size += 2 + len(values[i].Bytes)
		}
	}
	if size > lenMask {
		return Tuple{}, fmt.Errorf("tuple: encoded size %d exceeds format limit", size)
	}

	data := make([]byte, size)
	lenFlags := uint16(size)
	if hasNulls {
		lenFlags |= hasNullsBit
	}
	binary.LittleEndian.PutUint16(data[0:], lenFlags)
	binary.LittleEndian.PutUint16(data[2:], uint16(len(values)))
	off := start
	for i, f := range l.Fields {
		v := values[i]
		if v.Null {
			data[HeaderSize+i/8] |= 1 << (i % 8)
			continue
		}
		info, _ := f.Type.Info()
		off = TypeAlign(info.Align, off)
		if info.Fixed() {
			putFixed(data[off:], f.Type, v.Datum)
			off += info.Width
			continue
		}
		binary.LittleEndian.PutUint16(data[off:], uint16(len(v.Bytes)))
		copy(data[off+2:], v.Bytes)
		off += 2 + len(v.Bytes)
	}
	return Tuple{Data: data}, nil
}

// MustEncode is like Encode but panics on error. Intended for tests and
// static data.
func (l Layout) MustEncode(values ...Value) Tuple {
	t, err := l.Encode(values)
	if err != nil {
		panic(err)
	}
	return t
}

// Attr decodes attribute i of t.
func (l Layout) Attr(t Tuple, i int) (Value, error) {
	if t.Fixed {
		if i >= l.Spec.NAtts || l.offsets[i]+widthOf(l.Fields[i].Type) > len(t.Data) {
			return Value{}, ErrMalformed
		}
		return Value{Datum: getFixed(t.Data[l.offsets[i]:], l.Fields[i].Type)}, nil
	}
	if len(t.Data) < HeaderSize {
		return Value{}, ErrMalformed
	}
	lenFlags := binary.LittleEndian.Uint16(t.Data[0:])
	natts := int(binary.LittleEndian.Uint16(t.Data[2:]))
	if int(lenFlags&lenMask) != len(t.Data) || i >= natts || natts > len(l.Fields) {
		return Value{}, ErrMalformed
	}
	hasNulls := lenFlags&hasNullsBit != 0
	isNull := func(j int) bool {
		return hasNulls && t.Data[HeaderSize+j/8]&(1<<(j%8)) != 0
	}
	off := HeaderSize
	if hasNulls {
		off += (natts + 7) / 8
	}
	off = TypeAlign(8, off)
	for j := 0; j <= i; j++ {
		if isNull(j) {
			if j == i {
				return Null(), nil
			}
			continue
		}
		info, _ := l.Fields[j].Type.Info()
		off = TypeAlign(info.Align, off)
		var n int
		if info.Fixed() {
			n = info.Width
		} else {
			if off+2 > len(t.Data) {
				return Value{}, ErrMalformed
			}
			n = 2 + int(binary.LittleEndian.Uint16(t.Data[off:]))
		}
		if off+n > len(t.Data) {
			return Value{}, ErrMalformed
		}
		if j == i {
			if info.Fixed() {
				return Value{Datum: getFixed(t.Data[off:], l.Fields[j].Type)}, nil
			}
			return Value{Bytes: t.Data[off+2 : off+n]}, nil
		}
		off += n
	}
	return Value{}, ErrMalformed
}

// Values decodes every attribute of t.
func (l Layout) Values(t Tuple) ([]Value, error) {
	out := make([]Value, len(l.Fields))
	for i := range out {
		v, err := l.Attr(t, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func widthOf(t TypeID) int {
	info, _ := t.Info()
	return info.Width
}

// MakeKey extracts the non-leaf key of a leaf tuple.
func (d *IndexDescr) MakeKey(leaf Tuple) (Tuple, error) {
	ll := d.Leaf()
	values := make([]Value, len(d.KeyAttrs))
	for i, a := range d.KeyAttrs {
		v, err := ll.Attr(leaf, a)
		if err != nil {
			return Tuple{}, err
		}
		values[i] = v
	}
	return d.NonLeaf().Encode(values)
}
