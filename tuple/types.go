package tuple

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
)

// TypeID identifies a scalar column type. Values follow the PostgreSQL
// catalog OIDs so on-disk descriptors stay recognizable.
type TypeID uint32

// Supported column types.
const (
	TypeInvalid TypeID = 0
	TypeInt8    TypeID = 20
	TypeInt4    TypeID = 23
	TypeText    TypeID = 25
	TypeOID     TypeID = 26
	TypeTID     TypeID = 27
	TypeFloat4  TypeID = 700
	TypeFloat8  TypeID = 701
)

func (t TypeID) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeInt4:
		return "int4"
	case TypeText:
		return "text"
	case TypeOID:
		return "oid"
	case TypeTID:
		return "tid"
	case TypeFloat4:
		return "float4"
	case TypeFloat8:
		return "float8"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// TypeInfo describes the physical storage of a type.
type TypeInfo struct {
	// Width is the fixed byte width, or -1 for variable-length types.
	Width int
	Align int
}

// Fixed reports whether values of the type have a fixed width.
func (i TypeInfo) Fixed() bool { return i.Width > 0 }

// Info returns the physical storage description of t.
func (t TypeID) Info() (TypeInfo, bool) {
	switch t {
	case TypeInt4, TypeOID, TypeFloat4:
		return TypeInfo{Width: 4, Align: 4}, true
	case TypeInt8, TypeFloat8:
		return TypeInfo{Width: 8, Align: 8}, true
	case TypeTID:
		return TypeInfo{Width: TIDSize, Align: 2}, true
	case TypeText:
		return TypeInfo{Width: -1, Align: 2}, true
	default:
		return TypeInfo{}, false
	}
}

// TIDSize is the on-disk size of a tuple id: block (hi, lo) and offset.
const TIDSize = 6

// Datum holds a fixed-width scalar in a type-specific 64-bit encoding.
type Datum uint64

// TID is a (block, offset) tuple identifier.
type TID struct {
	Block  uint32
	Offset uint16
}

// Datum packs the tid so that integer order equals block-then-offset order.
func (t TID) Datum() Datum { return Datum(uint64(t.Block)<<16 | uint64(t.Offset)) }

// TIDFromDatum unpacks a tid datum.
func TIDFromDatum(d Datum) TID {
	return TID{Block: uint32(d >> 16), Offset: uint16(d)}
}

// Value is a single column value. Variable-length values keep their bytes
// in Bytes and leave Datum zero.
type Value struct {
	Datum Datum
	Bytes []byte
	Null  bool
}

// Null returns the SQL NULL value.
func Null() Value { return Value{Null: true} }

// Int4 returns an int4 value.
func Int4(v int32) Value { return Value{Datum: Datum(uint32(v))} }

// Int8 returns an int8 value.
func Int8(v int64) Value { return Value{Datum: Datum(uint64(v))} }

// OID returns an oid value.
func OID(v uint32) Value { return Value{Datum: Datum(v)} }

// Float4 returns a float4 value.
func Float4(v float32) Value { return Value{Datum: Datum(math.Float32bits(v))} }

// Float8 returns a float8 value.
func Float8(v float64) Value { return Value{Datum: Datum(math.Float64bits(v))} }

// TIDValue returns a tid value.
func TIDValue(block uint32, offset uint16) Value {
	return Value{Datum: TID{Block: block, Offset: offset}.Datum()}
}

// Text returns a text value.
func Text(s string) Value { return Value{Bytes: []byte(s)} }

func (v Value) Int4() int32     { return int32(uint32(v.Datum)) }
func (v Value) Int8() int64     { return int64(v.Datum) }
func (v Value) OID() uint32     { return uint32(v.Datum) }
func (v Value) Float4() float32 { return math.Float32frombits(uint32(v.Datum)) }
func (v Value) Float8() float64 { return math.Float64frombits(uint64(v.Datum)) }
func (v Value) TID() TID        { return TIDFromDatum(v.Datum) }
func (v Value) Text() string    { return string(v.Bytes) }

// CompareDatum orders two fixed-width datums of type t.
func CompareDatum(t TypeID, a, b Datum) int {
	switch t {
	case TypeInt4:
		return cmp.Compare(int32(uint32(a)), int32(uint32(b)))
	case TypeInt8:
		return cmp.Compare(int64(a), int64(b))
	case TypeOID:
		return cmp.Compare(uint32(a), uint32(b))
	case TypeFloat4:
		return CompareFloat(float64(math.Float32frombits(uint32(a))), float64(math.Float32frombits(uint32(b))))
	case TypeFloat8:
		return CompareFloat(math.Float64frombits(uint64(a)), math.Float64frombits(uint64(b)))
	case TypeTID:
		return cmp.Compare(uint64(a), uint64(b))
	default:
		return cmp.Compare(uint64(a), uint64(b))
	}
}

// CompareFloat orders floats with NaN above every number and equal to NaN.
func CompareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	return cmp.Compare(a, b)
}

// CompareValues orders two non-null values of the same type.
func CompareValues(t TypeID, a, b Value) int {
	if t == TypeText {
		return bytes.Compare(a.Bytes, b.Bytes)
	}
	return CompareDatum(t, a.Datum, b.Datum)
}

// compareCross orders values of possibly different types. Integer types
// widen to int64 and mixed numeric types widen to float64.
func compareCross(ta TypeID, a Value, tb TypeID, b Value) int {
	if ta == tb {
		return CompareValues(ta, a, b)
	}
	ai, aInt := asInt64(ta, a)
	bi, bInt := asInt64(tb, b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	af, aNum := asFloat64(ta, a)
	bf, bNum := asFloat64(tb, b)
	if aNum && bNum {
		return CompareFloat(af, bf)
	}
	return cmp.Compare(uint32(ta), uint32(tb))
}

func asInt64(t TypeID, v Value) (int64, bool) {
	switch t {
	case TypeInt4:
		return int64(v.Int4()), true
	case TypeInt8:
		return v.Int8(), true
	case TypeOID:
		return int64(v.OID()), true
	}
	return 0, false
}

func asFloat64(t TypeID, v Value) (float64, bool) {
	switch t {
	case TypeFloat4:
		return float64(v.Float4()), true
	case TypeFloat8:
		return v.Float8(), true
	}
	if i, ok := asInt64(t, v); ok {
		return float64(i), true
	}
	return 0, false
}

// putFixed writes a fixed-width datum of type t into dst.
func putFixed(dst []byte, t TypeID, d Datum) {
	switch t {
	case TypeInt4, TypeOID, TypeFloat4:
		binary.LittleEndian.PutUint32(dst, uint32(d))
	case TypeInt8, TypeFloat8:
		binary.LittleEndian.PutUint64(dst, uint64(d))
	case TypeTID:
		tid := TIDFromDatum(d)
		binary.LittleEndian.PutUint16(dst[0:], uint16(tid.Block>>16))
		binary.LittleEndian.PutUint16(dst[2:], uint16(tid.Block))
		binary.LittleEndian.PutUint16(dst[4:], tid.Offset)
	}
}

// getFixed reads a fixed-width datum of type t from src.
func getFixed(src []byte, t TypeID) Datum {
	switch t {
	case TypeInt4, TypeOID, TypeFloat4:
		return Datum(binary.LittleEndian.Uint32(src))
	case TypeInt8, TypeFloat8:
		return Datum(binary.LittleEndian.Uint64(src))
	case TypeTID:
		hi := uint32(binary.LittleEndian.Uint16(src[0:]))
		lo := uint32(binary.LittleEndian.Uint16(src[2:]))
		off := binary.LittleEndian.Uint16(src[4:])
		return TID{Block: hi<<16 | lo, Offset: off}.Datum()
	}
	return 0
}

// TypeAlign rounds off up to a multiple of align.
func TypeAlign(align, off int) int {
	return (off + align - 1) &^ (align - 1)
}
