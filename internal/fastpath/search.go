package fastpath

import (
	"cmp"
	"math"

	"github.com/hupe1980/obtree/internal/page"
	"github.com/hupe1980/obtree/tuple"
)

// ArraySearchFunc narrows [lower, upper) over a fixed-stride array of
// scalars whose element i lives at base+i*stride. It returns the span of
// elements equal to key: the first element >= key and the first element >
// key, searched from the first result up to upper.
type ArraySearchFunc func(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int)

// twoPhase runs a lower-bound then an upper-bound binary search. at(i)
// compares element i with the key.
func twoPhase(lower, upper int, at func(i int) int) (int, int) {
	lo, hi := lower, upper
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if at(mid) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	first := lo
	hi = upper
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if at(mid) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return first, lo
}

func searchOID(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := uint32(key)
	return twoPhase(lower, upper, func(i int) int {
		return cmp.Compare(m.Load32(base+i*stride), k)
	})
}

func searchInt4(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := int32(uint32(key))
	return twoPhase(lower, upper, func(i int) int {
		return cmp.Compare(int32(m.Load32(base+i*stride)), k)
	})
}

func searchInt8(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := int64(key)
	return twoPhase(lower, upper, func(i int) int {
		return cmp.Compare(int64(m.Load64(base+i*stride)), k)
	})
}

func searchFloat4(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := float64(math.Float32frombits(uint32(key)))
	return twoPhase(lower, upper, func(i int) int {
		return tuple.CompareFloat(float64(math.Float32frombits(m.Load32(base+i*stride))), k)
	})
}

func searchFloat8(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := math.Float64frombits(uint64(key))
	return twoPhase(lower, upper, func(i int) int {
		return tuple.CompareFloat(math.Float64frombits(m.Load64(base+i*stride)), k)
	})
}

// searchTID orders by block number, then offset. A tid is stored as three
// uint16 words: block high, block low, offset.
func searchTID(m page.Memory, base, stride, lower, upper int, key tuple.Datum) (int, int) {
	k := tuple.TIDFromDatum(key)
	return twoPhase(lower, upper, func(i int) int {
		off := base + i*stride
		block := uint32(m.Load16(off))<<16 | uint32(m.Load16(off+2))
		if c := cmp.Compare(block, k.Block); c != 0 {
			return c
		}
		return cmp.Compare(m.Load16(off+4), k.Offset)
	})
}
