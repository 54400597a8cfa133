package types

import "math"

// Bytes is a uint64 wrapper representing a size in bytes.
type Bytes uint64

// SaturatingAdd returns b+v clamped to the maximum representable value.
// I/O totals aggregate monotonic counters across every tracked entity, so
// a wrapping sum must never turn a large total into a small one.
func (b Bytes) SaturatingAdd(v Bytes) Bytes {
	return Bytes(SaturatingAddU64(uint64(b), uint64(v)))
}

// SaturatingAddU64 adds two monotonic counters, clamping at MaxUint64
// instead of wrapping.
func SaturatingAddU64(a, b uint64) uint64 {
	if math.MaxUint64-a < b {
		return math.MaxUint64
	}
	return a + b
}
