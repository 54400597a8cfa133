package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaturatingAddU64(t *testing.T) {
	// Plain sums stay exact.
	assert.Equal(t, uint64(3), SaturatingAddU64(1, 2))
	assert.Equal(t, uint64(0), SaturatingAddU64(0, 0))

	// Sums at or past the ceiling clamp instead of wrapping.
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64, 1))
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64-1, 2))
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64, math.MaxUint64))

	// Exactly fitting sums do not clamp early.
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64-1, 1))
}

func TestBytes_SaturatingAdd(t *testing.T) {
	a := Bytes(math.MaxUint64 - 10)
	require.Equal(t, Bytes(math.MaxUint64), a.SaturatingAdd(100))
	require.Equal(t, Bytes(math.MaxUint64-5), a.SaturatingAdd(5))
}
