package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	for _, n := range []uint32{0, 1, 2, 3, 7, 8, 9, 15, 16, 31, 32, 33, 1000, 4095, 4096} {
		for _, m := range []uint32{1, 2, 4, 8, 16, 32, 4096} {
			got := AlignUp(n, m)
			require.Zero(t, got%m, "AlignUp(%d, %d) must be a multiple of %d", n, m, m)
			require.GreaterOrEqual(t, got, n)
			require.Less(t, got-n, m)
		}
	}
}

func TestAlignOffset(t *testing.T) {
	require.Equal(t, uint32(0), AlignOffset(0, 8))
	require.Equal(t, uint32(7), AlignOffset(1, 8))
	require.Equal(t, uint32(0), AlignOffset(8, 8))
	require.Equal(t, uint32(3), AlignOffset(29, 32))
}

func TestNextMultipleOf(t *testing.T) {
	require.Equal(t, uint32(0), NextMultipleOf(0, 3))
	require.Equal(t, uint32(3), NextMultipleOf(1, 3))
	require.Equal(t, uint32(3), NextMultipleOf(3, 3))
	require.Equal(t, uint32(6), NextMultipleOf(4, 3))
}

func TestAlign_ContractViolations(t *testing.T) {
	require.Panics(t, func() { AlignUp(1, 0) })
	require.Panics(t, func() { AlignUp(1, 3) })
	require.Panics(t, func() { AlignUp(^uint32(0)-1, 8) })
	require.Panics(t, func() { AlignOffset(1, 12) })
	require.Panics(t, func() { NextMultipleOf(1, 0) })
}
