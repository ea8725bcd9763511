package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayout_Primitives(t *testing.T) {
	for _, tc := range []struct {
		ty    Type
		size  uint32
		align uint32
	}{
		{UnitType, 0, 1},
		{I1Type, 1, 1},
		{U8Type, 1, 1},
		{I16Type, 2, 4},
		{U32Type, 4, 8},
		{IsizeType, 4, 8},
		{FeltType, 8, 8},
		{U64Type, 8, 8},
		{F64Type, 8, 8},
		{U128Type, 16, 32},
		{U256Type, 32, 32},
		{Ptr(U32Type), 4, 8},
		{NativePtr(FeltType), 4, 8},
	} {
		require.Equal(t, tc.size, tc.ty.SizeInBytes(), "size of %s", tc.ty)
		require.Equal(t, tc.align, tc.ty.MinAlignment(), "alignment of %s", tc.ty)
	}
}

func TestLayout_Structs(t *testing.T) {
	// {u8, u32}: u32 field is padded to its 8-byte minimum alignment.
	s := StructOf(U8Type, U32Type)
	require.Equal(t, uint32(12), s.SizeInBytes())
	require.Equal(t, uint32(1), s.MinAlignment())

	// Field order matters: {u32, u8} has no interior padding.
	s = StructOf(U32Type, U8Type)
	require.Equal(t, uint32(5), s.SizeInBytes())
	require.Equal(t, uint32(8), s.MinAlignment())

	require.Equal(t, uint32(0), StructOf().SizeInBytes())
}

func TestLayout_Arrays(t *testing.T) {
	require.Equal(t, uint32(0), ArrayOf(U64Type, 0).SizeInBytes())
	require.Equal(t, uint32(8), ArrayOf(U64Type, 1).SizeInBytes())
	require.Equal(t, uint32(32), ArrayOf(U64Type, 4).SizeInBytes())

	// [{u32, u8}; 3]: each element past the first is padded to 8 bytes.
	inner := StructOf(U32Type, U8Type)
	arr := ArrayOf(inner, 3)
	require.Equal(t, uint32(5+8*2), arr.SizeInBytes())
	require.Equal(t, uint32(8), arr.MinAlignment())
}

func TestLayout_FeltAndWordSizes(t *testing.T) {
	all := []Type{
		UnitType, I1Type, U8Type, I16Type, U32Type, U64Type, FeltType,
		U128Type, U256Type, Ptr(U8Type),
		StructOf(U8Type, U32Type, U64Type),
		ArrayOf(U32Type, 7),
	}
	for _, ty := range all {
		bytes := ty.SizeInBytes()
		require.Equal(t, (bytes+FeltSize-1)/FeltSize, SizeInFelts(ty), "felts of %s", ty)
		require.Equal(t, (bytes+WordSize-1)/WordSize, SizeInWords(ty), "words of %s", ty)
	}
}

func TestLayout_IsLoadable(t *testing.T) {
	require.True(t, IsLoadable(U256Type))
	require.True(t, IsLoadable(ArrayOf(U64Type, 16)))
	require.False(t, IsLoadable(ArrayOf(U64Type, 17)))
}

func TestRepr(t *testing.T) {
	for _, tc := range []struct {
		ty   Type
		kind TypeReprKind
		size uint32
	}{
		{UnitType, ReprZst, 0},
		{I1Type, ReprDefault, 1},
		{U32Type, ReprDefault, 1},
		{FeltType, ReprDefault, 1},
		{Ptr(U64Type), ReprDefault, 1},
		{U64Type, ReprSparse, 2},
		{I128Type, ReprSparse, 3},
		{U256Type, ReprSparse, 5},
		{StructOf(), ReprZst, 0},
		{StructOf(U32Type), ReprDefault, 1},
		{StructOf(U32Type, U32Type), ReprPacked, 2},
		{ArrayOf(U32Type, 0), ReprZst, 0},
		{ArrayOf(U64Type, 1), ReprSparse, 2},
		{ArrayOf(U64Type, 2), ReprPacked, 2},
	} {
		repr, ok := tc.ty.Repr()
		require.True(t, ok, "repr of %s", tc.ty)
		require.Equal(t, tc.kind, repr.Kind, "repr kind of %s", tc.ty)
		require.Equal(t, tc.size, repr.Size(), "repr size of %s", tc.ty)
	}

	_, ok := UnknownType.Repr()
	require.False(t, ok)
	_, ok = NeverType.Repr()
	require.False(t, ok)
}

func TestBitwidth(t *testing.T) {
	require.Equal(t, uint32(1), Bitwidth(I1Type))
	require.Equal(t, uint32(8), Bitwidth(U8Type))
	require.Equal(t, uint32(64), Bitwidth(FeltType))
	require.Equal(t, uint32(256), Bitwidth(U256Type))
}
