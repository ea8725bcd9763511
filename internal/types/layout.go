package types

import "fmt"

// TypeReprKind describes how a value of a given type is laid out on the
// operand stack of the Miden VM.
type TypeReprKind uint8

const (
	// ReprZst means the value is zero-sized and never reified on the stack.
	ReprZst TypeReprKind = iota
	// ReprDefault means the value fits in a single field element.
	ReprDefault
	// ReprSparse means the value is split across N field elements along
	// arbitrary lines, e.g. a u64 as two 32-bit limbs.
	ReprSparse
	// ReprPacked means the value's binary representation is spread across
	// u32 limbs which are packed pairwise into field elements, pushed so
	// that the lowest bits are nearest the top of the stack.
	ReprPacked
)

// TypeRepr pairs a type with its operand stack representation.
type TypeRepr struct {
	Kind TypeReprKind
	Type Type
	// n is the sparse element count; only meaningful when Kind == ReprSparse.
	n uint8
}

// Size returns the number of stack elements consumed by a value of this
// representation.
func (r TypeRepr) Size() uint32 {
	switch r.Kind {
	case ReprZst:
		return 0
	case ReprDefault:
		return 1
	case ReprSparse:
		return uint32(r.n)
	case ReprPacked:
		return SizeInFelts(r.Type)
	default:
		panic(fmt.Sprintf("BUG: unrecognized type representation %d", r.Kind))
	}
}

// IsZst returns true if this is a zero-sized representation.
func (r TypeRepr) IsZst() bool { return r.Kind == ReprZst }

// IsSparse returns true if this is a sparse representation.
func (r TypeRepr) IsSparse() bool { return r.Kind == ReprSparse }

// IsPacked returns true if this is a packed representation.
func (r TypeRepr) IsPacked() bool { return r.Kind == ReprPacked }

func zst(t Type) TypeRepr { return TypeRepr{Kind: ReprZst, Type: t} }

func one(t Type) TypeRepr { return TypeRepr{Kind: ReprDefault, Type: t} }

func sparse(t Type, n uint8) TypeRepr {
	return TypeRepr{Kind: ReprSparse, Type: t, n: n}
}

func packed(t Type) TypeRepr { return TypeRepr{Kind: ReprPacked, Type: t} }

// Repr implements Type.
func (t PrimType) Repr() (TypeRepr, bool) {
	switch t.kind {
	case Unknown, Never:
		return TypeRepr{}, false
	case Unit:
		return zst(t), true
	case I1, I8, U8, I16, U16, I32, U32, Isize, Usize, F64, Felt:
		return one(t), true
	case I64, U64:
		return sparse(t, 2), true
	case I128, U128:
		return sparse(t, 3), true
	case U256:
		return sparse(t, 5), true
	default:
		panic(fmt.Sprintf("BUG: unrecognized primitive type kind %d", t.kind))
	}
}

// Repr implements Type. Pointers in either address space fit in one element.
func (t PtrType) Repr() (TypeRepr, bool) { return one(t), true }

// Repr implements Type.
//
// Empty structs are zero-sized, single-field structs are transparent, and
// everything else is packed.
func (t StructType) Repr() (TypeRepr, bool) {
	switch len(t.Fields) {
	case 0:
		return zst(t), true
	case 1:
		return t.Fields[0].Repr()
	default:
		return packed(t), true
	}
}

// Repr implements Type. Mirrors the struct rules: zero-length arrays are
// zero-sized, single-element arrays are transparent, n-ary arrays are packed.
func (t ArrayType) Repr() (TypeRepr, bool) {
	switch t.Len {
	case 0:
		return zst(t), true
	case 1:
		return t.Elem.Repr()
	default:
		return packed(t), true
	}
}

// SizeInBytes implements Type.
func (t PrimType) SizeInBytes() uint32 {
	switch t.kind {
	case Unknown, Unit, Never:
		return 0
	case I1, I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, Isize, Usize:
		return 4
	case I64, U64, F64, Felt:
		return 8
	case I128, U128:
		return 16
	case U256:
		return 32
	default:
		panic(fmt.Sprintf("BUG: unrecognized primitive type kind %d", t.kind))
	}
}

// SizeInBytes implements Type. Pointers are 32 bits.
func (t PtrType) SizeInBytes() uint32 { return 4 }

// SizeInBytes implements Type.
//
// Each non-first field is padded up to its own minimum alignment before
// being placed.
func (t StructType) SizeInBytes() uint32 {
	var size uint32
	for i, f := range t.Fields {
		if i > 0 {
			size += AlignOffset(size, f.MinAlignment())
		}
		size += f.SizeInBytes()
	}
	return size
}

// SizeInBytes implements Type.
//
// All elements past the first are padded to the element alignment, so the
// total is `element_size + padded_element_size * (n - 1)`.
func (t ArrayType) SizeInBytes() uint32 {
	switch t.Len {
	case 0:
		return 0
	case 1:
		return t.Elem.SizeInBytes()
	default:
		elemSize := t.Elem.SizeInBytes()
		padded := AlignUp(elemSize, t.Elem.MinAlignment())
		return elemSize + padded*(t.Len-1)
	}
}

// MinAlignment implements Type.
func (t PrimType) MinAlignment() uint32 {
	switch t.kind {
	case Unknown, Unit, Never:
		return 1
	case I1, I8, U8:
		return 1
	case I16, U16:
		return 4
	case I32, U32, Isize, Usize:
		return 8
	case I64, U64, F64, Felt:
		return 8
	case I128, U128, U256:
		return 32
	default:
		panic(fmt.Sprintf("BUG: unrecognized primitive type kind %d", t.kind))
	}
}

// MinAlignment implements Type. Pointers are element-aligned.
func (t PtrType) MinAlignment() uint32 { return 8 }

// MinAlignment implements Type. Structs take the alignment of their first
// field, or byte alignment if empty.
func (t StructType) MinAlignment() uint32 {
	if len(t.Fields) == 0 {
		return 1
	}
	return t.Fields[0].MinAlignment()
}

// MinAlignment implements Type.
func (t ArrayType) MinAlignment() uint32 { return t.Elem.MinAlignment() }

// AlignedSizeInBytes returns the size of `t` padded such that a pointer with
// the worst possible alignment can be aligned up to the type's minimum
// alignment and still fit the value in the block.
func AlignedSizeInBytes(t Type) uint32 {
	size, align := t.SizeInBytes(), t.MinAlignment()
	if size > ^uint32(0)-align {
		panic("BUG: type cannot meet its minimum alignment requirement due to its size")
	}
	return size + align
}

// SizeInFelts returns the number of field elements needed to hold `t` in memory.
func SizeInFelts(t Type) uint32 {
	bytes := t.SizeInBytes()
	n := bytes / FeltSize
	if bytes%FeltSize > 0 {
		n++
	}
	return n
}

// SizeInWords returns the number of words needed to hold `t` in memory.
func SizeInWords(t Type) uint32 {
	bytes := t.SizeInBytes()
	n := bytes / WordSize
	if bytes%WordSize > 0 {
		n++
	}
	return n
}

// IsLoadable returns true if a value of type `t` can be loaded whole onto the
// operand stack. Values larger than this must be passed by reference, or
// accessed field by field.
func IsLoadable(t Type) bool {
	return SizeInWords(t) <= 4
}

// Bitwidth returns the size in bits of `t`. Intended for integral types;
// i1 is a single bit despite occupying a full byte in memory.
func Bitwidth(t Type) uint32 {
	if p, ok := t.(PrimType); ok && p.kind == I1 {
		return 1
	}
	return t.SizeInBytes() * 8
}
