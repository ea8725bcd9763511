// Package types defines the closed set of types used by the HIR, along with
// their in-memory layout and their representation on the Miden VM operand stack.
//
// Layout is always byte-addressable from the IR's point of view; the operand
// stack representation is derived separately, since the VM works in terms of
// field elements and words rather than bytes.
package types

import (
	"fmt"
	"strings"
)

const (
	// FeltSize is the size in bytes of a field element.
	FeltSize = 8
	// WordSize is the size in bytes of a word, i.e. four field elements.
	WordSize = 32
)

// Type is the closed set of HIR types.
//
// Primitive types are represented by the singleton values below; pointer and
// aggregate types are constructed via Ptr, NativePtr, StructOf, and ArrayOf.
type Type interface {
	fmt.Stringer

	// SizeInBytes returns the natural in-memory width of this type,
	// without trailing alignment padding.
	SizeInBytes() uint32
	// MinAlignment returns the minimum alignment in bytes of this type.
	MinAlignment() uint32
	// Repr returns the operand stack representation of this type, or
	// ok=false if the type has no stack representation (Unknown, Never).
	Repr() (TypeRepr, bool)

	isType()
}

// TypeKind discriminates the primitive types.
type TypeKind uint8

const (
	Unknown TypeKind = iota
	Unit
	Never
	I1
	I8
	U8
	I16
	U16
	I32
	U32
	I64
	U64
	I128
	U128
	U256
	Isize
	Usize
	F64
	Felt
)

// PrimType is a primitive (non-parameterized) type.
type PrimType struct {
	kind TypeKind
}

func (PrimType) isType() {}

// String implements fmt.Stringer.
func (t PrimType) String() string {
	switch t.kind {
	case Unknown:
		return "?"
	case Unit:
		return "()"
	case Never:
		return "!"
	case I1:
		return "i1"
	case I8:
		return "i8"
	case U8:
		return "u8"
	case I16:
		return "i16"
	case U16:
		return "u16"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case I64:
		return "i64"
	case U64:
		return "u64"
	case I128:
		return "i128"
	case U128:
		return "u128"
	case U256:
		return "u256"
	case Isize:
		return "isize"
	case Usize:
		return "usize"
	case F64:
		return "f64"
	case Felt:
		return "felt"
	default:
		panic(fmt.Sprintf("BUG: unrecognized primitive type kind %d", t.kind))
	}
}

// Kind returns the discriminant of this primitive type.
func (t PrimType) Kind() TypeKind { return t.kind }

// Singleton values for each primitive type.
var (
	UnknownType Type = PrimType{Unknown}
	UnitType    Type = PrimType{Unit}
	NeverType   Type = PrimType{Never}
	I1Type      Type = PrimType{I1}
	I8Type      Type = PrimType{I8}
	U8Type      Type = PrimType{U8}
	I16Type     Type = PrimType{I16}
	U16Type     Type = PrimType{U16}
	I32Type     Type = PrimType{I32}
	U32Type     Type = PrimType{U32}
	I64Type     Type = PrimType{I64}
	U64Type     Type = PrimType{U64}
	I128Type    Type = PrimType{I128}
	U128Type    Type = PrimType{U128}
	U256Type    Type = PrimType{U256}
	IsizeType   Type = PrimType{Isize}
	UsizeType   Type = PrimType{Usize}
	F64Type     Type = PrimType{F64}
	FeltType    Type = PrimType{Felt}
)

// PtrType is a pointer in the byte-addressable address space exposed by the IR.
type PtrType struct {
	// Elem is the pointee type.
	Elem Type
	// Native is true for pointers in the VM's element-addressable space.
	Native bool
}

func (PtrType) isType() {}

func (t PtrType) String() string {
	if t.Native {
		return fmt.Sprintf("&%s", t.Elem)
	}
	return fmt.Sprintf("*%s", t.Elem)
}

// Ptr returns a pointer type with pointee `elem`.
func Ptr(elem Type) Type { return PtrType{Elem: elem} }

// NativePtr returns a native (element-addressable) pointer type with pointee `elem`.
func NativePtr(elem Type) Type { return PtrType{Elem: elem, Native: true} }

// StructType is a heterogeneous aggregate laid out field by field, with
// alignment padding between fields.
type StructType struct {
	Fields []Type
}

func (StructType) isType() {}

func (t StructType) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, f := range t.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	sb.WriteString("}")
	return sb.String()
}

// StructOf returns a struct type with the given fields.
func StructOf(fields ...Type) Type { return StructType{Fields: fields} }

// ArrayType is a homogeneous aggregate of Len elements.
type ArrayType struct {
	Elem Type
	Len  uint32
}

func (ArrayType) isType() {}

func (t ArrayType) String() string {
	return fmt.Sprintf("[%s; %d]", t.Elem, t.Len)
}

// ArrayOf returns an array type of `n` elements of type `elem`.
func ArrayOf(elem Type, n uint32) Type { return ArrayType{Elem: elem, Len: n} }

// IsInteger returns true if `t` is an integer type, signed or unsigned.
func IsInteger(t Type) bool {
	p, ok := t.(PrimType)
	if !ok {
		return false
	}
	switch p.kind {
	case I1, I8, U8, I16, U16, I32, U32, I64, U64, I128, U128, U256, Isize, Usize:
		return true
	}
	return false
}

// IsSignedInteger returns true if `t` is a signed integer type.
func IsSignedInteger(t Type) bool {
	p, ok := t.(PrimType)
	if !ok {
		return false
	}
	switch p.kind {
	case I8, I16, I32, I64, I128, Isize:
		return true
	}
	return false
}

// IsPointer returns true if `t` is a pointer type of either address space.
func IsPointer(t Type) bool {
	_, ok := t.(PtrType)
	return ok
}

// IsZeroSized returns true if `t` occupies no memory.
func IsZeroSized(t Type) bool {
	return t.SizeInBytes() == 0
}

// Equal returns true if `a` and `b` are structurally the same type.
func Equal(a, b Type) bool {
	switch at := a.(type) {
	case PrimType:
		bt, ok := b.(PrimType)
		return ok && at.kind == bt.kind
	case PtrType:
		bt, ok := b.(PtrType)
		return ok && at.Native == bt.Native && Equal(at.Elem, bt.Elem)
	case StructType:
		bt, ok := b.(StructType)
		if !ok || len(at.Fields) != len(bt.Fields) {
			return false
		}
		for i := range at.Fields {
			if !Equal(at.Fields[i], bt.Fields[i]) {
				return false
			}
		}
		return true
	case ArrayType:
		bt, ok := b.(ArrayType)
		return ok && at.Len == bt.Len && Equal(at.Elem, bt.Elem)
	default:
		panic(fmt.Sprintf("BUG: unrecognized type %T", a))
	}
}
