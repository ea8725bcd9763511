package hir

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/types"
)

// Immediate is a constant operand attached directly to an instruction.
//
// The raw bits are stored two's-complement in a 64-bit container; immediates
// wider than 64 bits are materialized via multiple instructions by the
// frontend, so the core never needs to carry them here.
type Immediate struct {
	Type types.Type
	Bits uint64
}

// Imm returns an immediate of type `ty` holding `bits`.
func Imm(ty types.Type, bits uint64) Immediate {
	return Immediate{Type: ty, Bits: bits}
}

// IsZero returns true if the immediate's bits are all zero.
func (imm Immediate) IsZero() bool { return imm.Bits == 0 }

// AsU32 returns the immediate as a u32, panicking if it does not fit.
// Reaching the panic indicates an incomplete lowering.
func (imm Immediate) AsU32() uint32 {
	if imm.Bits > 0xffff_ffff {
		panic(fmt.Sprintf("BUG: immediate %d does not fit in u32", imm.Bits))
	}
	return uint32(imm.Bits)
}

// AsI64 returns the immediate as an int64: signed integer types are
// sign-extended from their bitwidth, all other types are zero-extended.
func (imm Immediate) AsI64() int64 {
	width := types.Bitwidth(imm.Type)
	if !types.IsSignedInteger(imm.Type) || width == 0 || width >= 64 {
		return int64(imm.Bits)
	}
	shift := 64 - width
	return int64(imm.Bits<<shift) >> shift
}

// String implements fmt.Stringer.
func (imm Immediate) String() string {
	if types.IsSignedInteger(imm.Type) {
		return fmt.Sprintf("%d", imm.AsI64())
	}
	return fmt.Sprintf("%d", imm.Bits)
}
