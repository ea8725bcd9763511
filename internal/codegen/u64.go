package codegen

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
)

// 64-bit integers are represented as two u32 limbs, with the low limb
// nearest the top of the stack. A binary operation therefore starts from
// the stack (top first): [y_lo, y_hi, x_lo, x_hi].

// lowerU64Binary emits the limb sequences for 64-bit arithmetic.
func (e *emitter) lowerU64Binary(op hir.Opcode, overflow hir.Overflow, imm hir.Immediate, hasImm bool) []masm.Op {
	var ops []masm.Op
	if hasImm {
		// Materialize the immediate as a second operand.
		ops = append(ops,
			masm.Op{Code: masm.OpPush, Imm: imm.Bits >> 32},
			masm.Op{Code: masm.OpPush, Imm: imm.Bits & 0xffffffff},
		)
	}
	switch op {
	case hir.OpcodeAdd:
		switch overflow {
		case hir.OverflowWrapping, hir.OverflowUnchecked:
			return append(ops, u64WrappingAdd...)
		case hir.OverflowChecked:
			return append(ops, u64CheckedAdd...)
		case hir.OverflowOverflowing:
			return append(ops, u64OverflowingAdd...)
		}
	case hir.OpcodeSub:
		switch overflow {
		case hir.OverflowWrapping, hir.OverflowUnchecked:
			return append(ops, u64WrappingSub...)
		case hir.OverflowChecked:
			return append(ops, u64CheckedSub...)
		}
	case hir.OpcodeMul:
		switch overflow {
		case hir.OverflowWrapping, hir.OverflowUnchecked:
			return append(ops, u64WrappingMul...)
		}
	case hir.OpcodeEq:
		return append(ops, u64Eq...)
	case hir.OpcodeNeq:
		return append(ops, u64Neq...)
	case hir.OpcodeBand:
		return append(ops, u64Bitwise(masm.OpU32And)...)
	case hir.OpcodeBor:
		return append(ops, u64Bitwise(masm.OpU32Or)...)
	case hir.OpcodeBxor:
		return append(ops, u64Bitwise(masm.OpU32Xor)...)
	}
	panic(fmt.Sprintf("no u64 lowering for opcode %s with %s overflow: this indicates an incomplete lowering",
		op, overflow))
}

// u64WrappingAdd: [y_lo, y_hi, x_lo, x_hi] -> [lo, hi], where
// lo = (x_lo + y_lo) mod 2^32 and hi absorbs the carry.
var u64WrappingAdd = []masm.Op{
	{Code: masm.OpMovup, Imm: 3},       // [x_hi, y_lo, y_hi, x_lo]
	{Code: masm.OpMovup, Imm: 2},       // [y_hi, x_hi, y_lo, x_lo]
	{Code: masm.OpU32WrappingAdd},      // [hi', y_lo, x_lo]
	{Code: masm.OpMovdn, Imm: 2},       // [y_lo, x_lo, hi']
	{Code: masm.OpU32OverflowingAdd},   // [carry, lo, hi']
	{Code: masm.OpMovup, Imm: 2},       // [hi', carry, lo]
	{Code: masm.OpU32WrappingAdd},      // [hi, lo]
	{Code: masm.OpSwap, Imm: 1},        // [lo, hi]
}

// u64CheckedAdd asserts that neither limb addition overflows.
var u64CheckedAdd = []masm.Op{
	{Code: masm.OpMovup, Imm: 3},
	{Code: masm.OpMovup, Imm: 2},
	{Code: masm.OpU32OverflowingAdd}, // [carry_hi, hi', y_lo, x_lo]
	{Code: masm.OpAssertz},           // overflow of the high limbs is fatal
	{Code: masm.OpMovdn, Imm: 2},     // [y_lo, x_lo, hi']
	{Code: masm.OpU32OverflowingAdd}, // [carry, lo, hi']
	{Code: masm.OpMovup, Imm: 2},     // [hi', carry, lo]
	{Code: masm.OpU32OverflowingAdd}, // [carry2, hi, lo]
	{Code: masm.OpAssertz},
	{Code: masm.OpSwap, Imm: 1}, // [lo, hi]
}

// u64OverflowingAdd leaves [flag, lo, hi] with the carry-out flag on top.
var u64OverflowingAdd = []masm.Op{
	{Code: masm.OpMovup, Imm: 3},
	{Code: masm.OpMovup, Imm: 2},
	{Code: masm.OpU32OverflowingAdd}, // [c_hi, hi', y_lo, x_lo]
	{Code: masm.OpMovdn, Imm: 3},     // [hi', y_lo, x_lo, c_hi]
	{Code: masm.OpMovdn, Imm: 2},     // [y_lo, x_lo, hi', c_hi]
	{Code: masm.OpU32OverflowingAdd}, // [carry, lo, hi', c_hi]
	{Code: masm.OpMovup, Imm: 2},     // [hi', carry, lo, c_hi]
	{Code: masm.OpU32OverflowingAdd}, // [c2, hi, lo, c_hi]
	{Code: masm.OpMovup, Imm: 3},     // [c_hi, c2, hi, lo]
	{Code: masm.OpOr},                // [flag, hi, lo]
	{Code: masm.OpMovdn, Imm: 2},     // [hi, lo, flag]
	{Code: masm.OpSwap, Imm: 1},      // [lo, hi, flag]
	{Code: masm.OpMovup, Imm: 2},     // [flag, lo, hi]
}

// u64WrappingSub: x - y over two limbs with borrow propagation. The sub
// operations pop the subtrahend from the top of the stack.
var u64WrappingSub = []masm.Op{
	{Code: masm.OpMovup, Imm: 3},     // [x_hi, y_lo, y_hi, x_lo]
	{Code: masm.OpMovup, Imm: 2},     // [y_hi, x_hi, y_lo, x_lo]
	{Code: masm.OpU32WrappingSub},    // [hi', y_lo, x_lo], hi' = x_hi - y_hi
	{Code: masm.OpMovdn, Imm: 2},     // [y_lo, x_lo, hi']
	{Code: masm.OpU32OverflowingSub}, // [borrow, lo, hi']
	{Code: masm.OpMovup, Imm: 2},     // [hi', borrow, lo]
	{Code: masm.OpSwap, Imm: 1},      // [borrow, hi', lo]
	{Code: masm.OpU32WrappingSub},    // [hi, lo]
	{Code: masm.OpSwap, Imm: 1},      // [lo, hi]
}

// u64CheckedSub asserts that the subtraction does not underflow.
var u64CheckedSub = []masm.Op{
	{Code: masm.OpMovup, Imm: 3},
	{Code: masm.OpMovup, Imm: 2},
	{Code: masm.OpU32OverflowingSub}, // [borrow_hi, hi', y_lo, x_lo]
	{Code: masm.OpAssertz},
	{Code: masm.OpMovdn, Imm: 2},     // [y_lo, x_lo, hi']
	{Code: masm.OpU32OverflowingSub}, // [borrow, lo, hi']
	{Code: masm.OpMovup, Imm: 2},     // [hi', borrow, lo]
	{Code: masm.OpSwap, Imm: 1},      // [borrow, hi', lo]
	{Code: masm.OpU32OverflowingSub}, // [b2, hi, lo]
	{Code: masm.OpAssertz},
	{Code: masm.OpSwap, Imm: 1}, // [lo, hi]
}

// u64WrappingMul computes (x * y) mod 2^64 from three 32x32 partial
// products: lo*lo contributes both limbs; lo*hi and hi*lo contribute to the
// high limb only.
var u64WrappingMul = []masm.Op{
	// [y_lo, y_hi, x_lo, x_hi]
	{Code: masm.OpDup, Imm: 0},       // [y_lo, y_lo, y_hi, x_lo, x_hi]
	{Code: masm.OpDup, Imm: 3},       // [x_lo, y_lo, y_lo, y_hi, x_lo, x_hi]
	{Code: masm.OpU32OverflowingMul}, // [p_hi, p_lo, y_lo, y_hi, x_lo, x_hi]
	{Code: masm.OpMovup, Imm: 3},     // [y_hi, p_hi, p_lo, y_lo, x_lo, x_hi]
	{Code: masm.OpMovup, Imm: 4},     // [x_lo, y_hi, p_hi, p_lo, y_lo, x_hi]
	{Code: masm.OpU32WrappingMul},    // [x_lo*y_hi, p_hi, p_lo, y_lo, x_hi]
	{Code: masm.OpU32WrappingAdd},    // [acc, p_lo, y_lo, x_hi]
	{Code: masm.OpMovup, Imm: 2},     // [y_lo, acc, p_lo, x_hi]
	{Code: masm.OpMovup, Imm: 3},     // [x_hi, y_lo, acc, p_lo]
	{Code: masm.OpU32WrappingMul},    // [x_hi*y_lo, acc, p_lo]
	{Code: masm.OpU32WrappingAdd},    // [hi, lo]
	{Code: masm.OpSwap, Imm: 1},      // [lo, hi]
}

// u64Eq: limbs are equal pairwise.
var u64Eq = []masm.Op{
	// [y_lo, y_hi, x_lo, x_hi]
	{Code: masm.OpMovup, Imm: 2}, // [x_lo, y_lo, y_hi, x_hi]
	{Code: masm.OpU32Eq},         // [lo_eq, y_hi, x_hi]
	{Code: masm.OpMovdn, Imm: 2}, // [y_hi, x_hi, lo_eq]
	{Code: masm.OpU32Eq},         // [hi_eq, lo_eq]
	{Code: masm.OpAnd},           // [eq]
}

// u64Neq is the negation of u64Eq.
var u64Neq = append(append([]masm.Op{}, u64Eq...), masm.Op{Code: masm.OpNot})

// u64Bitwise applies `code` to the limbs pairwise.
func u64Bitwise(code masm.OpCode) []masm.Op {
	return []masm.Op{
		// [y_lo, y_hi, x_lo, x_hi]
		{Code: masm.OpMovup, Imm: 2}, // [x_lo, y_lo, y_hi, x_hi]
		{Code: code},                 // [lo, y_hi, x_hi]
		{Code: masm.OpMovdn, Imm: 2}, // [y_hi, x_hi, lo]
		{Code: code},                 // [hi, lo]
		{Code: masm.OpSwap, Imm: 1},  // [lo, hi]
	}
}
