package codegen

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// operandClass partitions types by the lowering strategy their operations
// use.
type operandClass uint8

const (
	// classU32 covers integers of 32 bits or fewer, and pointers: a single
	// element holding a u32 value.
	classU32 operandClass = iota
	// classFelt covers the native field element and f64.
	classFelt
	// classU64 covers 64-bit integers: two u32 limbs, low limb on top.
	classU64
	// classBool covers i1, using the felt logic operations.
	classBool
	// classWide covers 128- and 256-bit integers.
	classWide
)

func classify(ty types.Type) operandClass {
	if types.IsPointer(ty) {
		return classU32
	}
	p, ok := ty.(types.PrimType)
	if !ok {
		panic(fmt.Sprintf("BUG: no operand class for aggregate type %s", ty))
	}
	switch p.Kind() {
	case types.I1:
		return classBool
	case types.I8, types.U8, types.I16, types.U16, types.I32, types.U32,
		types.Isize, types.Usize:
		return classU32
	case types.Felt, types.F64:
		return classFelt
	case types.I64, types.U64:
		return classU64
	case types.I128, types.U128, types.U256:
		return classWide
	default:
		panic(fmt.Sprintf("BUG: no operand class for type %s", ty))
	}
}

// lowerInstOp emits the operation sequence encoding `inst`, assuming its
// operands are already on the stack. The operand controlling type and the
// overflow attribute select the concrete instruction variant.
//
// Encountering an opcode with no lowering is fatal: reaching it means the
// lowering is incomplete, not that the input was invalid.
func (e *emitter) lowerInstOp(inst hir.Inst) []masm.Op {
	dfg := e.fn.DFG
	op := dfg.InstOpcode(inst)
	overflow := dfg.InstOverflow(inst)
	imm, hasImm := dfg.InstImm(inst)

	ty := dfg.InstType(inst)

	switch op {
	case hir.OpcodeConst:
		return e.lowerConst(imm)
	case hir.OpcodeAdd, hir.OpcodeSub, hir.OpcodeMul, hir.OpcodeDiv, hir.OpcodeMod,
		hir.OpcodeDivMod, hir.OpcodeBand, hir.OpcodeBor, hir.OpcodeBxor,
		hir.OpcodeShl, hir.OpcodeShr, hir.OpcodeRotl, hir.OpcodeRotr,
		hir.OpcodeEq, hir.OpcodeNeq, hir.OpcodeGt, hir.OpcodeGte, hir.OpcodeLt,
		hir.OpcodeLte, hir.OpcodeMin, hir.OpcodeMax, hir.OpcodeExp:
		if ty == nil {
			panic(fmt.Sprintf("BUG: instruction %s has no controlling type", op))
		}
		return e.lowerBinary(op, overflow, ty, imm, hasImm)
	case hir.OpcodeAnd:
		return []masm.Op{{Code: masm.OpAnd}}
	case hir.OpcodeOr:
		return []masm.Op{{Code: masm.OpOr}}
	case hir.OpcodeXor:
		return []masm.Op{{Code: masm.OpXor}}
	case hir.OpcodeNot:
		return []masm.Op{{Code: masm.OpNot}}
	case hir.OpcodeNeg, hir.OpcodeInv, hir.OpcodeIncr, hir.OpcodePow2,
		hir.OpcodeBnot, hir.OpcodePopcnt, hir.OpcodeIsOdd:
		return e.lowerUnary(op, ty)
	case hir.OpcodeZext, hir.OpcodeSext, hir.OpcodeTrunc, hir.OpcodeCast,
		hir.OpcodePtrToInt, hir.OpcodeIntToPtr:
		return e.lowerConvert(op, inst, ty)
	case hir.OpcodeAssert:
		return []masm.Op{{Code: masm.OpAssert}}
	case hir.OpcodeAssertz:
		return []masm.Op{{Code: masm.OpAssertz}}
	case hir.OpcodeAssertEq:
		return []masm.Op{{Code: masm.OpAssertEq}}
	default:
		panic(fmt.Sprintf("no lowering for opcode %s: this indicates an incomplete lowering", op))
	}
}

// lowerConst pushes the immediate according to its type representation.
func (e *emitter) lowerConst(imm hir.Immediate) []masm.Op {
	repr, ok := imm.Type.Repr()
	if !ok {
		panic(fmt.Sprintf("BUG: constant of type %s has no stack representation", imm.Type))
	}
	switch repr.Kind {
	case types.ReprZst:
		return nil
	case types.ReprDefault:
		return []masm.Op{{Code: masm.OpPush, Imm: imm.Bits}}
	case types.ReprSparse:
		if repr.Size() != 2 {
			panic(fmt.Sprintf("no lowering for %d-element constants: this indicates an incomplete lowering", repr.Size()))
		}
		// Low limb nearest the top of the stack.
		return []masm.Op{
			{Code: masm.OpPush, Imm: imm.Bits >> 32},
			{Code: masm.OpPush, Imm: imm.Bits & 0xffffffff},
		}
	default:
		panic(fmt.Sprintf("no lowering for packed constants of type %s", imm.Type))
	}
}

// u32Variant holds the stack and immediate forms of a u32 instruction;
// u32Binary maps (opcode, overflow) to it.
type u32Variant struct {
	op, opImm masm.OpCode
}

var u32Binary = map[hir.Opcode]map[hir.Overflow]u32Variant{
	hir.OpcodeAdd: {
		hir.OverflowChecked:     {masm.OpU32CheckedAdd, masm.OpU32CheckedAddImm},
		hir.OverflowWrapping:    {masm.OpU32WrappingAdd, masm.OpU32WrappingAddImm},
		hir.OverflowOverflowing: {masm.OpU32OverflowingAdd, masm.OpU32OverflowingAddImm},
	},
	hir.OpcodeSub: {
		hir.OverflowChecked:     {masm.OpU32CheckedSub, masm.OpU32CheckedSubImm},
		hir.OverflowWrapping:    {masm.OpU32WrappingSub, masm.OpU32WrappingSubImm},
		hir.OverflowOverflowing: {masm.OpU32OverflowingSub, masm.OpU32OverflowingSubImm},
	},
	hir.OpcodeMul: {
		hir.OverflowChecked:     {masm.OpU32CheckedMul, masm.OpU32CheckedMulImm},
		hir.OverflowWrapping:    {masm.OpU32WrappingMul, masm.OpU32WrappingMulImm},
		hir.OverflowOverflowing: {masm.OpU32OverflowingMul, masm.OpU32OverflowingMulImm},
	},
	hir.OpcodeDiv: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedDiv, masm.OpU32UncheckedDivImm},
		hir.OverflowChecked:   {masm.OpU32CheckedDiv, masm.OpU32CheckedDivImm},
	},
	hir.OpcodeMod: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedMod, masm.OpU32UncheckedModImm},
		hir.OverflowChecked:   {masm.OpU32CheckedMod, masm.OpU32CheckedModImm},
	},
	hir.OpcodeDivMod: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedDivMod, masm.OpU32UncheckedDivModImm},
		hir.OverflowChecked:   {masm.OpU32CheckedDivMod, masm.OpU32CheckedDivModImm},
	},
	hir.OpcodeShl: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedShl, masm.OpU32UncheckedShlImm},
		hir.OverflowChecked:   {masm.OpU32CheckedShl, masm.OpU32CheckedShlImm},
		hir.OverflowWrapping:  {masm.OpU32UncheckedShl, masm.OpU32UncheckedShlImm},
	},
	hir.OpcodeShr: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedShr, masm.OpU32UncheckedShrImm},
		hir.OverflowChecked:   {masm.OpU32CheckedShr, masm.OpU32CheckedShrImm},
		hir.OverflowWrapping:  {masm.OpU32UncheckedShr, masm.OpU32UncheckedShrImm},
	},
	hir.OpcodeRotl: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedRotl, masm.OpU32UncheckedRotlImm},
		hir.OverflowChecked:   {masm.OpU32CheckedRotl, masm.OpU32CheckedRotlImm},
	},
	hir.OpcodeRotr: {
		hir.OverflowUnchecked: {masm.OpU32UncheckedRotr, masm.OpU32UncheckedRotrImm},
		hir.OverflowChecked:   {masm.OpU32CheckedRotr, masm.OpU32CheckedRotrImm},
	},
}

var u32Compare = map[hir.Opcode]u32Variant{
	hir.OpcodeEq:  {masm.OpU32Eq, masm.OpU32EqImm},
	hir.OpcodeNeq: {masm.OpU32Neq, masm.OpU32NeqImm},
	hir.OpcodeGt:  {masm.OpU32CheckedGt, 0},
	hir.OpcodeGte: {masm.OpU32CheckedGte, 0},
	hir.OpcodeLt:  {masm.OpU32CheckedLt, 0},
	hir.OpcodeLte: {masm.OpU32CheckedLte, 0},
	hir.OpcodeMin: {masm.OpU32CheckedMin, 0},
	hir.OpcodeMax: {masm.OpU32CheckedMax, 0},
}

var u32Bitwise = map[hir.Opcode]masm.OpCode{
	hir.OpcodeBand: masm.OpU32And,
	hir.OpcodeBor:  masm.OpU32Or,
	hir.OpcodeBxor: masm.OpU32Xor,
}

var feltBinary = map[hir.Opcode]u32Variant{
	hir.OpcodeAdd: {masm.OpAdd, masm.OpAddImm},
	hir.OpcodeSub: {masm.OpSub, masm.OpSubImm},
	hir.OpcodeMul: {masm.OpMul, masm.OpMulImm},
	hir.OpcodeDiv: {masm.OpDiv, masm.OpDivImm},
	hir.OpcodeExp: {masm.OpExp, masm.OpExpImm},
	hir.OpcodeEq:  {masm.OpEq, masm.OpEqImm},
	hir.OpcodeNeq: {masm.OpNeq, masm.OpNeqImm},
	hir.OpcodeGt:  {masm.OpGt, 0},
	hir.OpcodeGte: {masm.OpGte, 0},
	hir.OpcodeLt:  {masm.OpLt, 0},
	hir.OpcodeLte: {masm.OpLte, 0},
}

func (e *emitter) lowerBinary(op hir.Opcode, overflow hir.Overflow, ty types.Type, imm hir.Immediate, hasImm bool) []masm.Op {
	switch classify(ty) {
	case classU32:
		if code, ok := u32Bitwise[op]; ok {
			if hasImm {
				return []masm.Op{{Code: masm.OpPush, Imm: imm.Bits}, {Code: code}}
			}
			return []masm.Op{{Code: code}}
		}
		if variant, ok := u32Compare[op]; ok {
			if hasImm {
				if variant.opImm != 0 {
					return []masm.Op{{Code: variant.opImm, Imm: imm.Bits}}
				}
				return []masm.Op{{Code: masm.OpPush, Imm: imm.Bits}, {Code: variant.op}}
			}
			return []masm.Op{{Code: variant.op}}
		}
		variants, ok := u32Binary[op]
		if !ok {
			panic(fmt.Sprintf("no u32 lowering for opcode %s: this indicates an incomplete lowering", op))
		}
		variant, ok := variants[overflow]
		if !ok {
			panic(fmt.Sprintf("no u32 lowering for opcode %s with %s overflow", op, overflow))
		}
		if hasImm {
			return []masm.Op{{Code: variant.opImm, Imm: imm.Bits}}
		}
		return []masm.Op{{Code: variant.op}}

	case classFelt:
		variant, ok := feltBinary[op]
		if !ok {
			panic(fmt.Sprintf("no felt lowering for opcode %s: this indicates an incomplete lowering", op))
		}
		if hasImm {
			if variant.opImm != 0 {
				return []masm.Op{{Code: variant.opImm, Imm: imm.Bits}}
			}
			return []masm.Op{{Code: masm.OpPush, Imm: imm.Bits}, {Code: variant.op}}
		}
		return []masm.Op{{Code: variant.op}}

	case classBool:
		switch op {
		case hir.OpcodeBand:
			return []masm.Op{{Code: masm.OpAnd}}
		case hir.OpcodeBor:
			return []masm.Op{{Code: masm.OpOr}}
		case hir.OpcodeBxor:
			return []masm.Op{{Code: masm.OpXor}}
		case hir.OpcodeEq:
			return []masm.Op{{Code: masm.OpEq}}
		case hir.OpcodeNeq:
			return []masm.Op{{Code: masm.OpNeq}}
		default:
			panic(fmt.Sprintf("no boolean lowering for opcode %s", op))
		}

	case classU64:
		return e.lowerU64Binary(op, overflow, imm, hasImm)

	default:
		panic(fmt.Sprintf("no lowering for %s over type %s: this indicates an incomplete lowering", op, ty))
	}
}

func (e *emitter) lowerUnary(op hir.Opcode, ty types.Type) []masm.Op {
	switch classify(ty) {
	case classFelt:
		switch op {
		case hir.OpcodeNeg:
			return []masm.Op{{Code: masm.OpNeg}}
		case hir.OpcodeInv:
			return []masm.Op{{Code: masm.OpInv}}
		case hir.OpcodeIncr:
			return []masm.Op{{Code: masm.OpIncr}}
		case hir.OpcodePow2:
			return []masm.Op{{Code: masm.OpPow2}}
		case hir.OpcodeIsOdd:
			return []masm.Op{{Code: masm.OpIsOdd}}
		}
	case classU32:
		switch op {
		case hir.OpcodeBnot:
			return []masm.Op{{Code: masm.OpU32Not}}
		case hir.OpcodePopcnt:
			return []masm.Op{{Code: masm.OpU32CheckedPopcnt}}
		case hir.OpcodeIsOdd:
			return []masm.Op{{Code: masm.OpIsOdd}}
		case hir.OpcodeNeg:
			// 0 - x, wrapping.
			return []masm.Op{
				{Code: masm.OpPush, Imm: 0},
				{Code: masm.OpSwap, Imm: 1},
				{Code: masm.OpU32WrappingSub},
			}
		case hir.OpcodeIncr:
			return []masm.Op{{Code: masm.OpU32WrappingAddImm, Imm: 1}}
		}
	}
	panic(fmt.Sprintf("no unary lowering for %s over type %s: this indicates an incomplete lowering", op, ty))
}

// lowerConvert handles the width and representation conversions.
func (e *emitter) lowerConvert(op hir.Opcode, inst hir.Inst, resultTy types.Type) []masm.Op {
	dfg := e.fn.DFG
	srcTy := dfg.ValueType(dfg.InstArgs(inst)[0])
	src, dst := classify(srcTy), classify(resultTy)

	switch op {
	case hir.OpcodeCast, hir.OpcodePtrToInt, hir.OpcodeIntToPtr:
		if src == dst {
			return nil
		}
	case hir.OpcodeZext:
		switch {
		case src == classU32 && dst == classU64, src == classBool && dst == classU64:
			// Append a zero high limb beneath the low limb.
			return []masm.Op{
				{Code: masm.OpPush, Imm: 0},
				{Code: masm.OpSwap, Imm: 1},
			}
		case (src == classBool || src == classU32) && (dst == classU32 || dst == classFelt):
			return nil
		}
	case hir.OpcodeSext:
		if src == classU32 && dst == classU64 {
			// Materialize the sign-extension limb from the sign bit.
			return []masm.Op{
				{Code: masm.OpDup, Imm: 0},
				{Code: masm.OpPush, Imm: 0x80000000},
				{Code: masm.OpU32CheckedGte},
				{
					Code: masm.OpIf,
					Then: []masm.Op{{Code: masm.OpPush, Imm: 0xffffffff}},
					Else: []masm.Op{{Code: masm.OpPush, Imm: 0}},
				},
				{Code: masm.OpSwap, Imm: 1},
			}
		}
		if src == dst {
			return nil
		}
	case hir.OpcodeTrunc:
		switch {
		case src == classU64 && (dst == classU32 || dst == classBool):
			// Drop the high limb, then mask to the result width.
			ops := []masm.Op{
				{Code: masm.OpSwap, Imm: 1},
				{Code: masm.OpDrop},
			}
			return append(ops, truncMask(resultTy)...)
		case src == classU32 && (dst == classU32 || dst == classBool):
			return truncMask(resultTy)
		case src == classFelt && dst == classU32:
			return []masm.Op{{Code: masm.OpU32Cast}}
		}
	}
	panic(fmt.Sprintf("no conversion lowering from %s to %s via %s: this indicates an incomplete lowering",
		srcTy, resultTy, op))
}

// truncMask masks the top of the stack down to the bit width of `ty`, for
// widths below 32 bits.
func truncMask(ty types.Type) []masm.Op {
	width := types.Bitwidth(ty)
	if width >= 32 {
		return nil
	}
	mask := uint64(1)<<width - 1
	return []masm.Op{
		{Code: masm.OpPush, Imm: mask},
		{Code: masm.OpU32And},
	}
}
