// Package masm models Miden Assembly: modules, procedures, the closed
// instruction set, and the operand stack abstraction used by the emulator
// (the code generator does not track the stack; it works through locals).
// Constructed modules can be pretty-printed to .masm text or
// handed, in-memory, to the external assembler.
package masm

import (
	"fmt"
	"io"
	"strings"
)

// OpCode enumerates the MASM instruction set.
type OpCode uint16

const (
	opInvalid OpCode = iota

	// Stack manipulation

	OpPadw
	OpPush
	OpPushw
	OpDrop
	OpDropw
	OpDup
	OpDupw
	OpSwap
	OpSwapw
	OpMovup
	OpMovupw
	OpMovdn
	OpMovdnw
	OpCswap
	OpCswapw
	OpCdrop
	OpCdropw

	// Assertions

	OpAssert
	OpAssertz
	OpAssertEq
	OpAssertEqw

	// Locals and memory

	OpLocaddr
	OpLocLoad
	OpLocLoadw
	OpLocStore
	OpLocStorew
	OpMemLoad
	OpMemLoadImm
	OpMemLoadw
	OpMemLoadwImm
	OpMemStore
	OpMemStoreImm
	OpMemStorew
	OpMemStorewImm

	// Field element arithmetic and logic

	OpAdd
	OpAddImm
	OpSub
	OpSubImm
	OpMul
	OpMulImm
	OpDiv
	OpDivImm
	OpNeg
	OpInv
	OpIncr
	OpPow2
	OpExp
	OpExpImm
	OpNot
	OpAnd
	OpOr
	OpXor
	OpEq
	OpEqImm
	OpNeq
	OpNeqImm
	OpGt
	OpGte
	OpLt
	OpLte
	OpIsOdd
	OpEqw

	// u32 conversions and tests

	OpU32Test
	OpU32Testw
	OpU32Assert
	OpU32Assert2
	OpU32Assertw
	OpU32Cast
	OpU32Split

	// u32 arithmetic, in checked/wrapping/overflowing variants

	OpU32CheckedAdd
	OpU32CheckedAddImm
	OpU32WrappingAdd
	OpU32WrappingAddImm
	OpU32OverflowingAdd
	OpU32OverflowingAddImm
	OpU32CheckedSub
	OpU32CheckedSubImm
	OpU32WrappingSub
	OpU32WrappingSubImm
	OpU32OverflowingSub
	OpU32OverflowingSubImm
	OpU32CheckedMul
	OpU32CheckedMulImm
	OpU32WrappingMul
	OpU32WrappingMulImm
	OpU32OverflowingMul
	OpU32OverflowingMulImm
	OpU32CheckedDiv
	OpU32CheckedDivImm
	OpU32UncheckedDiv
	OpU32UncheckedDivImm
	OpU32CheckedMod
	OpU32CheckedModImm
	OpU32UncheckedMod
	OpU32UncheckedModImm
	OpU32CheckedDivMod
	OpU32CheckedDivModImm
	OpU32UncheckedDivMod
	OpU32UncheckedDivModImm

	// u32 bitwise and shifts

	OpU32And
	OpU32Or
	OpU32Xor
	OpU32Not
	OpU32CheckedShl
	OpU32CheckedShlImm
	OpU32UncheckedShl
	OpU32UncheckedShlImm
	OpU32CheckedShr
	OpU32CheckedShrImm
	OpU32UncheckedShr
	OpU32UncheckedShrImm
	OpU32CheckedRotl
	OpU32CheckedRotlImm
	OpU32UncheckedRotl
	OpU32UncheckedRotlImm
	OpU32CheckedRotr
	OpU32CheckedRotrImm
	OpU32UncheckedRotr
	OpU32UncheckedRotrImm
	OpU32CheckedPopcnt
	OpU32UncheckedPopcnt

	// u32 comparisons

	OpU32Eq
	OpU32EqImm
	OpU32Neq
	OpU32NeqImm
	OpU32CheckedGt
	OpU32UncheckedGt
	OpU32CheckedGte
	OpU32UncheckedGte
	OpU32CheckedLt
	OpU32UncheckedLt
	OpU32CheckedLte
	OpU32UncheckedLte
	OpU32CheckedMin
	OpU32UncheckedMin
	OpU32CheckedMax
	OpU32UncheckedMax

	// Control flow

	OpIf
	OpWhile
	OpRepeat
	OpExec
	OpSyscall
	OpCall

	// Misc

	OpClk
	OpSdepth
	OpCaller
	OpNop
)

// Op is a single MASM operation. Control flow operations carry nested
// operation lists; everything else is a leaf.
type Op struct {
	Code OpCode
	// Imm carries the immediate payload: a pushed literal, a memory
	// address, a stack index, or a repeat count, depending on Code.
	Imm uint64
	// Word carries the payload of pushw.
	Word [4]uint64
	// Target is the callee of exec/syscall/call.
	Target ProcedurePath
	// Then/Else are the arms of if.true. Else may be empty.
	Then []Op
	Else []Op
	// Body is the loop body of while.true and repeat.n.
	Body []Op
}

// leafNames covers every operation whose textual form is fixed.
var leafNames = map[OpCode]string{
	OpPadw:       "padw",
	OpDrop:       "drop",
	OpDropw:      "dropw",
	OpCswap:      "cswap",
	OpCswapw:     "cswapw",
	OpCdrop:      "cdrop",
	OpCdropw:     "cdropw",
	OpAssert:     "assert",
	OpAssertz:    "assertz",
	OpAssertEq:   "assert_eq",
	OpAssertEqw:  "assert_eqw",
	OpMemLoad:    "mem_load",
	OpMemLoadw:   "mem_loadw",
	OpMemStore:   "mem_store",
	OpMemStorew:  "mem_storew",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDiv:        "div",
	OpNeg:        "neg",
	OpInv:        "inv",
	OpIncr:       "incr",
	OpPow2:       "pow2",
	OpExp:        "exp.u64",
	OpNot:        "not",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpEq:         "eq",
	OpNeq:        "neq",
	OpGt:         "gt",
	OpGte:        "gte",
	OpLt:         "lt",
	OpLte:        "lte",
	OpIsOdd:      "is_odd",
	OpEqw:        "eqw",
	OpU32Test:    "u32.test",
	OpU32Testw:   "u32.testw",
	OpU32Assert:  "u32.assert",
	OpU32Assert2: "u32.assert2",
	OpU32Assertw: "u32.assertw",
	OpU32Cast:    "u32.cast",
	OpU32Split:   "u32.split",

	OpU32CheckedAdd:        "u32.checked.add",
	OpU32WrappingAdd:       "u32.wrapping.add",
	OpU32OverflowingAdd:    "u32.overflowing.add",
	OpU32CheckedSub:        "u32.checked.sub",
	OpU32WrappingSub:       "u32.wrapping.sub",
	OpU32OverflowingSub:    "u32.overflowing.sub",
	OpU32CheckedMul:        "u32.checked.mul",
	OpU32WrappingMul:       "u32.wrapping.mul",
	OpU32OverflowingMul:    "u32.overflowing.mul",
	OpU32CheckedDiv:        "u32.checked.div",
	OpU32UncheckedDiv:      "u32.unchecked.div",
	OpU32CheckedMod:        "u32.checked.mod",
	OpU32UncheckedMod:      "u32.unchecked.mod",
	OpU32CheckedDivMod:     "u32.checked.divmod",
	OpU32UncheckedDivMod:   "u32.unchecked.divmod",
	OpU32And:               "u32.and",
	OpU32Or:                "u32.or",
	OpU32Xor:               "u32.xor",
	OpU32Not:               "u32.not",
	OpU32CheckedShl:        "u32.checked.shl",
	OpU32UncheckedShl:      "u32.unchecked.shl",
	OpU32CheckedShr:        "u32.checked.shr",
	OpU32UncheckedShr:      "u32.unchecked.shr",
	OpU32CheckedRotl:       "u32.checked.rotl",
	OpU32UncheckedRotl:     "u32.unchecked.rotl",
	OpU32CheckedRotr:       "u32.checked.rotr",
	OpU32UncheckedRotr:     "u32.unchecked.rotr",
	OpU32CheckedPopcnt:     "u32.checked.popcnt",
	OpU32UncheckedPopcnt:   "u32.unchecked.popcnt",
	OpU32Eq:                "u32.eq",
	OpU32Neq:               "u32.neq",
	OpU32CheckedGt:         "u32.checked.gt",
	OpU32UncheckedGt:       "u32.unchecked.gt",
	OpU32CheckedGte:        "u32.checked.gte",
	OpU32UncheckedGte:      "u32.unchecked.gte",
	OpU32CheckedLt:         "u32.checked.lt",
	OpU32UncheckedLt:       "u32.unchecked.lt",
	OpU32CheckedLte:        "u32.checked.lte",
	OpU32UncheckedLte:      "u32.unchecked.lte",
	OpU32CheckedMin:        "u32.checked.min",
	OpU32UncheckedMin:      "u32.unchecked.min",
	OpU32CheckedMax:        "u32.checked.max",
	OpU32UncheckedMax:      "u32.unchecked.max",

	OpClk:    "clk",
	OpSdepth: "sdepth",
	OpCaller: "caller",
	OpNop:    "nop",
}

// idxNames covers operations rendered as `name.N` with a decimal index.
var idxNames = map[OpCode]string{
	OpDup:       "dup",
	OpDupw:      "dupw",
	OpSwap:      "swap",
	OpSwapw:     "swapw",
	OpMovup:     "movup",
	OpMovupw:    "movupw",
	OpMovdn:     "movdn",
	OpMovdnw:    "movdnw",
	OpLocaddr:   "locaddr",
	OpLocLoad:   "loc_load",
	OpLocLoadw:  "loc_loadw",
	OpLocStore:  "loc_store",
	OpLocStorew: "loc_storew",

	OpAddImm: "add",
	OpSubImm: "sub",
	OpMulImm: "mul",
	OpDivImm: "div",
	OpExpImm: "exp",
	OpEqImm:  "eq",
	OpNeqImm: "neq",

	OpU32CheckedAddImm:      "u32.checked.add",
	OpU32WrappingAddImm:     "u32.wrapping.add",
	OpU32OverflowingAddImm:  "u32.overflowing.add",
	OpU32CheckedSubImm:      "u32.checked.sub",
	OpU32WrappingSubImm:     "u32.wrapping.sub",
	OpU32OverflowingSubImm:  "u32.overflowing.sub",
	OpU32CheckedMulImm:      "u32.checked.mul",
	OpU32WrappingMulImm:     "u32.wrapping.mul",
	OpU32OverflowingMulImm:  "u32.overflowing.mul",
	OpU32CheckedDivImm:      "u32.checked.div",
	OpU32UncheckedDivImm:    "u32.unchecked.div",
	OpU32CheckedModImm:      "u32.checked.mod",
	OpU32UncheckedModImm:    "u32.unchecked.mod",
	OpU32CheckedDivModImm:   "u32.checked.divmod",
	OpU32UncheckedDivModImm: "u32.unchecked.divmod",
	OpU32CheckedShlImm:      "u32.checked.shl",
	OpU32UncheckedShlImm:    "u32.unchecked.shl",
	OpU32CheckedShrImm:      "u32.checked.shr",
	OpU32UncheckedShrImm:    "u32.unchecked.shr",
	OpU32CheckedRotlImm:     "u32.checked.rotl",
	OpU32UncheckedRotlImm:   "u32.unchecked.rotl",
	OpU32CheckedRotrImm:     "u32.checked.rotr",
	OpU32UncheckedRotrImm:   "u32.unchecked.rotr",
	OpU32EqImm:              "u32.eq",
	OpU32NeqImm:             "u32.neq",
}

// hexNames covers memory operations rendered as `name.0xHEX`.
var hexNames = map[OpCode]string{
	OpMemLoadImm:   "mem_load",
	OpMemLoadwImm:  "mem_loadw",
	OpMemStoreImm:  "mem_store",
	OpMemStorewImm: "mem_storew",
}

// WriteTo renders the operation at the given indentation depth, rendering
// call targets by their fully-qualified name.
func (op *Op) WriteTo(w io.Writer, indent int) error {
	return op.writeResolved(w, indent, func(p ProcedurePath) string { return p.String() })
}

// writeResolved renders the operation, resolving call targets through
// `resolve` so that a module writer can substitute local names and import
// aliases.
func (op *Op) writeResolved(w io.Writer, indent int, resolve func(ProcedurePath) string) error {
	pad := strings.Repeat("    ", indent)
	if name, ok := leafNames[op.Code]; ok {
		_, err := fmt.Fprintf(w, "%s%s\n", pad, name)
		return err
	}
	if name, ok := idxNames[op.Code]; ok {
		_, err := fmt.Fprintf(w, "%s%s.%d\n", pad, name, op.Imm)
		return err
	}
	if name, ok := hexNames[op.Code]; ok {
		_, err := fmt.Fprintf(w, "%s%s.%#x\n", pad, name, op.Imm)
		return err
	}
	switch op.Code {
	case OpPush:
		_, err := fmt.Fprintf(w, "%spush.%d\n", pad, op.Imm)
		return err
	case OpPushw:
		_, err := fmt.Fprintf(w, "%spush.%d.%d.%d.%d\n", pad,
			op.Word[0], op.Word[1], op.Word[2], op.Word[3])
		return err
	case OpExec:
		_, err := fmt.Fprintf(w, "%sexec.%s\n", pad, resolve(op.Target))
		return err
	case OpSyscall:
		_, err := fmt.Fprintf(w, "%ssyscall.%s\n", pad, resolve(op.Target))
		return err
	case OpCall:
		_, err := fmt.Fprintf(w, "%scall.%s\n", pad, resolve(op.Target))
		return err
	case OpIf:
		if _, err := fmt.Fprintf(w, "%sif.true\n", pad); err != nil {
			return err
		}
		for i := range op.Then {
			if err := op.Then[i].writeResolved(w, indent+1, resolve); err != nil {
				return err
			}
		}
		if len(op.Else) > 0 {
			if _, err := fmt.Fprintf(w, "%selse\n", pad); err != nil {
				return err
			}
			for i := range op.Else {
				if err := op.Else[i].writeResolved(w, indent+1, resolve); err != nil {
					return err
				}
			}
		}
		_, err := fmt.Fprintf(w, "%send\n", pad)
		return err
	case OpWhile:
		if _, err := fmt.Fprintf(w, "%swhile.true\n", pad); err != nil {
			return err
		}
		for i := range op.Body {
			if err := op.Body[i].writeResolved(w, indent+1, resolve); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "%send\n", pad)
		return err
	case OpRepeat:
		if _, err := fmt.Fprintf(w, "%srepeat.%d\n", pad, op.Imm); err != nil {
			return err
		}
		for i := range op.Body {
			if err := op.Body[i].writeResolved(w, indent+1, resolve); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "%send\n", pad)
		return err
	default:
		panic(fmt.Sprintf("BUG: no textual form for opcode %d", op.Code))
	}
}

// String implements fmt.Stringer for debugging.
func (op *Op) String() string {
	var sb strings.Builder
	if err := op.WriteTo(&sb, 0); err != nil {
		panic(err)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
