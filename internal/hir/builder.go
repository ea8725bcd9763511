package hir

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// Builder constructs the body of a function, one instruction at a time, at a
// movable insertion point.
type Builder struct {
	fn   *Function
	cur  Block
	span diag.SourceSpan
}

// NewBuilder returns a builder for `fn`, positioned at the entry block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn, cur: fn.DFG.EntryBlock()}
}

// Func returns the function under construction.
func (b *Builder) Func() *Function { return b.fn }

// DFG returns the data-flow graph of the function under construction.
func (b *Builder) DFG() *DataFlowGraph { return b.fn.DFG }

// CreateBlock adds a new block to the function.
func (b *Builder) CreateBlock() Block { return b.fn.DFG.CreateBlock() }

// SwitchTo moves the insertion point to the end of `blk`.
func (b *Builder) SwitchTo(blk Block) *Builder {
	b.cur = blk
	return b
}

// CurrentBlock returns the block instructions are currently appended to.
func (b *Builder) CurrentBlock() Block { return b.cur }

// At sets the source span attached to subsequently built instructions.
func (b *Builder) At(span diag.SourceSpan) *Builder {
	b.span = span
	return b
}

// AppendBlockParam adds a parameter of type `ty` to `blk`.
func (b *Builder) AppendBlockParam(blk Block, ty types.Type) Value {
	return b.fn.DFG.AppendBlockParam(blk, ty)
}

func (b *Builder) insert(fields InstFields, resultTypes ...types.Type) (Inst, []Value) {
	fields.Span = b.span
	inst := b.fn.DFG.MakeInst(fields)
	results := b.fn.DFG.MakeInstResults(inst, resultTypes...)
	b.fn.DFG.AppendInst(b.cur, inst)
	return inst, results
}

// Const materializes the immediate `imm` as a value of its type.
func (b *Builder) Const(imm Immediate) Value {
	_, results := b.insert(InstFields{
		Opcode: OpcodeConst,
		Imm:    imm,
		HasImm: true,
		Type:   imm.Type,
	}, imm.Type)
	return results[0]
}

// ConstU32 is shorthand for a u32 constant.
func (b *Builder) ConstU32(v uint32) Value {
	return b.Const(Imm(types.U32Type, uint64(v)))
}

// Binary inserts a two-operand arithmetic or bitwise instruction.
func (b *Builder) Binary(op Opcode, overflow Overflow, x, y Value) Value {
	ty := b.resultTypeOf(op, x)
	_, results := b.insert(InstFields{
		Opcode:   op,
		Overflow: overflow,
		Args:     []Value{x, y},
		Type:     b.fn.DFG.ValueType(x),
	}, ty)
	return results[0]
}

// BinaryImm inserts a two-operand instruction whose second operand is an
// immediate.
func (b *Builder) BinaryImm(op Opcode, overflow Overflow, x Value, imm Immediate) Value {
	ty := b.resultTypeOf(op, x)
	_, results := b.insert(InstFields{
		Opcode:   op,
		Overflow: overflow,
		Args:     []Value{x},
		Imm:      imm,
		HasImm:   true,
		Type:     b.fn.DFG.ValueType(x),
	}, ty)
	return results[0]
}

// resultTypeOf derives the result type of a binary/unary op from its first
// operand: comparisons produce i1, everything else preserves the operand type.
func (b *Builder) resultTypeOf(op Opcode, x Value) types.Type {
	switch op {
	case OpcodeEq, OpcodeNeq, OpcodeGt, OpcodeGte, OpcodeLt, OpcodeLte, OpcodeIsOdd, OpcodeNot:
		return types.I1Type
	default:
		return b.fn.DFG.ValueType(x)
	}
}

// Add inserts an add instruction with the given overflow behavior.
func (b *Builder) Add(x, y Value, overflow Overflow) Value {
	return b.Binary(OpcodeAdd, overflow, x, y)
}

// Sub inserts a sub instruction.
func (b *Builder) Sub(x, y Value, overflow Overflow) Value {
	return b.Binary(OpcodeSub, overflow, x, y)
}

// Mul inserts a mul instruction.
func (b *Builder) Mul(x, y Value, overflow Overflow) Value {
	return b.Binary(OpcodeMul, overflow, x, y)
}

// Shl inserts a shift-left instruction.
func (b *Builder) Shl(x, y Value) Value {
	return b.Binary(OpcodeShl, OverflowWrapping, x, y)
}

// Unary inserts a single-operand instruction.
func (b *Builder) Unary(op Opcode, x Value) Value {
	ty := b.resultTypeOf(op, x)
	_, results := b.insert(InstFields{
		Opcode: op,
		Args:   []Value{x},
		Type:   b.fn.DFG.ValueType(x),
	}, ty)
	return results[0]
}

// Cast family: the result type is given explicitly.

// Zext zero-extends `x` to `ty`.
func (b *Builder) Zext(x Value, ty types.Type) Value { return b.convert(OpcodeZext, x, ty) }

// Sext sign-extends `x` to `ty`.
func (b *Builder) Sext(x Value, ty types.Type) Value { return b.convert(OpcodeSext, x, ty) }

// Trunc truncates `x` to `ty`.
func (b *Builder) Trunc(x Value, ty types.Type) Value { return b.convert(OpcodeTrunc, x, ty) }

// Cast reinterprets `x` as `ty`.
func (b *Builder) Cast(x Value, ty types.Type) Value { return b.convert(OpcodeCast, x, ty) }

func (b *Builder) convert(op Opcode, x Value, ty types.Type) Value {
	_, results := b.insert(InstFields{
		Opcode: op,
		Args:   []Value{x},
		Type:   ty,
	}, ty)
	return results[0]
}

// Load loads a value of `ty` from the pointer `addr`.
func (b *Builder) Load(addr Value, ty types.Type) Value {
	if !types.IsLoadable(ty) {
		panic(fmt.Sprintf("BUG: type %s is too large to load onto the operand stack", ty))
	}
	_, results := b.insert(InstFields{
		Opcode: OpcodeLoad,
		Args:   []Value{addr},
		Type:   ty,
	}, ty)
	return results[0]
}

// Store stores `value` through the pointer `addr`.
func (b *Builder) Store(addr, value Value) Inst {
	inst, _ := b.insert(InstFields{
		Opcode: OpcodeStore,
		Args:   []Value{addr, value},
		Type:   b.fn.DFG.ValueType(value),
	})
	return inst
}

// Select chooses between `then` and `els` on the boolean `cond`.
func (b *Builder) Select(cond, then, els Value) Value {
	ty := b.fn.DFG.ValueType(then)
	_, results := b.insert(InstFields{
		Opcode: OpcodeSelect,
		Args:   []Value{cond, then, els},
		Type:   ty,
	}, ty)
	return results[0]
}

// Assert traps unless `cond` is true.
func (b *Builder) Assert(cond Value) Inst {
	inst, _ := b.insert(InstFields{Opcode: OpcodeAssert, Args: []Value{cond}, Type: types.I1Type})
	return inst
}

// Call invokes `callee`, which must have been imported into the graph or be
// defined in the same program.
func (b *Builder) Call(callee FunctionIdent, resultTypes []types.Type, args ...Value) []Value {
	_, results := b.insert(InstFields{
		Opcode: OpcodeCall,
		Args:   args,
		Callee: callee,
	}, resultTypes...)
	return results
}

// Syscall invokes the kernel function `callee`.
func (b *Builder) Syscall(callee FunctionIdent, resultTypes []types.Type, args ...Value) []Value {
	_, results := b.insert(InstFields{
		Opcode: OpcodeSyscall,
		Args:   args,
		Callee: callee,
	}, resultTypes...)
	return results
}

// Br inserts an unconditional branch to `dest`, passing `args` to its
// parameters.
func (b *Builder) Br(dest Block, args ...Value) Inst {
	inst, _ := b.insert(InstFields{
		Opcode: OpcodeBr,
		Dests:  []DestFields{{Block: dest, Args: args}},
	})
	return inst
}

// CondBr inserts a two-way branch on `cond`.
func (b *Builder) CondBr(cond Value, then Block, thenArgs []Value, els Block, elsArgs []Value) Inst {
	inst, _ := b.insert(InstFields{
		Opcode: OpcodeCondBr,
		Args:   []Value{cond},
		Dests: []DestFields{
			{Block: then, Args: thenArgs},
			{Block: els, Args: elsArgs},
		},
	})
	return inst
}

// Switch inserts a multi-way branch on the integer selector `selector`.
// `arms[i]` transfers to `dests[i]` when the selector equals it; otherwise
// control goes to `fallback`.
func (b *Builder) Switch(selector Value, arms []uint32, dests []Block, fallback Block) Inst {
	if len(arms) != len(dests) {
		panic("BUG: switch arms and destinations must have the same length")
	}
	all := make([]DestFields, 0, len(dests)+1)
	all = append(all, DestFields{Block: fallback})
	for _, d := range dests {
		all = append(all, DestFields{Block: d})
	}
	inst, _ := b.insert(InstFields{
		Opcode: OpcodeSwitch,
		Args:   []Value{selector},
		Dests:  all,
		Arms:   arms,
	})
	return inst
}

// Ret returns from the function with the given values.
func (b *Builder) Ret(args ...Value) Inst {
	inst, _ := b.insert(InstFields{Opcode: OpcodeRet, Args: args})
	return inst
}

// Unreachable marks the current point as unreachable.
func (b *Builder) Unreachable() Inst {
	inst, _ := b.insert(InstFields{Opcode: OpcodeUnreachable})
	return inst
}
