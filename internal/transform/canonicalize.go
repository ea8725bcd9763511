package transform

import (
	"github.com/0xpolygonmiden/midenc/internal/hir"
)

// CanonicalizationPatterns returns the default strength-reduction and
// identity-elimination pattern set.
func CanonicalizationPatterns() *PatternSet {
	return NewPatternSet(
		ShlByOneToMulByTwo{},
		AddIdentity{},
		MulIdentity{},
	)
}

// ShlByOneToMulByTwo rewrites `shl x, 1` into `mul x, 2`, which lowers to a
// cheaper multiply on the VM than a general shift.
type ShlByOneToMulByTwo struct{}

// Name implements RewritePattern.
func (ShlByOneToMulByTwo) Name() string { return "shl-by-one-to-mul-by-two" }

// Kind implements RewritePattern.
func (ShlByOneToMulByTwo) Kind() PatternKind { return MatchOpcode(hir.OpcodeShl) }

// Benefit implements RewritePattern.
func (ShlByOneToMulByTwo) Benefit() Benefit { return 2 }

// HasBoundedRecursion implements RewritePattern. The pattern generates a
// mul, which it never matches.
func (ShlByOneToMulByTwo) HasBoundedRecursion() bool { return false }

// Matches implements RewritePattern.
func (ShlByOneToMulByTwo) Matches(dfg *hir.DataFlowGraph, inst hir.Inst) (bool, error) {
	imm, ok := shiftAmount(dfg, inst)
	return ok && imm == 1, nil
}

// Rewrite implements RewritePattern.
func (p ShlByOneToMulByTwo) Rewrite(rw *Rewriter, inst hir.Inst) error {
	dfg := rw.DFG()
	x := dfg.InstArgs(inst)[0]
	ty := dfg.ValueType(x)
	rw.ReplaceInst(inst, hir.InstFields{
		Opcode:   hir.OpcodeMul,
		Overflow: hir.OverflowWrapping,
		Args:     []hir.Value{x},
		Imm:      hir.Imm(ty, 2),
		HasImm:   true,
		Type:     ty,
	}, ty)
	return nil
}

// shiftAmount extracts a constant shift amount from `inst`, either as an
// immediate or as the result of a const instruction.
func shiftAmount(dfg *hir.DataFlowGraph, inst hir.Inst) (uint64, bool) {
	if imm, ok := dfg.InstImm(inst); ok {
		return imm.Bits, true
	}
	args := dfg.InstArgs(inst)
	if len(args) != 2 {
		return 0, false
	}
	return constValue(dfg, args[1])
}

// constValue returns the immediate bits of `v` if it is defined by a const
// instruction.
func constValue(dfg *hir.DataFlowGraph, v hir.Value) (uint64, bool) {
	def, _, ok := dfg.ValueDefInst(v)
	if !ok || dfg.InstOpcode(def) != hir.OpcodeConst {
		return 0, false
	}
	imm, _ := dfg.InstImm(def)
	return imm.Bits, true
}

// AddIdentity rewrites `add x, 0` to `x`.
type AddIdentity struct{}

// Name implements RewritePattern.
func (AddIdentity) Name() string { return "add-identity" }

// Kind implements RewritePattern.
func (AddIdentity) Kind() PatternKind { return MatchOpcode(hir.OpcodeAdd) }

// Benefit implements RewritePattern.
func (AddIdentity) Benefit() Benefit { return 3 }

// HasBoundedRecursion implements RewritePattern.
func (AddIdentity) HasBoundedRecursion() bool { return false }

// Matches implements RewritePattern.
func (AddIdentity) Matches(dfg *hir.DataFlowGraph, inst hir.Inst) (bool, error) {
	return identityOperand(dfg, inst, 0)
}

// Rewrite implements RewritePattern.
func (AddIdentity) Rewrite(rw *Rewriter, inst hir.Inst) error {
	rw.ReplaceInstWithValue(inst, rw.DFG().InstArgs(inst)[0])
	return nil
}

// MulIdentity rewrites `mul x, 1` to `x`.
type MulIdentity struct{}

// Name implements RewritePattern.
func (MulIdentity) Name() string { return "mul-identity" }

// Kind implements RewritePattern.
func (MulIdentity) Kind() PatternKind { return MatchOpcode(hir.OpcodeMul) }

// Benefit implements RewritePattern.
func (MulIdentity) Benefit() Benefit { return 3 }

// HasBoundedRecursion implements RewritePattern.
func (MulIdentity) HasBoundedRecursion() bool { return false }

// Matches implements RewritePattern.
func (MulIdentity) Matches(dfg *hir.DataFlowGraph, inst hir.Inst) (bool, error) {
	return identityOperand(dfg, inst, 1)
}

// Rewrite implements RewritePattern.
func (MulIdentity) Rewrite(rw *Rewriter, inst hir.Inst) error {
	rw.ReplaceInstWithValue(inst, rw.DFG().InstArgs(inst)[0])
	return nil
}

// identityOperand reports whether the second operand of `inst` is the
// constant `identity`, in immediate or const-result form.
func identityOperand(dfg *hir.DataFlowGraph, inst hir.Inst, identity uint64) (bool, error) {
	if imm, ok := dfg.InstImm(inst); ok {
		return imm.Bits == identity, nil
	}
	args := dfg.InstArgs(inst)
	if len(args) != 2 {
		return false, nil
	}
	bits, ok := constValue(dfg, args[1])
	return ok && bits == identity, nil
}
