package analysis

import (
	"fmt"
	"strings"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// maxParamStackElements is the parameter footprint limit imposed by the VM:
// all arguments must fit on the 16-element operand stack.
const maxParamStackElements = 16

// Rule is a predicate over an IR entity which either succeeds or emits a
// diagnostic and returns it as an error. Rules compose via Chain.
type Rule[T any] interface {
	Validate(entity T, diagnostics *diag.Handler) error
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc[T any] func(entity T, diagnostics *diag.Handler) error

// Validate implements Rule.
func (f RuleFunc[T]) Validate(entity T, diagnostics *diag.Handler) error {
	return f(entity, diagnostics)
}

// Chain returns a rule applying `rules` in order, stopping at the first
// failure.
func Chain[T any](rules ...Rule[T]) Rule[T] {
	return RuleFunc[T](func(entity T, diagnostics *diag.Handler) error {
		for _, rule := range rules {
			if err := rule.Validate(entity, diagnostics); err != nil {
				return err
			}
		}
		return nil
	})
}

// FunctionValidator applies the full function-level rule set:
//
//  1. Naming conventions on the function identifier
//  2. Signature coherence
//  3. Entry block consistency with the signature
//  4. Per-block well-formedness
//  5. Definitions dominate uses
//  6. Type checking of operands and branch arguments
type FunctionValidator struct {
	// InKernelModule is true when the containing module is a kernel module.
	InKernelModule bool
}

// Validate implements Rule.
func (v *FunctionValidator) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	decl := Chain[*hir.Function](
		NamingConventions{},
		&CoherentSignature{InKernelModule: v.InKernelModule},
	)
	if err := decl.Validate(f, diagnostics); err != nil {
		return err
	}

	blocks := &BlockValidator{}
	for _, b := range f.DFG.Blocks() {
		if err := blocks.ValidateBlock(f, b, diagnostics); err != nil {
			return err
		}
	}

	cfg := ComputeCFG(f)
	domtree := ComputeDominatorTree(f, cfg)

	uses := Chain[*hir.Function](
		&DefsDominateUses{Domtree: domtree},
		&TypeCheck{},
	)
	return uses.Validate(f, diagnostics)
}

// NamingConventions checks the function identifier.
type NamingConventions struct{}

// Validate implements Rule.
func (NamingConventions) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	name := string(f.ID.Function)
	if name == "" {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function name").
			WithPrimaryLabel(f.Span, "function names may not be empty").
			IntoError()
	}
	if !isIdentStart(rune(name[0])) {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function name").
			WithPrimaryLabel(f.Span,
				fmt.Sprintf("function names must begin with a letter or underscore, got %q", name)).
			IntoError()
	}
	for _, r := range name {
		if !isIdentPart(r) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function name").
				WithPrimaryLabel(f.Span,
					fmt.Sprintf("function names may only contain letters, digits, '_', '-', '$' and '.', got %q", name)).
				IntoError()
		}
	}
	if string(f.ID.Module) == "" {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function name").
			WithPrimaryLabel(f.Span, "the module component of a function name may not be empty").
			IntoError()
	}
	return nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '-' || r == '$' || r == '.'
}

// CoherentSignature validates the function signature against its linkage,
// calling convention, containing module kind, and ABI constraints, and
// checks entry-block consistency.
type CoherentSignature struct {
	InKernelModule bool
}

// Validate implements Rule.
func (r *CoherentSignature) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	span := f.Span
	sig := &f.Signature

	if sig.Linkage != hir.LinkageExternal && sig.Linkage != hir.LinkageInternal {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function signature").
			WithPrimaryLabel(span, fmt.Sprintf(
				"the signature of this function specifies '%s' linkage, but only 'external' or 'internal' are valid",
				sig.Linkage)).
			IntoError()
	}

	isKernelFunction := sig.CallConv == hir.CallConvKernel
	if r.InKernelModule {
		switch {
		case sig.IsPublic() && !isKernelFunction:
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(span, fmt.Sprintf(
					"the '%s' calling convention may only be used with 'internal' linkage in kernel modules",
					sig.CallConv)).
				WithHelp("This function is declared with 'external' linkage in a kernel module, "+
					"so it must use the 'kernel' calling convention").
				IntoError()
		case !sig.IsPublic() && isKernelFunction:
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(span,
					"the 'kernel' calling convention may only be used with 'external' linkage").
				WithHelp("This function has 'internal' linkage, so it must either be made "+
					"'external', or a different calling convention must be used").
				IntoError()
		}
	} else if isKernelFunction {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function signature").
			WithPrimaryLabel(span,
				"the 'kernel' calling convention may only be used in kernel modules").
			WithHelp("Kernel functions may only be declared in kernel modules, so you must "+
				"either change the module type, or change the calling convention of this function").
			IntoError()
	}

	entry := f.DFG.EntryBlock()
	params := f.DFG.BlockParams(entry)
	if len(params) != sig.Arity() {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function signature").
			WithPrimaryLabel(span, "function signature and entry block have different arities").
			WithHelp("This happens if the signature or entry block are modified without "+
				"updating the other, make sure the number and types of all parameters are "+
				"the same in both the signature and the entry block").
			IntoError()
	}

	sretCount := 0
	stackUsage := uint32(0)
	for i, param := range sig.Params {
		value := params[i]
		vspan := f.DFG.ValueSpan(value)
		paramTy := param.Type
		valueTy := f.DFG.ValueType(value)

		if !types.Equal(paramTy, valueTy) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(vspan, "parameter type mismatch between signature and entry block").
				WithHelp(fmt.Sprintf(
					"The function declares this parameter as having type %s, but the actual type is %s",
					paramTy, valueTy)).
				IntoError()
		}

		isInteger := types.IsInteger(paramTy)
		isSigned := types.IsSignedInteger(paramTy)
		switch {
		case param.Extension == hir.ExtensionZext && isSigned:
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(vspan,
					"signed integer parameters may not be combined with zero-extension").
				WithHelp("Zero-extending a signed integer loses the signedness, you should "+
					"use signed-extension instead").
				IntoError()
		case param.Extension != hir.ExtensionNone && !isInteger:
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(vspan,
					"non-integer parameters may not be combined with argument extension attributes").
				WithHelp("Argument extension has no meaning for types other than integers").
				IntoError()
		}

		isPointer := types.IsPointer(paramTy)
		isSret := param.Purpose == hir.PurposeStructReturn
		if isSret {
			sretCount++
		}

		if isKernelFunction && (isSret || isPointer) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(vspan,
					"functions using the 'kernel' calling convention may not use sret or pointer-typed parameters").
				WithHelp("Kernel functions are invoked in a different memory context, so "+
					"they may not pass or return values by reference").
				IntoError()
		}

		if !isKernelFunction {
			if isSret {
				if sretCount > 1 || i != 0 {
					return diagnostics.Diagnostic(diag.SeverityError).
						WithMessage("invalid function signature").
						WithPrimaryLabel(vspan,
							"a function may only have a single sret parameter, and it must be the first parameter").
						IntoError()
				}
				if !isPointer {
					return diagnostics.Diagnostic(diag.SeverityError).
						WithMessage("invalid function signature").
						WithPrimaryLabel(vspan,
							fmt.Sprintf("sret parameters must be pointer-typed, but got %s", paramTy)).
						IntoError()
				}
				if len(sig.Results) != 0 {
					return diagnostics.Diagnostic(diag.SeverityError).
						WithMessage("invalid function signature").
						WithPrimaryLabel(vspan, "functions with an sret parameter must have no results").
						WithHelp("An sret parameter is used in place of normal return values, "+
							"but this function uses both, which is not valid. You should "+
							"remove the results from the function signature.").
						IntoError()
				}
			}
			if !isPointer && paramTy.SizeInBytes() > 8 {
				return diagnostics.Diagnostic(diag.SeverityError).
					WithMessage("invalid function signature").
					WithPrimaryLabel(vspan, "this parameter type is too large to pass by value").
					WithHelp(fmt.Sprintf(
						"This parameter has type %s, you must refactor this function to pass it by reference instead",
						paramTy)).
					IntoError()
			}
		}

		if repr, ok := paramTy.Repr(); ok {
			stackUsage += repr.Size()
		}
	}

	if stackUsage > maxParamStackElements {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid function signature").
			WithPrimaryLabel(span, "this function has a signature with too many parameters").
			WithHelp("Due to the constraints of the Miden VM, all function parameters must "+
				"fit on the operand stack, which is 16 elements (effectively 64 bytes). The "+
				"layout of the parameter list of this function requires more than this limit. "+
				"You should either remove parameters, or combine some of them into a struct "+
				"which is then passed by reference.").
			IntoError()
	}

	for _, result := range sig.Results {
		if result.Purpose == hir.PurposeStructReturn {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(span, "the sret attribute is only permitted on function parameters").
				IntoError()
		}
		if result.Extension != hir.ExtensionNone {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(span,
					"the argument extension attributes are only permitted on function parameters").
				IntoError()
		}
		if !types.IsPointer(result.Type) && result.Type.SizeInBytes() > 8 {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid function signature").
				WithPrimaryLabel(span,
					"this function specifies a result type which is too large to pass by value").
				WithHelp(fmt.Sprintf(
					"The result has type %s, you must refactor this function to pass it by reference instead",
					result.Type)).
				IntoError()
		}
	}

	return nil
}

// BlockValidator checks per-block structural invariants: the function is
// non-empty, every non-empty block ends with a terminator, only the last
// instruction is a terminator, and branch argument arities match the
// destination block's parameter list.
type BlockValidator struct{}

// Validate implements Rule over whole functions.
func (v *BlockValidator) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	for _, b := range f.DFG.Blocks() {
		if err := v.ValidateBlock(f, b, diagnostics); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBlock checks a single block.
func (v *BlockValidator) ValidateBlock(f *hir.Function, b hir.Block, diagnostics *diag.Handler) error {
	dfg := f.DFG
	last := dfg.LastInst(b)
	if !last.Valid() {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid block").
			WithPrimaryLabel(f.Span, fmt.Sprintf("%s is empty: every block must end with a terminator", b)).
			IntoError()
	}
	if !dfg.InstOpcode(last).IsTerminator() {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("invalid block").
			WithPrimaryLabel(dfg.InstSpan(last),
				fmt.Sprintf("%s does not end with a terminator instruction", b)).
			IntoError()
	}
	for inst := dfg.FirstInst(b); inst.Valid(); inst = dfg.NextInst(inst) {
		if inst != last && dfg.InstOpcode(inst).IsTerminator() {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid block").
				WithPrimaryLabel(dfg.InstSpan(inst),
					fmt.Sprintf("terminator %s appears before the end of %s", dfg.InstOpcode(inst), b)).
				IntoError()
		}
	}

	info := dfg.AnalyzeBranch(last)
	check := func(dest hir.Block, args []hir.Value) error {
		params := dfg.BlockParams(dest)
		if len(args) != len(params) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid branch").
				WithPrimaryLabel(dfg.InstSpan(last), fmt.Sprintf(
					"branch to %s passes %d arguments, but the block declares %d parameters",
					dest, len(args), len(params))).
				IntoError()
		}
		return nil
	}
	switch info.Kind {
	case hir.BranchSingleDest:
		return check(info.Dest, info.Args)
	case hir.BranchMultiDest:
		for _, entry := range info.JumpTable {
			if err := check(entry.Destination, entry.Args); err != nil {
				return err
			}
		}
	}
	return nil
}

// DefsDominateUses verifies that every use of a value is dominated by its
// definition.
type DefsDominateUses struct {
	Domtree *DominatorTree
}

// Validate implements Rule.
func (r *DefsDominateUses) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	dfg := f.DFG
	for _, b := range dfg.Blocks() {
		if !r.Domtree.IsReachable(b) {
			continue
		}
		for _, inst := range dfg.BlockInsts(b) {
			all := append([]hir.Value{}, dfg.InstArgs(inst)...)
			info := dfg.AnalyzeBranch(inst)
			switch info.Kind {
			case hir.BranchSingleDest:
				all = append(all, info.Args...)
			case hir.BranchMultiDest:
				for _, entry := range info.JumpTable {
					all = append(all, entry.Args...)
				}
			}
			for _, v := range all {
				if err := r.checkUse(f, v, inst, diagnostics); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *DefsDominateUses) checkUse(f *hir.Function, v hir.Value, user hir.Inst, diagnostics *diag.Handler) error {
	dfg := f.DFG
	if def, _, ok := dfg.ValueDefInst(v); ok {
		if !r.Domtree.Dominates(dfg, def, user) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid value use").
				WithPrimaryLabel(dfg.InstSpan(user),
					fmt.Sprintf("the definition of %s does not dominate this use", v)).
				WithSecondaryLabel(dfg.InstSpan(def), "defined here").
				IntoError()
		}
		return nil
	}
	if block, _, ok := dfg.ValueDefBlock(v); ok {
		if !r.Domtree.BlockDominates(dfg, block, user) {
			return diagnostics.Diagnostic(diag.SeverityError).
				WithMessage("invalid value use").
				WithPrimaryLabel(dfg.InstSpan(user),
					fmt.Sprintf("the block defining parameter %s does not dominate this use", v)).
				IntoError()
		}
	}
	return nil
}

// TypeCheck verifies operand types against opcode expectations and branch
// argument types against destination parameter types.
type TypeCheck struct{}

// Validate implements Rule.
func (r *TypeCheck) Validate(f *hir.Function, diagnostics *diag.Handler) error {
	dfg := f.DFG
	for _, b := range dfg.Blocks() {
		for _, inst := range dfg.BlockInsts(b) {
			if err := r.checkInst(f, inst, diagnostics); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *TypeCheck) checkInst(f *hir.Function, inst hir.Inst, diagnostics *diag.Handler) error {
	dfg := f.DFG
	op := dfg.InstOpcode(inst)
	args := dfg.InstArgs(inst)
	fail := func(format string, fmtArgs ...any) error {
		return diagnostics.Diagnostic(diag.SeverityError).
			WithMessage("type mismatch").
			WithPrimaryLabel(dfg.InstSpan(inst), fmt.Sprintf(format, fmtArgs...)).
			IntoError()
	}

	switch op {
	case hir.OpcodeAdd, hir.OpcodeSub, hir.OpcodeMul, hir.OpcodeDiv, hir.OpcodeMod,
		hir.OpcodeDivMod, hir.OpcodeExp, hir.OpcodeBand, hir.OpcodeBor, hir.OpcodeBxor,
		hir.OpcodeShl, hir.OpcodeShr, hir.OpcodeRotl, hir.OpcodeRotr,
		hir.OpcodeEq, hir.OpcodeNeq, hir.OpcodeGt, hir.OpcodeGte, hir.OpcodeLt,
		hir.OpcodeLte, hir.OpcodeMin, hir.OpcodeMax:
		if _, hasImm := dfg.InstImm(inst); !hasImm && len(args) == 2 {
			lhs, rhs := dfg.ValueType(args[0]), dfg.ValueType(args[1])
			if !types.Equal(lhs, rhs) {
				return fail("%s expects operands of the same type, got %s and %s", op, lhs, rhs)
			}
		}
	case hir.OpcodeAnd, hir.OpcodeOr, hir.OpcodeXor, hir.OpcodeNot:
		for _, a := range args {
			if ty := dfg.ValueType(a); !types.Equal(ty, types.I1Type) {
				return fail("%s expects boolean operands, got %s", op, ty)
			}
		}
	case hir.OpcodeCondBr:
		if ty := dfg.ValueType(args[0]); !types.Equal(ty, types.I1Type) {
			return fail("condbr expects an i1 condition, got %s", ty)
		}
	case hir.OpcodeLoad:
		if ty := dfg.ValueType(args[0]); !types.IsPointer(ty) {
			return fail("load expects a pointer operand, got %s", ty)
		}
	case hir.OpcodeStore:
		if ty := dfg.ValueType(args[0]); !types.IsPointer(ty) {
			return fail("store expects a pointer operand, got %s", ty)
		}
	case hir.OpcodeRet:
		results := f.Signature.Results
		if len(args) != len(results) {
			return fail("ret returns %d values, but the function signature declares %d results",
				len(args), len(results))
		}
		for i, a := range args {
			if got := dfg.ValueType(a); !types.Equal(got, results[i].Type) {
				return fail("ret operand %d has type %s, but the signature declares %s",
					i, got, results[i].Type)
			}
		}
	}

	// Branch argument types must match the destination parameter types.
	info := dfg.AnalyzeBranch(inst)
	checkDest := func(dest hir.Block, destArgs []hir.Value) error {
		params := dfg.BlockParams(dest)
		if len(destArgs) != len(params) {
			return nil // arity is reported by BlockValidator
		}
		for i, a := range destArgs {
			got, want := dfg.ValueType(a), dfg.ValueType(params[i])
			if !types.Equal(got, want) {
				return fail("branch argument %d to %s has type %s, but the parameter expects %s",
					i, dest, got, want)
			}
		}
		return nil
	}
	switch info.Kind {
	case hir.BranchSingleDest:
		return checkDest(info.Dest, info.Args)
	case hir.BranchMultiDest:
		for _, entry := range info.JumpTable {
			if err := checkDest(entry.Destination, entry.Args); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateModule applies the function rule set to every function of `m`.
func ValidateModule(m *hir.Module, diagnostics *diag.Handler) error {
	validator := &FunctionValidator{InKernelModule: m.IsKernel()}
	var failures []string
	for _, f := range m.Functions() {
		if err := validator.Validate(f, diagnostics); err != nil {
			failures = append(failures, f.ID.String())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("module %s failed validation: %s", m.Name, strings.Join(failures, ", "))
	}
	return nil
}
