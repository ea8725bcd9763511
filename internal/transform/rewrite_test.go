package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

func shlByOneFunc(t *testing.T) *hir.Function {
	t.Helper()
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "double"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	one := b.ConstU32(1)
	shifted := b.Shl(param, one)
	b.Ret(shifted)
	return f
}

func TestRewrite_ShlByOneToMulByTwo(t *testing.T) {
	f := shlByOneFunc(t)
	mgr := pass.NewManager()
	driver := &GreedyRewriteDriver{Patterns: CanonicalizationPatterns()}
	require.NoError(t, driver.Apply(f, mgr, nil))

	var mul hir.Inst
	for _, inst := range f.DFG.BlockInsts(f.DFG.EntryBlock()) {
		op := f.DFG.InstOpcode(inst)
		require.NotEqual(t, hir.OpcodeShl, op, "shl should have been rewritten")
		if op == hir.OpcodeMul {
			mul = inst
		}
	}
	require.True(t, mul.Valid())
	require.Equal(t, hir.OverflowWrapping, f.DFG.InstOverflow(mul))
	imm, ok := f.DFG.InstImm(mul)
	require.True(t, ok)
	require.Equal(t, uint64(2), imm.Bits)

	// The return now flows through the mul result.
	ret := f.DFG.LastInst(f.DFG.EntryBlock())
	retArg := f.DFG.InstArgs(ret)[0]
	def, _, ok := f.DFG.ValueDefInst(retArg)
	require.True(t, ok)
	require.Equal(t, mul, def)

	// The rewritten function still validates.
	handler := diag.NewHandler(diag.Config{}, nil, nil)
	require.NoError(t, (&analysis.FunctionValidator{}).Validate(f, handler))
}

func TestRewrite_ShlByOtherAmountsUntouched(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	three := b.ConstU32(3)
	shifted := b.Shl(param, three)
	b.Ret(shifted)

	mgr := pass.NewManager()
	driver := &GreedyRewriteDriver{Patterns: CanonicalizationPatterns()}
	require.NoError(t, driver.Apply(f, mgr, nil))

	found := false
	for _, inst := range f.DFG.BlockInsts(f.DFG.EntryBlock()) {
		if f.DFG.InstOpcode(inst) == hir.OpcodeShl {
			found = true
		}
	}
	require.True(t, found)
}

func TestRewrite_IdentityElimination(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	zero := b.ConstU32(0)
	sum := b.Add(param, zero, hir.OverflowWrapping)
	one := b.ConstU32(1)
	product := b.Mul(sum, one, hir.OverflowWrapping)
	b.Ret(product)

	mgr := pass.NewManager()
	driver := &GreedyRewriteDriver{Patterns: CanonicalizationPatterns()}
	require.NoError(t, driver.Apply(f, mgr, nil))

	// Both identity operations collapse; the return sees the parameter.
	ret := f.DFG.LastInst(f.DFG.EntryBlock())
	require.Equal(t, param, f.DFG.ResolveAlias(f.DFG.InstArgs(ret)[0]))
	for _, inst := range f.DFG.BlockInsts(f.DFG.EntryBlock()) {
		op := f.DFG.InstOpcode(inst)
		require.NotEqual(t, hir.OpcodeAdd, op)
		require.NotEqual(t, hir.OpcodeMul, op)
	}
}

// impossiblePattern reports BenefitNone and must be discarded by the set.
type impossiblePattern struct{ matched *bool }

func (impossiblePattern) Name() string                { return "impossible" }
func (impossiblePattern) Kind() PatternKind           { return MatchAny() }
func (impossiblePattern) Benefit() Benefit            { return BenefitNone }
func (impossiblePattern) HasBoundedRecursion() bool   { return false }
func (p impossiblePattern) Matches(*hir.DataFlowGraph, hir.Inst) (bool, error) {
	*p.matched = true
	return true, nil
}
func (impossiblePattern) Rewrite(*Rewriter, hir.Inst) error { return nil }

// recordingPattern records the order in which the driver consults patterns.
type recordingPattern struct {
	name    string
	benefit Benefit
	order   *[]string
}

func (p recordingPattern) Name() string              { return p.name }
func (p recordingPattern) Kind() PatternKind         { return MatchAny() }
func (p recordingPattern) Benefit() Benefit          { return p.benefit }
func (p recordingPattern) HasBoundedRecursion() bool { return false }
func (p recordingPattern) Matches(*hir.DataFlowGraph, hir.Inst) (bool, error) {
	*p.order = append(*p.order, p.name)
	return false, nil
}
func (p recordingPattern) Rewrite(*Rewriter, hir.Inst) error { return nil }

func TestPatternSet_BenefitOrdering(t *testing.T) {
	var order []string
	matched := false
	set := NewPatternSet(
		recordingPattern{name: "low", benefit: 1, order: &order},
		impossiblePattern{matched: &matched},
		recordingPattern{name: "high", benefit: 10, order: &order},
		recordingPattern{name: "mid", benefit: 5, order: &order},
	)

	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature(nil, nil))
	b := hir.NewBuilder(f)
	b.Ret()

	mgr := pass.NewManager()
	driver := &GreedyRewriteDriver{Patterns: set}
	require.NoError(t, driver.Apply(f, mgr, nil))

	// Higher benefits are consulted first; the impossible pattern is
	// never consulted at all.
	require.Equal(t, []string{"high", "mid", "low"}, order)
	require.False(t, matched)
}
