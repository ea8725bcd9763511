package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
	"github.com/0xpolygonmiden/midenc/internal/pass"
	"github.com/0xpolygonmiden/midenc/internal/transform"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// run compiles `f` and executes it on the emulator with the given stack
// inputs (args[0] on top).
func run(t *testing.T, f *hir.Function, program *masm.Program, args ...masm.Felt) []masm.Felt {
	t.Helper()
	compiled, err := CompileFunction(f)
	require.NoError(t, err)
	out, err := masm.NewEmulator(program).Run(compiled, args...)
	require.NoError(t, err)
	return out
}

func TestCompileFunction_SingleBlock(t *testing.T) {
	// A function with a single block and a ret terminator passes
	// validation and produces a corresponding single-procedure module.
	m := hir.NewModule("math", hir.ModuleLibrary)
	f := hir.NewFunction(hir.FunctionIdent{Module: "math", Function: "add3"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type), hir.Param(types.U32Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	sum := b.Add(params[0], params[1], hir.OverflowWrapping)
	total := b.Add(sum, params[2], hir.OverflowWrapping)
	b.Ret(total)
	require.NoError(t, m.AddFunction(f))

	handler := diag.NewHandler(diag.Config{}, nil, nil)
	require.NoError(t, analysis.ValidateModule(m, handler))

	compiled, err := CompileModule(m)
	require.NoError(t, err)
	require.Len(t, compiled.Functions(), 1)
	require.Equal(t, "add3", compiled.Functions()[0].Name.Name)

	out := run(t, f, nil, 10, 20, 12)
	require.Equal(t, []masm.Felt{42}, out)
}

func TestCompileFunction_OverflowVariants(t *testing.T) {
	build := func(overflow hir.Overflow) *hir.Function {
		f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
			hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type), hir.Param(types.U32Type)},
				[]hir.AbiParam{hir.Param(types.U32Type)}))
		b := hir.NewBuilder(f)
		params := f.DFG.BlockParams(f.DFG.EntryBlock())
		sum := b.Add(params[0], params[1], overflow)
		b.Ret(sum)
		return f
	}

	// Wrapping add wraps at 2^32.
	out := run(t, build(hir.OverflowWrapping), nil, 0xffffffff, 1)
	require.Equal(t, []masm.Felt{0}, out)

	// Checked add rejects overflow.
	compiled, err := CompileFunction(build(hir.OverflowChecked))
	require.NoError(t, err)
	_, err = masm.NewEmulator(nil).Run(compiled, 0xffffffff, 1)
	require.Error(t, err)
}

func TestCompileFunction_ShlByOneRewrittenToMulByTwo(t *testing.T) {
	// End to end: `x << 1` is rewritten to `x * 2` with wrapping
	// semantics, then lowered and executed.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "double"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	one := b.ConstU32(1)
	shifted := b.Shl(param, one)
	b.Ret(shifted)

	mgr := pass.NewManager()
	driver := &transform.GreedyRewriteDriver{Patterns: transform.CanonicalizationPatterns()}
	require.NoError(t, driver.Apply(f, mgr, nil))
	mgr.Invalidate(f.Key())
	require.NoError(t, transform.DeadCodeElimination{}.Apply(f, mgr, nil))

	compiled, err := CompileFunction(f)
	require.NoError(t, err)
	// The rewritten body multiplies: no shift remains.
	var rendered strings.Builder
	for i := range compiled.Body {
		require.NoError(t, compiled.Body[i].WriteTo(&rendered, 0))
	}
	require.Contains(t, rendered.String(), "u32.wrapping.mul")
	require.NotContains(t, rendered.String(), "shl")

	out, err := masm.NewEmulator(nil).Run(compiled, 1)
	require.NoError(t, err)
	require.Equal(t, []masm.Felt{2}, out)

	out, err = masm.NewEmulator(nil).Run(compiled, 0x80000000)
	require.NoError(t, err)
	require.Equal(t, []masm.Felt{0}, out)
}

func TestCompileFunction_U64Sum(t *testing.T) {
	// A u64 sum exits with two field elements: low and high halves, low
	// nearest the top of the stack.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "sum64"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U64Type), hir.Param(types.U64Type)},
			[]hir.AbiParam{hir.Param(types.U64Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	sum := b.Add(params[0], params[1], hir.OverflowWrapping)
	b.Ret(sum)

	// x = u32::MAX, y = 1: the low halves carry into the high half.
	out := run(t, f, nil, 0xffffffff, 0, 1, 0)
	require.Equal(t, []masm.Felt{0, 1}, out)

	// No carry: 1 + 2.
	out = run(t, f, nil, 1, 0, 2, 0)
	require.Equal(t, []masm.Felt{3, 0}, out)

	// Wrap at 2^64.
	out = run(t, f, nil, 0xffffffff, 0xffffffff, 1, 0)
	require.Equal(t, []masm.Felt{0, 0}, out)
}

func TestCompileFunction_U64MulAndBitwise(t *testing.T) {
	build := func(op hir.Opcode) *hir.Function {
		f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
			hir.NewSignature([]hir.AbiParam{hir.Param(types.U64Type), hir.Param(types.U64Type)},
				[]hir.AbiParam{hir.Param(types.U64Type)}))
		b := hir.NewBuilder(f)
		params := f.DFG.BlockParams(f.DFG.EntryBlock())
		result := b.Binary(op, hir.OverflowWrapping, params[0], params[1])
		b.Ret(result)
		return f
	}

	// 0x1_0000_0001 * 3 = 0x3_0000_0003.
	out := run(t, build(hir.OpcodeMul), nil, 1, 1, 3, 0)
	require.Equal(t, []masm.Felt{3, 3}, out)

	// Bitwise ops operate limb-wise.
	out = run(t, build(hir.OpcodeBand), nil, 0xff00, 0xf0, 0x0ff0, 0xff)
	require.Equal(t, []masm.Felt{0x0f00, 0xf0}, out)
}

func TestCompileFunction_ConditionalControlFlow(t *testing.T) {
	// max(x, y) via condbr: exercises the dispatch loop and the transfer
	// of block arguments into parameter locals.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "max"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())

	exit := b.CreateBlock()
	result := b.AppendBlockParam(exit, types.U32Type)

	isGreater := b.Binary(hir.OpcodeGt, hir.OverflowUnchecked, params[0], params[1])
	b.CondBr(isGreater, exit, []hir.Value{params[0]}, exit, []hir.Value{params[1]})
	b.SwitchTo(exit)
	b.Ret(result)

	require.Equal(t, []masm.Felt{7}, run(t, f, nil, 7, 3))
	require.Equal(t, []masm.Felt{9}, run(t, f, nil, 2, 9))
	require.Equal(t, []masm.Felt{5}, run(t, f, nil, 5, 5))
}

func TestCompileFunction_LoopControlFlow(t *testing.T) {
	// Sum of 0..n via a loop block passing its own parameters back to
	// itself: arguments must be staged on the stack before any parameter
	// local is overwritten.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "triangle"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	n := f.DFG.BlockParams(f.DFG.EntryBlock())[0]

	loop := b.CreateBlock()
	i := b.AppendBlockParam(loop, types.U32Type)
	acc := b.AppendBlockParam(loop, types.U32Type)
	exit := b.CreateBlock()
	result := b.AppendBlockParam(exit, types.U32Type)

	zero := b.ConstU32(0)
	b.Br(loop, zero, zero)

	b.SwitchTo(loop)
	done := b.Binary(hir.OpcodeGt, hir.OverflowUnchecked, i, n)
	nextAcc := b.Add(acc, i, hir.OverflowWrapping)
	one := b.ConstU32(1)
	nextI := b.Add(i, one, hir.OverflowWrapping)
	b.CondBr(done, exit, []hir.Value{acc}, loop, []hir.Value{nextI, nextAcc})

	b.SwitchTo(exit)
	b.Ret(result)

	require.Equal(t, []masm.Felt{10}, run(t, f, nil, 4))
	require.Equal(t, []masm.Felt{0}, run(t, f, nil, 0))
	require.Equal(t, []masm.Felt{5050}, run(t, f, nil, 100))
}

func TestCompileFunction_MemoryOps(t *testing.T) {
	// Store then load through a byte-addressed pointer: the byte address
	// is translated to an element address.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "roundtrip"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.Ptr(types.U32Type)), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	b.Store(params[0], params[1])
	loaded := b.Load(params[0], types.U32Type)
	b.Ret(loaded)

	require.Equal(t, []masm.Felt{77}, run(t, f, nil, 64, 77))
}

func TestCompileFunction_U64Memory(t *testing.T) {
	// A u64 store occupies two consecutive elements.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "spill64"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.Ptr(types.U64Type)), hir.Param(types.U64Type)},
			[]hir.AbiParam{hir.Param(types.U64Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	b.Store(params[0], params[1])
	loaded := b.Load(params[0], types.U64Type)
	b.Ret(loaded)

	out := run(t, f, nil, 16, 0xaaaa, 0xbbbb)
	require.Equal(t, []masm.Felt{0xaaaa, 0xbbbb}, out)
}

func TestCompileFunction_SelectAndConversions(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "widen"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U64Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	wide := b.Zext(param, types.U64Type)
	b.Ret(wide)

	out := run(t, f, nil, 5)
	require.Equal(t, []masm.Felt{5, 0}, out)

	f = hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "narrow"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U64Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b = hir.NewBuilder(f)
	param = f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	narrow := b.Trunc(param, types.U32Type)
	b.Ret(narrow)

	out = run(t, f, nil, 0x1234, 0xdead)
	require.Equal(t, []masm.Felt{0x1234}, out)

	f = hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "pick"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type), hir.Param(types.U32Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b = hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	chosen := b.Select(params[0], params[1], params[2])
	b.Ret(chosen)

	require.Equal(t, []masm.Felt{11}, run(t, f, nil, 1, 11, 22))
	require.Equal(t, []masm.Felt{22}, run(t, f, nil, 0, 11, 22))
}

func TestCompileModule_CallsAcrossModules(t *testing.T) {
	lib := hir.NewModule("math", hir.ModuleLibrary)
	square := hir.NewFunction(hir.FunctionIdent{Module: "math", Function: "square"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(square)
	param := square.DFG.BlockParams(square.DFG.EntryBlock())[0]
	squared := b.Mul(param, param, hir.OverflowWrapping)
	b.Ret(squared)
	require.NoError(t, lib.AddFunction(square))

	app := hir.NewModule("app", hir.ModuleExecutable)
	main := hir.NewFunction(hir.FunctionIdent{Module: "app", Function: "main"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b = hir.NewBuilder(main)
	callee := hir.FunctionIdent{Module: "math", Function: "square"}
	main.DFG.ImportFunction(callee, square.Signature)
	arg := main.DFG.BlockParams(main.DFG.EntryBlock())[0]
	results := b.Call(callee, []types.Type{types.U32Type}, arg)
	b.Ret(results[0])
	require.NoError(t, app.AddFunction(main))

	entry := hir.FunctionIdent{Module: "app", Function: "main"}
	program, err := CompileProgram([]*hir.Module{lib, app}, &entry)
	require.NoError(t, err)
	require.True(t, program.HasEntrypoint())

	// The app module imports math, and the call resolves through the
	// import table in the textual form.
	appModule, ok := program.Module("app")
	require.True(t, ok)
	text := appModule.String()
	require.Contains(t, text, "use.math")
	require.Contains(t, text, "exec.math::square")

	// Execute main through the emulator, resolving the call via the
	// program.
	var mainFn *masm.Function
	for _, fn := range appModule.Functions() {
		if fn.Name.Name == "main" {
			mainFn = fn
		}
	}
	require.NotNil(t, mainFn)
	out, err := masm.NewEmulator(program).Run(mainFn, 9)
	require.NoError(t, err)
	require.Equal(t, []masm.Felt{81}, out)
}

func TestCompileFunction_ZeroSizedValues(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "unit"},
		hir.NewSignature(nil, nil))
	b := hir.NewBuilder(f)
	b.Ret()

	compiled, err := CompileFunction(f)
	require.NoError(t, err)
	require.Zero(t, compiled.NumLocals)
	out, err := masm.NewEmulator(nil).Run(compiled)
	require.NoError(t, err)
	require.Empty(t, out)
}
