package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

func computeAll(t *testing.T, f *hir.Function) (*ControlFlowGraph, *DominatorTree, *DefUseGraph) {
	t.Helper()
	cfg := ComputeCFG(f)
	domtree := ComputeDominatorTree(f, cfg)
	return cfg, domtree, ComputeDefUse(f, domtree)
}

func TestDefUse_UsersMatchOperands(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	sum := b.Add(params[0], params[1], hir.OverflowWrapping)
	product := b.Mul(sum, params[0], hir.OverflowWrapping)
	b.Ret(product)

	_, _, defuse := computeAll(t, f)

	// Every recorded user has the value among its operands or branch
	// arguments, and vice versa.
	for _, v := range []hir.Value{params[0], params[1], sum, product} {
		for _, u := range defuse.Users(v) {
			found := false
			for _, arg := range f.DFG.InstArgs(u.Inst) {
				if arg == v {
					found = true
				}
			}
			for _, dest := range f.DFG.InstDests(u.Inst) {
				for _, arg := range f.DFG.ValueLists.Slice(dest.Args) {
					if arg == v {
						found = true
					}
				}
			}
			require.True(t, found, "user of %s does not reference it", v)
		}
	}

	require.Len(t, defuse.Users(params[0]), 2)
	require.Len(t, defuse.Users(sum), 1)
	require.Len(t, defuse.Users(product), 1)
}

func TestDefUse_IsUsedFlips(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	unused := b.ConstU32(7)
	b.Ret(param)

	_, domtree, defuse := computeAll(t, f)
	require.False(t, defuse.IsUsed(unused))
	require.True(t, defuse.IsUsed(param))

	// Inserting a use flips the flag; removing it flips it back.
	ret := f.DFG.LastInst(f.DFG.EntryBlock())
	f.DFG.ReplaceInstArg(ret, 0, unused)
	defuse = ComputeDefUse(f, domtree)
	require.True(t, defuse.IsUsed(unused))
	require.False(t, defuse.IsUsed(param))

	f.DFG.ReplaceInstArg(ret, 0, param)
	defuse = ComputeDefUse(f, domtree)
	require.False(t, defuse.IsUsed(unused))
}

func TestDefUse_BlockArgumentUses(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())

	exit := b.CreateBlock()
	result := b.AppendBlockParam(exit, types.U32Type)
	then := b.CreateBlock()
	els := b.CreateBlock()

	b.CondBr(params[0], then, nil, els, nil)
	b.SwitchTo(then)
	b.Br(exit, params[1])
	b.SwitchTo(els)
	zero := b.ConstU32(0)
	b.Br(exit, zero)
	b.SwitchTo(exit)
	b.Ret(result)

	_, _, defuse := computeAll(t, f)

	users := defuse.Users(params[1])
	require.Len(t, users, 1)
	require.Equal(t, UseBlockArgument, users[0].Kind)
	require.Equal(t, 0, users[0].Index)
	require.Equal(t, 0, users[0].Succ)
}

func TestDefUse_ReplaceUsesIn(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type), hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	params := f.DFG.BlockParams(f.DFG.EntryBlock())
	sum := b.Add(params[0], params[1], hir.OverflowWrapping)
	ret := b.Ret(sum)

	_, _, defuse := computeAll(t, f)
	defuse.ReplaceUsesIn(sum, params[0], ret, f.DFG)

	require.Equal(t, []hir.Value{params[0]}, f.DFG.InstArgs(ret))
	require.False(t, defuse.IsUsed(sum))
	// The def-use graph reflects the replacement.
	found := false
	for _, u := range defuse.Users(params[0]) {
		if u.Inst == ret {
			found = true
		}
	}
	require.True(t, found)
}

func TestDefUse_NearestDominatingDefinition(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.U32Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	param := f.DFG.BlockParams(f.DFG.EntryBlock())[0]

	next := b.CreateBlock()
	sum := b.Add(param, param, hir.OverflowWrapping)
	b.Br(next)
	b.SwitchTo(next)
	ret := b.Ret(sum)

	_, domtree, defuse := computeAll(t, f)

	// The definition lives in the immediate dominator's block.
	found, err := defuse.NearestDominatingDefinition(ret, sum, f.DFG, domtree)
	require.NoError(t, err)
	require.Equal(t, sum, found)

	// A parameter of the containing block is found directly.
	found, err = defuse.NearestDominatingDefinition(f.DFG.LastInst(f.DFG.EntryBlock()), param, f.DFG, domtree)
	require.NoError(t, err)
	require.Equal(t, param, found)
}

func TestDefUse_MissingPhiSignal(t *testing.T) {
	// Two arms each define a value; the join block uses one of them
	// without a block parameter. The lookup must report the missing phi
	// as a recoverable signal, not a panic.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "f"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type)},
			[]hir.AbiParam{hir.Param(types.U32Type)}))
	b := hir.NewBuilder(f)
	cond := f.DFG.BlockParams(f.DFG.EntryBlock())[0]

	then := b.CreateBlock()
	els := b.CreateBlock()
	join := b.CreateBlock()

	b.CondBr(cond, then, nil, els, nil)
	b.SwitchTo(then)
	thenVal := b.ConstU32(1)
	b.Br(join)
	b.SwitchTo(els)
	b.ConstU32(2)
	b.Br(join)
	b.SwitchTo(join)
	ret := b.Ret(thenVal) // not dominated: requires a phi

	cfg := ComputeCFG(f)
	domtree := ComputeDominatorTree(f, cfg)
	defuse := &DefUseGraph{users: map[hir.Value][]User{}}

	_, err := defuse.NearestDominatingDefinition(ret, thenVal, f.DFG, domtree)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingPhi))
}
