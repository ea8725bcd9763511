package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

func TestInlineBlocks_Chain(t *testing.T) {
	// An eight-block CFG in which blocks 2, 3, and 5 each have exactly
	// one predecessor and one successor:
	//
	//   0 -> 1 -> 2 -> 3 -> 4 -> 5 -> 6 -> 7
	//   |                   ^         ^
	//   +-------------------+         | (6 loops on itself)
	//
	// Block 4 is a join of 0 and 3, and block 6 loops on itself before
	// exiting to 7, so 2 and 3 collapse into 1, and 5 collapses into 4.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "chain"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type), hir.Param(types.U32Type)}, nil))
	b := hir.NewBuilder(f)
	entryParams := f.DFG.BlockParams(f.DFG.EntryBlock())

	blocks := make([]hir.Block, 8)
	blocks[0] = f.DFG.EntryBlock()
	for i := 1; i < 8; i++ {
		blocks[i] = b.CreateBlock()
	}
	// Block 2 carries a parameter, which inlining must resolve to the
	// argument passed by block 1.
	blk2Param := b.AppendBlockParam(blocks[2], types.U32Type)

	b.CondBr(entryParams[0], blocks[1], nil, blocks[4], nil)
	b.SwitchTo(blocks[1])
	doubled := b.Add(entryParams[1], entryParams[1], hir.OverflowWrapping)
	b.Br(blocks[2], doubled)
	b.SwitchTo(blocks[2])
	squared := b.Mul(blk2Param, blk2Param, hir.OverflowWrapping)
	b.Br(blocks[3])
	b.SwitchTo(blocks[3])
	b.Add(squared, squared, hir.OverflowWrapping)
	b.Br(blocks[4])
	b.SwitchTo(blocks[4])
	b.Br(blocks[5])
	b.SwitchTo(blocks[5])
	b.Br(blocks[6])
	b.SwitchTo(blocks[6])
	b.CondBr(entryParams[0], blocks[6], nil, blocks[7], nil)
	b.SwitchTo(blocks[7])
	b.Ret()

	mgr := pass.NewManager()
	require.NoError(t, InlineBlocks{}.Apply(f, mgr, nil))

	remaining := f.DFG.Blocks()
	for _, gone := range []hir.Block{blocks[2], blocks[3], blocks[5]} {
		require.NotContains(t, remaining, gone, "block should have been inlined")
		require.True(t, f.DFG.IsBlockDetached(gone))
	}
	// Block 1 absorbed 2 and 3; block 4 absorbed 5.
	require.Contains(t, remaining, blocks[1])
	require.Contains(t, remaining, blocks[4])
	require.Contains(t, remaining, blocks[6])
	require.Contains(t, remaining, blocks[7])

	// The inlined instructions now live in block 1, with the block-2
	// parameter rewritten to the branch argument.
	insts := f.DFG.BlockInsts(blocks[1])
	require.Len(t, insts, 4) // add, mul, add, br
	mul := insts[1]
	require.Equal(t, hir.OpcodeMul, f.DFG.InstOpcode(mul))
	require.Equal(t, []hir.Value{doubled, doubled}, f.DFG.InstArgs(mul))

	// Single-pred/single-succ edges strictly decreased, and the CFG is
	// consistent under recomputation.
	cached, ok := pass.Get[*analysis.CFGAnalysis](mgr, f.Key())
	require.True(t, ok)
	fresh := analysis.ComputeCFG(f)
	for _, blk := range remaining {
		require.Equal(t, fresh.NumPredecessors(blk), cached.CFG.NumPredecessors(blk))
		require.Equal(t, fresh.Successors(blk), cached.CFG.Successors(blk))
	}
}

func TestInlineBlocks_NoChangeMarksPreserved(t *testing.T) {
	// A diamond has no inlinable edges.
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "diamond"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type)}, nil))
	b := hir.NewBuilder(f)
	cond := f.DFG.BlockParams(f.DFG.EntryBlock())[0]
	then := b.CreateBlock()
	els := b.CreateBlock()
	join := b.CreateBlock()
	b.CondBr(cond, then, nil, els, nil)
	b.SwitchTo(then)
	b.Br(join)
	b.SwitchTo(els)
	b.Br(join)
	b.SwitchTo(join)
	b.Ret()

	before := len(f.DFG.Blocks())
	mgr := pass.NewManager()
	require.NoError(t, InlineBlocks{}.Apply(f, mgr, nil))
	require.Len(t, f.DFG.Blocks(), before)
}

func TestInlineBlocks_SelfLoopIsNotInlined(t *testing.T) {
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "spin"},
		hir.NewSignature(nil, nil))
	b := hir.NewBuilder(f)
	loop := b.CreateBlock()
	b.Br(loop)
	b.SwitchTo(loop)
	b.Br(loop)

	mgr := pass.NewManager()
	require.NoError(t, InlineBlocks{}.Apply(f, mgr, nil))
	require.Contains(t, f.DFG.Blocks(), loop)
}
