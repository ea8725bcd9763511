package analysis

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/hir"
)

func TestControlFlowGraph_EdgesAndEdgeIdentity(t *testing.T) {
	f, blocks := buildCFGFunc(t, 4, map[int][]int{0: {1, 2}, 1: {3}, 2: {3}})
	cfg := ComputeCFG(f)

	require.Equal(t, 2, cfg.NumSuccessors(blocks[0]))
	require.Equal(t, 0, cfg.NumPredecessors(blocks[0]))
	require.Equal(t, 2, cfg.NumPredecessors(blocks[3]))
	require.Equal(t, []hir.Block{blocks[1], blocks[2]}, cfg.Successors(blocks[0]))

	// Predecessor edges are identified by the branching instruction.
	preds := cfg.Predecessors(blocks[3])
	require.Len(t, preds, 2)
	for _, pred := range preds {
		require.Equal(t, pred.Inst, f.DFG.LastInst(pred.Block))
	}

	// blk1 is targeted only by the entry block's condbr, so it has a
	// single predecessor edge, keyed by that instruction.
	preds = cfg.Predecessors(blocks[1])
	require.Len(t, preds, 1)
	require.Equal(t, blocks[0], preds[0].Block)
}

func TestControlFlowGraph_RecomputeBlock(t *testing.T) {
	f, blocks := buildCFGFunc(t, 4, map[int][]int{0: {1}, 1: {2}, 2: {3}})
	cfg := ComputeCFG(f)

	snapshot := func(c *ControlFlowGraph) map[hir.Block][]hir.Block {
		m := make(map[hir.Block][]hir.Block)
		for _, b := range blocks {
			m[b] = c.Successors(b)
		}
		return m
	}
	before := snapshot(cfg)

	// Recomputing an unmodified block is the identity.
	cfg.RecomputeBlock(f.DFG, blocks[1])
	require.Empty(t, cmp.Diff(before, snapshot(cfg)))

	// Redirect blk1 to blk3, then recompute: the old edge must vanish.
	term := f.DFG.LastInst(blocks[1])
	f.DFG.RedirectBranch(term, 0, blocks[3])
	cfg.RecomputeBlock(f.DFG, blocks[1])

	require.Equal(t, []hir.Block{blocks[3]}, cfg.Successors(blocks[1]))
	require.Equal(t, 0, cfg.NumPredecessors(blocks[2]))
	require.Equal(t, 2, cfg.NumPredecessors(blocks[3]))
}

func TestControlFlowGraph_DetachBlock(t *testing.T) {
	f, blocks := buildCFGFunc(t, 3, map[int][]int{0: {1}, 1: {2}})
	cfg := ComputeCFG(f)

	cfg.DetachBlock(blocks[1])
	require.Equal(t, 0, cfg.NumSuccessors(blocks[1]))
	require.Equal(t, 0, cfg.NumPredecessors(blocks[2]))
	// Edges into the detached block are left for the caller to clean up
	// by recomputing its predecessors.
	require.Equal(t, 1, cfg.NumPredecessors(blocks[1]))
}

func TestControlFlowGraph_IdempotentRecompute(t *testing.T) {
	f, blocks := buildCFGFunc(t, 8, map[int][]int{
		0: {1}, 1: {2, 6}, 2: {3, 4}, 3: {5}, 4: {6}, 5: {4}, 6: {1, 7}, 7: {6},
	})
	cfg := ComputeCFG(f)
	snapshot := func(c *ControlFlowGraph) map[hir.Block][]BlockPredecessor {
		m := make(map[hir.Block][]BlockPredecessor)
		for _, b := range blocks {
			m[b] = c.Predecessors(b)
		}
		return m
	}
	before := snapshot(cfg)
	cfg.Compute(f.DFG)
	require.Empty(t, cmp.Diff(before, snapshot(cfg)))
}

func TestControlFlowGraph_InvalidStatePanics(t *testing.T) {
	f, blocks := buildCFGFunc(t, 2, map[int][]int{0: {1}})
	cfg := ComputeCFG(f)
	cfg.Clear()
	require.Panics(t, func() { cfg.RecomputeBlock(f.DFG, blocks[0]) })
	require.Panics(t, func() { cfg.DetachBlock(blocks[0]) })
}
