package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// buildCFGFunc constructs a function whose control flow matches `edges`:
// block 0 is the entry, and a block with two successors branches on its own
// boolean parameter (threaded through every block for simplicity).
func buildCFGFunc(t *testing.T, numBlocks int, edges map[int][]int) (*hir.Function, []hir.Block) {
	t.Helper()
	f := hir.NewFunction(hir.FunctionIdent{Module: "test", Function: "cfg"},
		hir.NewSignature([]hir.AbiParam{hir.Param(types.I1Type)}, nil))
	b := hir.NewBuilder(f)
	cond := f.DFG.BlockParams(f.DFG.EntryBlock())[0]

	blocks := make([]hir.Block, numBlocks)
	blocks[0] = f.DFG.EntryBlock()
	for i := 1; i < numBlocks; i++ {
		blocks[i] = b.CreateBlock()
	}
	for i := 0; i < numBlocks; i++ {
		b.SwitchTo(blocks[i])
		succs := edges[i]
		switch len(succs) {
		case 0:
			b.Ret()
		case 1:
			b.Br(blocks[succs[0]])
		case 2:
			b.CondBr(cond, blocks[succs[0]], nil, blocks[succs[1]], nil)
		default:
			arms := make([]uint32, len(succs)-1)
			dests := make([]hir.Block, len(succs)-1)
			selector := b.Cast(cond, types.U32Type)
			for j := 1; j < len(succs); j++ {
				arms[j-1] = uint32(j)
				dests[j-1] = blocks[succs[j]]
			}
			b.Switch(selector, arms, dests, blocks[succs[0]])
		}
	}
	return f, blocks
}

func TestDominatorTree(t *testing.T) {
	for _, tc := range []struct {
		name      string
		numBlocks int
		edges     map[int][]int
		// expDoms maps a block to the block enclosing its immediate
		// dominator instruction.
		expDoms map[int]int
	}{
		{
			name:      "linear",
			numBlocks: 3,
			// 0 -> 1 -> 2
			edges:   map[int][]int{0: {1}, 1: {2}},
			expDoms: map[int]int{1: 0, 2: 1},
		},
		{
			name:      "diamond",
			numBlocks: 4,
			//   0
			//  / \
			// 1   2
			//  \ /
			//   3
			edges:   map[int][]int{0: {1, 2}, 1: {3}, 2: {3}},
			expDoms: map[int]int{1: 0, 2: 0, 3: 0},
		},
		{
			name:      "loop with exit",
			numBlocks: 4,
			// 0 -> 1 <-> 2, 1 -> 3
			edges:   map[int][]int{0: {1}, 1: {2, 3}, 2: {1}},
			expDoms: map[int]int{1: 0, 2: 1, 3: 1},
		},
		{
			name:      "nested loops with branches",
			numBlocks: 8,
			//   0 --> 1 --> 2 --> 3
			//        ^     |     |
			//        |     v     v
			//        6 <-- 4 <-- 5
			//        ^
			//        |
			//        7
			edges: map[int][]int{
				0: {1},
				1: {2, 6},
				2: {3, 4},
				3: {5},
				4: {6},
				5: {4},
				6: {1, 7},
				7: {6},
			},
			expDoms: map[int]int{1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 6: 1, 7: 6},
		},
		{
			name:      "irreducible two-entry loop",
			numBlocks: 4,
			// 0 branches into both 1 and 2, which form a loop; the
			// iterative algorithm requires a second round to stabilize.
			edges: map[int][]int{
				0: {1, 2},
				1: {2, 3},
				2: {1},
			},
			expDoms: map[int]int{1: 0, 2: 0, 3: 1},
		},
		{
			name:      "unreachable blocks",
			numBlocks: 4,
			// 3 is unreachable.
			edges:   map[int][]int{0: {1}, 1: {2}, 3: {1}},
			expDoms: map[int]int{1: 0, 2: 1},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, blocks := buildCFGFunc(t, tc.numBlocks, tc.edges)
			cfg := ComputeCFG(f)
			domtree := ComputeDominatorTree(f, cfg)

			for i, b := range blocks {
				idom, ok := domtree.Idom(b)
				want, reachableNonEntry := tc.expDoms[i]
				if !reachableNonEntry {
					require.False(t, ok, "blk%d should have no idom", i)
					continue
				}
				require.True(t, ok, "blk%d should have an idom", i)
				idomBlock, attached := f.DFG.InstBlock(idom)
				require.True(t, attached)
				require.Equal(t, blocks[want], idomBlock,
					"idom of blk%d should be in blk%d, got %s", i, want, idomBlock)
			}
		})
	}
}

func TestDominatorTree_Queries(t *testing.T) {
	// 0 -> 1 -> 2, with 0 -> 2 as well.
	f, blocks := buildCFGFunc(t, 3, map[int][]int{0: {1, 2}, 1: {2}})
	cfg := ComputeCFG(f)
	domtree := ComputeDominatorTree(f, cfg)

	entryTerm := f.DFG.LastInst(blocks[0])
	blk1Term := f.DFG.LastInst(blocks[1])
	blk2Term := f.DFG.LastInst(blocks[2])

	// The entry terminator dominates everything; blk1 does not dominate
	// blk2, since control may bypass it.
	require.True(t, domtree.Dominates(f.DFG, entryTerm, blk1Term))
	require.True(t, domtree.Dominates(f.DFG, entryTerm, blk2Term))
	require.False(t, domtree.Dominates(f.DFG, blk1Term, blk2Term))
	// An instruction dominates itself.
	require.True(t, domtree.Dominates(f.DFG, blk1Term, blk1Term))

	require.True(t, domtree.IsReachable(blocks[2]))

	// Queries on a cleared tree are programmer errors.
	domtree.Clear()
	require.Panics(t, func() { domtree.Idom(blocks[1]) })
	require.Panics(t, func() { domtree.IsReachable(blocks[1]) })
}

func TestDominatorTree_IdempotentRecompute(t *testing.T) {
	f, blocks := buildCFGFunc(t, 8, map[int][]int{
		0: {1}, 1: {2, 6}, 2: {3, 4}, 3: {5}, 4: {6}, 5: {4}, 6: {1, 7}, 7: {6},
	})
	cfg := ComputeCFG(f)
	domtree := ComputeDominatorTree(f, cfg)

	type snapshot struct {
		idoms     map[hir.Block]hir.Inst
		postorder []hir.Block
	}
	capture := func(dt *DominatorTree) snapshot {
		s := snapshot{idoms: make(map[hir.Block]hir.Inst)}
		for _, b := range blocks {
			if idom, ok := dt.Idom(b); ok {
				s.idoms[b] = idom
			}
		}
		s.postorder = append(s.postorder, dt.CFGPostorder()...)
		return s
	}

	before := capture(domtree)
	domtree.Compute(f, cfg)
	after := capture(domtree)
	require.Equal(t, before, after)
}
