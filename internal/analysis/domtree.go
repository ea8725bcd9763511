package analysis

import (
	"github.com/0xpolygonmiden/midenc/internal/hir"
)

// RPO numbers are assigned as multiples of rpoStride to leave room for
// localized modifications of the dominator tree after it is computed.
const rpoStride = 4

// rpoSeen is a marker value used while computing the post-order.
const rpoSeen = 1

// domNode is the per-block state of the dominator tree.
type domNode struct {
	// rpoNumber is the block's position in a reverse post-order traversal
	// of the CFG, starting from 2*rpoStride at the entry. Monotonic but
	// not contiguous. Unreachable blocks keep 0.
	rpoNumber uint32
	// idom is the instruction at the end of the dominating block which
	// transfers control to this block; InstInvalid for the entry block
	// and unreachable blocks.
	idom hir.Inst
}

// DominatorTree answers dominance queries over the blocks of a function.
//
// It is computed with the Cooper-Harvey-Kennedy iterative algorithm over a
// reverse post-order of the CFG. The immediate dominator of a block is
// represented as an instruction rather than a block, since the identity of
// the branching edge must be preserved.
type DominatorTree struct {
	nodes []domNode
	// postorder caches the CFG post-order of reachable blocks.
	postorder []hir.Block
	valid     bool
}

// NewDominatorTree returns an empty, invalid tree; use Compute.
func NewDominatorTree() *DominatorTree {
	return &DominatorTree{}
}

// ComputeDominatorTree computes the dominator tree of `f` given its CFG.
func ComputeDominatorTree(f *hir.Function, cfg *ControlFlowGraph) *DominatorTree {
	domtree := NewDominatorTree()
	domtree.Compute(f, cfg)
	return domtree
}

// Clear resets the tree; all queries panic until the next Compute.
func (dt *DominatorTree) Clear() {
	dt.nodes = nil
	dt.postorder = dt.postorder[:0]
	dt.valid = false
}

// IsValid returns true if Compute has been called since the last Clear.
func (dt *DominatorTree) IsValid() bool { return dt.valid }

// Compute resets and rebuilds the post-order and dominator tree.
func (dt *DominatorTree) Compute(f *hir.Function, cfg *ControlFlowGraph) {
	if !cfg.IsValid() {
		panic("BUG: dominator tree computed from an invalid control flow graph")
	}
	dt.Clear()
	dt.computePostorder(f.DFG)
	dt.computeDomtree(f.DFG, cfg)
	dt.valid = true
}

func (dt *DominatorTree) assertValid() {
	if !dt.valid {
		panic("BUG: dominator tree queried before compute, or after clear")
	}
}

// IsReachable returns true if `b` is reachable from the entry block.
func (dt *DominatorTree) IsReachable(b hir.Block) bool {
	dt.assertValid()
	return dt.nodes[b].rpoNumber != 0
}

// CFGPostorder returns the cached post-order of reachable blocks. The slice
// is not updated when the CFG changes; it reflects the last Compute.
func (dt *DominatorTree) CFGPostorder() []hir.Block {
	dt.assertValid()
	return dt.postorder
}

// Idom returns the immediate dominator of `b`: the instruction which
// transfers control to it from the nearest dominating block. Returns
// ok=false for the entry block and unreachable blocks.
func (dt *DominatorTree) Idom(b hir.Block) (hir.Inst, bool) {
	dt.assertValid()
	idom := dt.nodes[b].idom
	return idom, idom.Valid()
}

// RPOCmpBlock compares two blocks by reverse post-order position, returning
// a negative, zero, or positive value as `a` sorts before, equal to, or
// after `b`.
func (dt *DominatorTree) RPOCmpBlock(a, b hir.Block) int {
	dt.assertValid()
	return dt.rpoCmpBlock(a, b)
}

func (dt *DominatorTree) rpoCmpBlock(a, b hir.Block) int {
	return int(dt.nodes[a].rpoNumber) - int(dt.nodes[b].rpoNumber)
}

// instCmp compares the positions of two instructions in the same block.
func instCmp(dfg *hir.DataFlowGraph, a, b hir.Inst) int {
	if a == b {
		return 0
	}
	for cur := dfg.NextInst(a); cur.Valid(); cur = dfg.NextInst(cur) {
		if cur == b {
			return -1
		}
	}
	return 1
}

// Dominates returns true if instruction `a` dominates instruction `b`, i.e.
// every control flow path from the entry to `b` passes through `a`. An
// instruction dominates itself. Dominance is ill-defined for unreachable
// blocks: the query returns false when either block is unreachable, unless
// both instructions share a block.
func (dt *DominatorTree) Dominates(dfg *hir.DataFlowGraph, a, b hir.Inst) bool {
	dt.assertValid()
	blockA, ok := dfg.InstBlock(a)
	if !ok {
		panic("BUG: instruction not in layout")
	}
	last, ok := dt.LastDominator(dfg, blockA, b)
	if !ok {
		return false
	}
	return instCmp(dfg, a, last) <= 0
}

// BlockDominates returns true if the parameters of `a` dominate instruction
// `b`, i.e. every path to `b` enters `a` first.
func (dt *DominatorTree) BlockDominates(dfg *hir.DataFlowGraph, a hir.Block, b hir.Inst) bool {
	dt.assertValid()
	blockB, ok := dfg.InstBlock(b)
	if !ok {
		panic("BUG: instruction not in layout")
	}
	if a == blockB {
		return true
	}
	_, ok = dt.LastDominator(dfg, a, b)
	return ok
}

// LastDominator finds the last instruction in block `a` that dominates
// instruction `b`, if any instruction in `a` does.
func (dt *DominatorTree) LastDominator(dfg *hir.DataFlowGraph, a hir.Block, b hir.Inst) (hir.Inst, bool) {
	dt.assertValid()
	blockB, ok := dfg.InstBlock(b)
	if !ok {
		panic("BUG: instruction not in layout")
	}
	instB := b
	rpoA := dt.nodes[a].rpoNumber
	// Run a finger up the dominator tree from b until we reach a.
	for rpoA < dt.nodes[blockB].rpoNumber {
		idom := dt.nodes[blockB].idom
		if !idom.Valid() {
			// a is unreachable; we climbed past the entry.
			return hir.InstInvalid, false
		}
		blockB, ok = dfg.InstBlock(idom)
		if !ok {
			panic("BUG: dominator instruction was removed from the layout")
		}
		instB = idom
	}
	if a != blockB {
		return hir.InstInvalid, false
	}
	return instB, true
}

// CommonDominator computes the nearest edge which dominates both `a` and
// `b`. Both blocks must be reachable.
func (dt *DominatorTree) CommonDominator(dfg *hir.DataFlowGraph, a, b BlockPredecessor) BlockPredecessor {
	for {
		switch cmp := dt.rpoCmpBlock(a.Block, b.Block); {
		case cmp < 0:
			// a comes earlier in the RPO; move b up.
			idom := dt.nodes[b.Block].idom
			if !idom.Valid() {
				panic("BUG: unreachable block passed to CommonDominator")
			}
			blk, _ := dfg.InstBlock(idom)
			b = BlockPredecessor{Block: blk, Inst: idom}
		case cmp > 0:
			idom := dt.nodes[a.Block].idom
			if !idom.Valid() {
				panic("BUG: unreachable block passed to CommonDominator")
			}
			blk, _ := dfg.InstBlock(idom)
			a = BlockPredecessor{Block: blk, Inst: idom}
		default:
			// Same block; the common dominator is the earlier instruction.
			if instCmp(dfg, a.Inst, b.Inst) < 0 {
				return a
			}
			return b
		}
	}
}

// computePostorder performs an iterative depth-first traversal of the CFG,
// recording the post-order of blocks reachable from the entry. During this
// phase rpoNumber holds 0 (unseen) or rpoSeen (on the stack).
func (dt *DominatorTree) computePostorder(dfg *hir.DataFlowGraph) {
	dt.nodes = make([]domNode, dfg.NumBlocks())
	for i := range dt.nodes {
		dt.nodes[i].idom = hir.InstInvalid
	}

	entry := dfg.EntryBlock()
	if !entry.Valid() {
		return
	}

	type visit struct {
		block hir.Block
		last  bool
	}
	stack := []visit{{block: entry}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.last {
			dt.postorder = append(dt.postorder, top.block)
			continue
		}
		if dt.nodes[top.block].rpoNumber != 0 {
			continue
		}
		dt.nodes[top.block].rpoNumber = rpoSeen
		stack = append(stack, visit{block: top.block, last: true})
		if last := dfg.LastInst(top.block); last.Valid() {
			info := dfg.AnalyzeBranch(last)
			switch info.Kind {
			case hir.BranchSingleDest:
				if dt.nodes[info.Dest].rpoNumber == 0 {
					stack = append(stack, visit{block: info.Dest})
				}
			case hir.BranchMultiDest:
				for _, entry := range info.JumpTable {
					if dt.nodes[entry.Destination].rpoNumber == 0 {
						stack = append(stack, visit{block: entry.Destination})
					}
				}
			}
		}
	}
}

// computeDomtree assigns RPO numbers and iterates immediate dominator
// estimates to a fixed point. Functions free of irreducible control flow
// converge after a single iteration.
func (dt *DominatorTree) computeDomtree(dfg *hir.DataFlowGraph, cfg *ControlFlowGraph) {
	if len(dt.postorder) == 0 {
		return
	}
	entry := dt.postorder[len(dt.postorder)-1]
	rest := dt.postorder[:len(dt.postorder)-1]

	// First pass: assign RPO numbers and initial idom estimates. Due to
	// the nature of the traversal, every block visited has at least one
	// predecessor that was already visited.
	dt.nodes[entry].rpoNumber = 2 * rpoStride
	for i := len(rest) - 1; i >= 0; i-- {
		b := rest[i]
		dt.nodes[b].idom = dt.computeIdom(dfg, cfg, b)
		dt.nodes[b].rpoNumber = uint32(len(rest)-i+2) * rpoStride
	}

	// Iterate to a fixed point.
	for changed := true; changed; {
		changed = false
		for i := len(rest) - 1; i >= 0; i-- {
			b := rest[i]
			idom := dt.computeIdom(dfg, cfg, b)
			if dt.nodes[b].idom != idom {
				dt.nodes[b].idom = idom
				changed = true
			}
		}
	}
}

// computeIdom computes the immediate dominator of `b` as the common
// dominator of its reachable, already-numbered predecessors.
func (dt *DominatorTree) computeIdom(dfg *hir.DataFlowGraph, cfg *ControlFlowGraph, b hir.Block) hir.Inst {
	var idom BlockPredecessor
	found := false
	for _, pred := range cfg.Predecessors(b) {
		if dt.nodes[pred.Block].rpoNumber <= rpoSeen {
			continue
		}
		if !found {
			idom, found = pred, true
			continue
		}
		idom = dt.CommonDominator(dfg, idom, pred)
	}
	if !found {
		panic("BUG: block has no reachable predecessor visited before it in the RPO")
	}
	return idom.Inst
}
