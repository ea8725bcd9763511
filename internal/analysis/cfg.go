// Package analysis provides the function-level analyses that underlie every
// transformation: the control flow graph, the dominator tree, the def-use
// graph, and the validation rule set.
package analysis

import (
	"sort"

	"github.com/0xpolygonmiden/midenc/internal/hir"
)

// BlockPredecessor identifies one incoming edge of a block: the instruction
// which transfers control, and the block enclosing that instruction.
//
// Predecessor edges are keyed by instruction rather than block, since a
// multi-way branch may target the same block more than once and the edges
// must remain distinguishable.
type BlockPredecessor struct {
	Block hir.Block
	Inst  hir.Inst
}

// cfgNode records the incoming and outgoing edges of one block.
type cfgNode struct {
	// predecessors maps each branching instruction to its enclosing block.
	predecessors map[hir.Inst]hir.Block
	// successors is the set of blocks targeted by this block's terminator.
	successors map[hir.Block]struct{}
}

// ControlFlowGraph maps every block in a function to its predecessors and
// successors.
type ControlFlowGraph struct {
	nodes []cfgNode
	valid bool
}

// NewControlFlowGraph returns an empty, invalid graph; use Compute to
// populate it.
func NewControlFlowGraph() *ControlFlowGraph {
	return &ControlFlowGraph{}
}

// ComputeCFG computes the control flow graph of `f`.
func ComputeCFG(f *hir.Function) *ControlFlowGraph {
	cfg := NewControlFlowGraph()
	cfg.Compute(f.DFG)
	return cfg
}

// Clear resets the graph to its initial, invalid state.
func (cfg *ControlFlowGraph) Clear() {
	cfg.nodes = nil
	cfg.valid = false
}

// IsValid returns true if Compute has been called since the last Clear. It
// does not check consistency with the function.
func (cfg *ControlFlowGraph) IsValid() bool { return cfg.valid }

// Compute resets and rebuilds the graph from `dfg`.
func (cfg *ControlFlowGraph) Compute(dfg *hir.DataFlowGraph) {
	cfg.Clear()
	cfg.ensure(dfg.NumBlocks())
	for _, b := range dfg.Blocks() {
		cfg.computeBlock(dfg, b)
	}
	cfg.valid = true
}

// RecomputeBlock rebuilds all outgoing edges of `b` after its instructions
// were modified, leaving edges into `b` intact.
func (cfg *ControlFlowGraph) RecomputeBlock(dfg *hir.DataFlowGraph, b hir.Block) {
	cfg.assertValid()
	cfg.ensure(dfg.NumBlocks())
	cfg.invalidateBlockSuccessors(b)
	cfg.computeBlock(dfg, b)
}

// DetachBlock removes all outgoing edges of `b` as if it had been deleted,
// leaving edges into `b` intact. Callers are expected to RecomputeBlock the
// predecessors of a removed block to finish the cleanup.
func (cfg *ControlFlowGraph) DetachBlock(b hir.Block) {
	cfg.assertValid()
	cfg.invalidateBlockSuccessors(b)
}

// NumPredecessors returns the number of incoming edges of `b`.
func (cfg *ControlFlowGraph) NumPredecessors(b hir.Block) int {
	return len(cfg.node(b).predecessors)
}

// NumSuccessors returns the number of distinct successor blocks of `b`.
func (cfg *ControlFlowGraph) NumSuccessors(b hir.Block) int {
	return len(cfg.node(b).successors)
}

// Predecessors returns the incoming edges of `b`, ordered by instruction
// handle for determinism.
func (cfg *ControlFlowGraph) Predecessors(b hir.Block) []BlockPredecessor {
	node := cfg.node(b)
	out := make([]BlockPredecessor, 0, len(node.predecessors))
	for inst, blk := range node.predecessors {
		out = append(out, BlockPredecessor{Block: blk, Inst: inst})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Inst < out[j].Inst })
	return out
}

// Successors returns the successor blocks of `b`, ordered by handle.
func (cfg *ControlFlowGraph) Successors(b hir.Block) []hir.Block {
	node := cfg.node(b)
	out := make([]hir.Block, 0, len(node.successors))
	for succ := range node.successors {
		out = append(out, succ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (cfg *ControlFlowGraph) assertValid() {
	if !cfg.valid {
		panic("BUG: control flow graph queried before compute, or after clear")
	}
}

func (cfg *ControlFlowGraph) ensure(n int) {
	for len(cfg.nodes) < n {
		cfg.nodes = append(cfg.nodes, cfgNode{
			predecessors: make(map[hir.Inst]hir.Block),
			successors:   make(map[hir.Block]struct{}),
		})
	}
}

func (cfg *ControlFlowGraph) node(b hir.Block) *cfgNode {
	return &cfg.nodes[b]
}

func (cfg *ControlFlowGraph) computeBlock(dfg *hir.DataFlowGraph, b hir.Block) {
	last := dfg.LastInst(b)
	if !last.Valid() {
		return
	}
	info := dfg.AnalyzeBranch(last)
	switch info.Kind {
	case hir.BranchNotABranch:
	case hir.BranchSingleDest:
		cfg.addEdge(b, last, info.Dest)
	case hir.BranchMultiDest:
		for _, entry := range info.JumpTable {
			cfg.addEdge(b, last, entry.Destination)
		}
	}
}

func (cfg *ControlFlowGraph) invalidateBlockSuccessors(b hir.Block) {
	node := cfg.node(b)
	for succ := range node.successors {
		preds := cfg.node(succ).predecessors
		for inst, from := range preds {
			if from == b {
				delete(preds, inst)
			}
		}
	}
	node.successors = make(map[hir.Block]struct{})
}

func (cfg *ControlFlowGraph) addEdge(from hir.Block, inst hir.Inst, to hir.Block) {
	cfg.node(from).successors[to] = struct{}{}
	cfg.node(to).predecessors[inst] = from
}
