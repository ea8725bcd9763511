// Package transform implements the structural rewrites applied to the HIR:
// block inlining, dead code elimination, and pattern-based rewriting. Every
// transform is expressed as graph edits which preserve SSA invariants.
package transform

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
)

// InlineBlocks inlines superfluous blocks into their unique predecessor.
//
// A block is inlinable when it is the single successor of a block which is
// its single predecessor. Chains of such blocks may have been introduced by
// a less than optimal lowering to SSA form, or by critical edge splitting
// where no code ended up on the split edge. Inlining moves the successor's
// instructions into the predecessor just before its terminator, removes the
// branch, and rewrites uses of the successor's parameters to the values the
// branch passed for them.
type InlineBlocks struct{}

// Name implements pass.RewritePass.
func (InlineBlocks) Name() string { return "inline-blocks" }

// Apply implements pass.RewritePass.
func (InlineBlocks) Apply(f *hir.Function, mgr *pass.Manager, _ *diag.Handler) error {
	var cfg *analysis.ControlFlowGraph
	if cached, ok := pass.Take[*analysis.CFGAnalysis](mgr, f.Key()); ok {
		cfg = cached.CFG
	} else {
		cfg = analysis.ComputeCFG(f)
	}

	dfg := f.DFG
	entry := dfg.EntryBlock()
	changed := false
	rewrites := make(map[hir.Value]hir.Value)
	visited := bitset.New(uint(dfg.NumBlocks()))
	worklist := []hir.Block{entry}

	// Search down the CFG for blocks with a single successor; these are the
	// possible roots of a chain of inlinable blocks.
	for len(worklist) > 0 {
		p := worklist[0]
		worklist = worklist[1:]
		if visited.Test(uint(p)) || dfg.IsBlockDetached(p) {
			continue
		}
		visited.Set(uint(p))

		// A block is a root of inlining iff it has exactly one successor;
		// whether inlining proceeds depends on that successor having no
		// other predecessors.
		if cfg.NumSuccessors(p) > 1 {
			worklist = append(worklist, cfg.Successors(p)...)
			continue
		}

		// Inline successors into `p` until the inlined terminator returns,
		// has multiple successors, or branches to a shared block.
		for {
			last := dfg.LastInst(p)
			if !last.Valid() {
				break
			}
			info := dfg.AnalyzeBranch(last)
			if info.Kind != hir.BranchSingleDest {
				if info.Kind == hir.BranchMultiDest {
					worklist = append(worklist, cfg.Successors(p)...)
				}
				break
			}
			b := info.Dest
			if cfg.NumPredecessors(b) > 1 {
				worklist = append(worklist, b)
				break
			}
			if b == p {
				// A self loop can never be inlined.
				break
			}

			// Record the mapping from the successor's parameters to the
			// branch arguments, so downstream uses can be rewritten.
			params := dfg.BlockParams(b)
			for i, param := range params {
				rewrites[param] = resolveRewrite(rewrites, info.Args[i])
			}

			inline(dfg, b, p, rewrites)
			cfg.DetachBlock(b)
			cfg.RecomputeBlock(dfg, p)
			changed = true
		}
	}

	if changed {
		rewriteUses(dfg, entry, rewrites)
	}

	pass.Insert(mgr, f.Key(), &analysis.CFGAnalysis{CFG: cfg})
	pass.MarkPreserved[*analysis.CFGAnalysis](mgr, f.Key())
	return nil
}

// resolveRewrite follows chains of rewrites so that a parameter passed along
// a chain of inlined blocks maps to the original value.
func resolveRewrite(rewrites map[hir.Value]hir.Value, v hir.Value) hir.Value {
	for {
		next, ok := rewrites[v]
		if !ok {
			return v
		}
		v = next
	}
}

// inline moves all instructions of `from` into `to`, replacing `to`'s
// terminator, and detaches `from` from the layout.
func inline(dfg *hir.DataFlowGraph, from, to hir.Block, rewrites map[hir.Value]hir.Value) {
	if from == to {
		panic("BUG: cannot inline a block into itself")
	}
	// Remove the branch into `from`.
	dfg.RemoveInst(dfg.LastInst(to))
	// Move each instruction, applying rewrites as we go.
	for {
		inst := dfg.FirstInst(from)
		if !inst.Valid() {
			break
		}
		dfg.RemoveInst(inst)
		applyRewrites(dfg, inst, rewrites)
		dfg.AppendInst(to, inst)
	}
	dfg.DetachBlock(from)
}

// rewriteUses walks every block reachable from `root` and rewrites operands
// and branch arguments according to `rewrites`.
func rewriteUses(dfg *hir.DataFlowGraph, root hir.Block, rewrites map[hir.Value]hir.Value) {
	visited := bitset.New(uint(dfg.NumBlocks()))
	worklist := []hir.Block{root}
	for len(worklist) > 0 {
		b := worklist[0]
		worklist = worklist[1:]
		if visited.Test(uint(b)) {
			continue
		}
		visited.Set(uint(b))
		for _, inst := range dfg.BlockInsts(b) {
			applyRewrites(dfg, inst, rewrites)
			info := dfg.AnalyzeBranch(inst)
			switch info.Kind {
			case hir.BranchSingleDest:
				worklist = append(worklist, info.Dest)
			case hir.BranchMultiDest:
				for _, entry := range info.JumpTable {
					worklist = append(worklist, entry.Destination)
				}
			}
		}
	}
}

func applyRewrites(dfg *hir.DataFlowGraph, inst hir.Inst, rewrites map[hir.Value]hir.Value) {
	for i, arg := range dfg.InstArgs(inst) {
		if to, ok := rewrites[arg]; ok {
			dfg.ReplaceInstArg(inst, i, resolveRewrite(rewrites, to))
		}
	}
	for succ, dest := range dfg.InstDests(inst) {
		for i, arg := range dfg.ValueLists.Slice(dest.Args) {
			if to, ok := rewrites[arg]; ok {
				dfg.ReplaceBranchArg(inst, succ, i, resolveRewrite(rewrites, to))
			}
		}
	}
}
