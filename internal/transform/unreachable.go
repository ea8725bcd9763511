package transform

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
)

// UnreachableBlocks erases blocks which cannot be reached from the entry
// block. Before a block is detached, its instructions are removed so that
// no dangling uses of values defined elsewhere remain.
type UnreachableBlocks struct{}

// Name implements pass.RewritePass.
func (UnreachableBlocks) Name() string { return "unreachable-blocks" }

// Apply implements pass.RewritePass.
func (UnreachableBlocks) Apply(f *hir.Function, mgr *pass.Manager, _ *diag.Handler) error {
	dfg := f.DFG
	reachable := bitset.New(uint(dfg.NumBlocks()))
	worklist := []hir.Block{dfg.EntryBlock()}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if reachable.Test(uint(b)) {
			continue
		}
		reachable.Set(uint(b))
		last := dfg.LastInst(b)
		if !last.Valid() {
			continue
		}
		info := dfg.AnalyzeBranch(last)
		switch info.Kind {
		case hir.BranchSingleDest:
			worklist = append(worklist, info.Dest)
		case hir.BranchMultiDest:
			for _, entry := range info.JumpTable {
				worklist = append(worklist, entry.Destination)
			}
		}
	}

	changed := false
	for _, b := range dfg.Blocks() {
		if reachable.Test(uint(b)) {
			continue
		}
		// Drop all uses held by the block's instructions first, so nothing
		// dangles once the block is detached.
		for {
			inst := dfg.FirstInst(b)
			if !inst.Valid() {
				break
			}
			dfg.RemoveInst(inst)
		}
		dfg.DetachBlock(b)
		changed = true
	}

	if !changed {
		mgr.MarkAllPreserved(f.Key())
	}
	return nil
}
