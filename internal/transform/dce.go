package transform

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
)

// DeadCodeElimination removes instructions whose results are never used and
// which have no side effects, along with block parameters whose values are
// dead.
//
// Liveness is a fixpoint over a monotonically growing live set: a value is
// live if some live instruction uses it; an instruction is live if it is not
// trivially dead. Successor operands of a terminator are treated as virtual
// phi edges: what matters is the liveness of the corresponding block
// parameter, not of the branch itself, so a live branch does not by itself
// keep its arguments alive.
type DeadCodeElimination struct {
	// IsTriviallyDead overrides the default liveness seed predicate. When
	// nil, an instruction is trivially dead if it has no side effects.
	IsTriviallyDead func(dfg *hir.DataFlowGraph, inst hir.Inst) bool
}

// Name implements pass.RewritePass.
func (DeadCodeElimination) Name() string { return "dce" }

// liveMap tracks which values and instructions have been proved live. The
// set grows monotonically to a fixed point.
type liveMap struct {
	values  *bitset.BitSet
	insts   *bitset.BitSet
	changed bool
}

func (lm *liveMap) valueLive(v hir.Value) bool { return lm.values.Test(uint(v)) }
func (lm *liveMap) instLive(i hir.Inst) bool   { return lm.insts.Test(uint(i)) }

func (lm *liveMap) setValueLive(v hir.Value) {
	if !lm.values.Test(uint(v)) {
		lm.values.Set(uint(v))
		lm.changed = true
	}
}

func (lm *liveMap) setInstLive(i hir.Inst) {
	if !lm.insts.Test(uint(i)) {
		lm.insts.Set(uint(i))
		lm.changed = true
	}
}

// Apply implements pass.RewritePass.
func (p DeadCodeElimination) Apply(f *hir.Function, mgr *pass.Manager, _ *diag.Handler) error {
	dfg := f.DFG
	domtree, err := pass.GetOrCompute[*analysis.DominatorTreeAnalysis](mgr, f)
	if err != nil {
		return err
	}
	postorder := domtree.Domtree.CFGPostorder()

	isTriviallyDead := p.IsTriviallyDead
	if isTriviallyDead == nil {
		isTriviallyDead = func(dfg *hir.DataFlowGraph, inst hir.Inst) bool {
			return !dfg.InstOpcode(inst).HasSideEffects()
		}
	}

	lm := &liveMap{
		values: bitset.New(uint(dfg.NumValues())),
		insts:  bitset.New(uint(dfg.NumInsts())),
	}

	// Iterate liveness to a fixed point. Blocks are visited in post-order,
	// instructions after their uses where possible, to converge quickly.
	for {
		lm.changed = false
		for _, b := range postorder {
			for _, inst := range dfg.BlockInsts(b) {
				p.propagate(dfg, lm, inst, isTriviallyDead)
			}
			// Entry block parameters are preserved unconditionally: their
			// contract with the caller is unknown to this pass.
			if b == dfg.EntryBlock() {
				continue
			}
			for _, param := range dfg.BlockParams(b) {
				p.processValue(dfg, lm, param)
			}
		}
		if !lm.changed {
			break
		}
	}

	// Erase dead operations block by block in CFG post-order, each block's
	// from last to first, then dead block parameters together with the
	// branch arguments feeding them.
	erased := false
	for _, b := range postorder {
		insts := dfg.BlockInsts(b)
		for i := len(insts) - 1; i >= 0; i-- {
			inst := insts[i]
			if lm.instLive(inst) {
				continue
			}
			dfg.RemoveInst(inst)
			erased = true
		}
	}
	for _, b := range postorder {
		if b == dfg.EntryBlock() {
			continue
		}
		params := dfg.BlockParams(b)
		for i := len(params) - 1; i >= 0; i-- {
			if lm.valueLive(params[i]) {
				continue
			}
			removeBranchArgsTo(dfg, b, i)
			dfg.RemoveBlockParam(b, i)
			erased = true
		}
	}

	if !erased {
		mgr.MarkAllPreserved(f.Key())
	} else {
		// Only instructions, block parameters and branch arguments were
		// removed; the block graph is intact.
		pass.MarkPreserved[*analysis.CFGAnalysis](mgr, f.Key())
	}
	return nil
}

// propagate extends the live set through one instruction.
func (p DeadCodeElimination) propagate(
	dfg *hir.DataFlowGraph,
	lm *liveMap,
	inst hir.Inst,
	isTriviallyDead func(*hir.DataFlowGraph, hir.Inst) bool,
) {
	op := dfg.InstOpcode(inst)
	if op.IsTerminator() {
		// Terminators are always live, but their successor operands are
		// judged by the liveness of the corresponding block parameter.
		lm.setInstLive(inst)
		for _, dest := range dfg.InstDests(inst) {
			params := dfg.BlockParams(dest.Block)
			for i, arg := range dfg.ValueLists.Slice(dest.Args) {
				if i < len(params) && !lm.valueLive(params[i]) {
					continue
				}
				lm.setValueLive(arg)
			}
		}
		// Ordinary operands of a terminator (e.g. the branch condition or
		// returned values) are always live.
		for _, arg := range dfg.InstArgs(inst) {
			lm.setValueLive(arg)
		}
		return
	}

	if !lm.instLive(inst) {
		if !isTriviallyDead(dfg, inst) {
			lm.setInstLive(inst)
		}
	}
	if lm.instLive(inst) {
		for _, arg := range dfg.InstArgs(inst) {
			lm.setValueLive(arg)
		}
	}
	for _, result := range dfg.InstResults(inst) {
		p.processValue(dfg, lm, result)
	}
}

// processValue marks `v` live if any of its users is live, and propagates
// instruction liveness from live results.
func (p DeadCodeElimination) processValue(dfg *hir.DataFlowGraph, lm *liveMap, v hir.Value) {
	if !lm.valueLive(v) {
		return
	}
	if inst, _, ok := dfg.ValueDefInst(v); ok && !lm.instLive(inst) {
		lm.setInstLive(inst)
		for _, arg := range dfg.InstArgs(inst) {
			lm.setValueLive(arg)
		}
	}
}

// removeBranchArgsTo deletes the `index`-th branch argument from every
// predecessor edge into `b`.
func removeBranchArgsTo(dfg *hir.DataFlowGraph, b hir.Block, index int) {
	for _, pred := range dfg.Blocks() {
		last := dfg.LastInst(pred)
		if !last.Valid() {
			continue
		}
		for succ, dest := range dfg.InstDests(last) {
			if dest.Block != b {
				continue
			}
			args := dfg.ValueLists.Slice(dest.Args)
			if index >= len(args) {
				continue
			}
			removed := append(args[:index:index], args[index+1:]...)
			dfg.SetBranchArgs(last, succ, removed)
		}
	}
}
