package analysis

import (
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
)

// CFGAnalysis caches a function's control flow graph in the analysis manager.
type CFGAnalysis struct {
	CFG *ControlFlowGraph
}

// Analyze implements pass.AnalysisOf.
func (a *CFGAnalysis) Analyze(f *hir.Function, _ *pass.Manager) error {
	a.CFG = ComputeCFG(f)
	return nil
}

// IsInvalidated implements pass.Analysis. The CFG has no dependencies, so it
// survives only when explicitly preserved.
func (a *CFGAnalysis) IsInvalidated(_ *pass.PreservedAnalyses) bool {
	return true
}

// DominatorTreeAnalysis caches a function's dominator tree.
type DominatorTreeAnalysis struct {
	Domtree *DominatorTree
}

// Analyze implements pass.AnalysisOf.
func (a *DominatorTreeAnalysis) Analyze(f *hir.Function, mgr *pass.Manager) error {
	cfg, err := pass.GetOrCompute[*CFGAnalysis](mgr, f)
	if err != nil {
		return err
	}
	a.Domtree = ComputeDominatorTree(f, cfg.CFG)
	return nil
}

// IsInvalidated implements pass.Analysis. The dominator tree is derived
// solely from the CFG, so it survives whenever the CFG does.
func (a *DominatorTreeAnalysis) IsInvalidated(preserved *pass.PreservedAnalyses) bool {
	return !pass.IsPreserved[*CFGAnalysis](preserved)
}

// DefUseAnalysis caches a function's def-use graph.
type DefUseAnalysis struct {
	DefUse *DefUseGraph
}

// Analyze implements pass.AnalysisOf.
func (a *DefUseAnalysis) Analyze(f *hir.Function, mgr *pass.Manager) error {
	domtree, err := pass.GetOrCompute[*DominatorTreeAnalysis](mgr, f)
	if err != nil {
		return err
	}
	a.DefUse = ComputeDefUse(f, domtree.Domtree)
	return nil
}

// IsInvalidated implements pass.Analysis. The def-use graph survives
// whenever the dominator tree does: both reflect only the graph structure,
// which a pass preserving the dominator tree cannot have changed.
func (a *DefUseAnalysis) IsInvalidated(preserved *pass.PreservedAnalyses) bool {
	return !pass.IsPreserved[*DominatorTreeAnalysis](preserved)
}
