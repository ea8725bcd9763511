package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/pass"
)

func TestAnalyses_ComputeChainThroughManager(t *testing.T) {
	f, _ := buildCFGFunc(t, 3, map[int][]int{0: {1}, 1: {2}})
	mgr := pass.NewManager()

	// Requesting the def-use graph computes and caches the whole chain.
	defuse, err := pass.GetOrCompute[*DefUseAnalysis](mgr, f)
	require.NoError(t, err)
	require.NotNil(t, defuse.DefUse)

	cfg, ok := pass.Get[*CFGAnalysis](mgr, f.Key())
	require.True(t, ok)
	require.True(t, cfg.CFG.IsValid())
	domtree, ok := pass.Get[*DominatorTreeAnalysis](mgr, f.Key())
	require.True(t, ok)
	require.True(t, domtree.Domtree.IsValid())
}

func TestAnalyses_PreservationIsSound(t *testing.T) {
	f, blocks := buildCFGFunc(t, 4, map[int][]int{0: {1, 2}, 1: {3}, 2: {3}})
	mgr := pass.NewManager()

	_, err := pass.GetOrCompute[*DefUseAnalysis](mgr, f)
	require.NoError(t, err)

	// A pass that does not touch the block graph preserves the CFG; the
	// dominator tree and def-use graph are promoted by the fixpoint.
	pass.MarkPreserved[*CFGAnalysis](mgr, f.Key())
	mgr.Invalidate(f.Key())

	cached, ok := pass.Get[*DominatorTreeAnalysis](mgr, f.Key())
	require.True(t, ok, "dominator tree should survive when the CFG is preserved")

	// Soundness: the preserved tree agrees with a recomputation.
	fresh := ComputeDominatorTree(f, ComputeCFG(f))
	for _, b := range blocks {
		freshIdom, freshOk := fresh.Idom(b)
		cachedIdom, cachedOk := cached.Domtree.Idom(b)
		require.Equal(t, freshOk, cachedOk)
		require.Equal(t, freshIdom, cachedIdom)
	}
}
