package pass

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testEntity is a minimal AnalysisKey implementation.
type testEntity struct {
	key string
}

func (e *testEntity) Key() string { return e.key }

// baseAnalysis has no dependencies: it survives only when explicitly
// preserved.
type baseAnalysis struct {
	computations int
	value        int
}

func (a *baseAnalysis) Analyze(e *testEntity, _ *Manager) error {
	a.computations++
	a.value = 42
	return nil
}

func (a *baseAnalysis) IsInvalidated(_ *PreservedAnalyses) bool { return true }

// derivedAnalysis depends on baseAnalysis and survives when it does.
type derivedAnalysis struct {
	value int
}

func (a *derivedAnalysis) Analyze(e *testEntity, mgr *Manager) error {
	base, err := GetOrCompute[*baseAnalysis](mgr, e)
	if err != nil {
		return err
	}
	a.value = base.value + 1
	return nil
}

func (a *derivedAnalysis) IsInvalidated(preserved *PreservedAnalyses) bool {
	return !IsPreserved[*baseAnalysis](preserved)
}

// secondDerived depends on derivedAnalysis, exercising transitive
// promotion in the invalidation fixpoint.
type secondDerived struct {
	value int
}

func (a *secondDerived) Analyze(e *testEntity, mgr *Manager) error {
	derived, err := GetOrCompute[*derivedAnalysis](mgr, e)
	if err != nil {
		return err
	}
	a.value = derived.value + 1
	return nil
}

func (a *secondDerived) IsInvalidated(preserved *PreservedAnalyses) bool {
	return !IsPreserved[*derivedAnalysis](preserved)
}

func TestManager_CachesComputedAnalyses(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}

	a, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)
	require.Equal(t, 1, a.computations)

	// The second request hits the cache.
	b, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, b.computations)

	got, ok := Get[*baseAnalysis](mgr, "f")
	require.True(t, ok)
	require.Same(t, a, got)

	_, ok = Get[*baseAnalysis](mgr, "g")
	require.False(t, ok)
}

func TestManager_Expect(t *testing.T) {
	mgr := NewManager()
	require.Panics(t, func() { Expect[*baseAnalysis](mgr, "missing") })

	entity := &testEntity{key: "f"}
	a, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)
	require.Same(t, a, Expect[*baseAnalysis](mgr, "f"))
}

func TestManager_Take(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}
	a, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)

	taken, ok := Take[*baseAnalysis](mgr, "f")
	require.True(t, ok)
	require.Same(t, a, taken)

	_, ok = Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)

	// Ownership can be handed back.
	Insert(mgr, "f", taken)
	_, ok = Get[*baseAnalysis](mgr, "f")
	require.True(t, ok)
}

func TestManager_InvalidateEvictsByDefault(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}
	_, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)

	mgr.Invalidate("f")
	_, ok := Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)
}

func TestManager_MarkAllPreserved(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}
	_, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)

	mgr.MarkAllPreserved("f")
	mgr.Invalidate("f")
	_, ok := Get[*baseAnalysis](mgr, "f")
	require.True(t, ok)

	// The flag was consumed: the next invalidation evicts.
	mgr.Invalidate("f")
	_, ok = Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)
}

func TestManager_MarkNonePreservedOverridesExplicit(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}
	_, err := GetOrCompute[*baseAnalysis](mgr, entity)
	require.NoError(t, err)

	MarkPreserved[*baseAnalysis](mgr, "f")
	mgr.MarkNonePreserved("f")
	mgr.Invalidate("f")
	_, ok := Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)
}

func TestManager_PreservationFixpoint(t *testing.T) {
	mgr := NewManager()
	entity := &testEntity{key: "f"}

	// Compute the full chain: second -> derived -> base.
	_, err := GetOrCompute[*secondDerived](mgr, entity)
	require.NoError(t, err)

	// Preserving only the base rescues the whole chain: derived survives
	// because base is preserved, and second survives because derived was
	// promoted during the fixpoint.
	MarkPreserved[*baseAnalysis](mgr, "f")
	mgr.Invalidate("f")

	_, ok := Get[*baseAnalysis](mgr, "f")
	require.True(t, ok)
	_, ok = Get[*derivedAnalysis](mgr, "f")
	require.True(t, ok)
	_, ok = Get[*secondDerived](mgr, "f")
	require.True(t, ok)

	// With nothing preserved, the chain is evicted.
	mgr.Invalidate("f")
	_, ok = Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)
	_, ok = Get[*derivedAnalysis](mgr, "f")
	require.False(t, ok)
	_, ok = Get[*secondDerived](mgr, "f")
	require.False(t, ok)
}

func TestManager_OtherEntitiesAlwaysPreserved(t *testing.T) {
	mgr := NewManager()
	f := &testEntity{key: "f"}
	g := &testEntity{key: "g"}
	_, err := GetOrCompute[*baseAnalysis](mgr, f)
	require.NoError(t, err)
	_, err = GetOrCompute[*baseAnalysis](mgr, g)
	require.NoError(t, err)

	mgr.Invalidate("f")
	_, ok := Get[*baseAnalysis](mgr, "f")
	require.False(t, ok)
	_, ok = Get[*baseAnalysis](mgr, "g")
	require.True(t, ok)
}

func TestManager_GetOrDefault(t *testing.T) {
	mgr := NewManager()
	a := GetOrDefault[*baseAnalysis](mgr, "missing")
	require.NotNil(t, a)
	require.Zero(t, a.value)
}
