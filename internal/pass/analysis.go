// Package pass provides the analysis manager and the pass interfaces used to
// drive transformations over the IR.
//
// Analyses are cached under a composite key derived from the analysis type
// and the entity's own key; the entity's type is not part of the key. A
// pass that mutates an entity
// must either invalidate the entity's analyses or explicitly mark which ones
// it preserved; invalidation then runs a fixpoint in which analyses may
// survive if everything they depend on survived.
package pass

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

// AnalysisKey is implemented by compiler entities that analyses can be
// computed over. The key must uniquely identify the entity for the lifetime
// of the compilation; it need not reflect changes to the entity's contents.
type AnalysisKey interface {
	Key() string
}

// Analysis is a cached result computed over some entity.
type Analysis interface {
	// IsInvalidated reports whether this analysis must be discarded given
	// the set of analyses known to be preserved. The default behavior for
	// an analysis with no dependencies is to return true: everything is
	// invalidated unless a pass explicitly preserves it.
	IsInvalidated(preserved *PreservedAnalyses) bool
}

// AnalysisOf is an Analysis which knows how to compute itself over entities
// of type E. Implementations must be pointer types.
type AnalysisOf[E AnalysisKey] interface {
	Analysis
	// Analyze populates the receiver from `entity`. Other analyses may be
	// queried through `mgr`.
	Analyze(entity E, mgr *Manager) error
}

// cacheKey pairs the analysis type with the entity key. The entity's type
// is not recorded, so two entities with equal keys share cache entries.
type cacheKey struct {
	analysis reflect.Type
	entity   string
}

func keyOf[A Analysis](entity string) cacheKey {
	var zero A
	return cacheKey{analysis: reflect.TypeOf(zero), entity: entity}
}

// preservationMode is the per-entity preservation flag, reset at each
// invalidation cycle.
type preservationMode uint8

const (
	preserveSpecific preservationMode = iota
	preserveNone
	preserveAll
)

// PreservedAnalyses is the set of analyses retained across an invalidation
// cycle, handed to each surviving candidate's IsInvalidated.
type PreservedAnalyses struct {
	entityKey string
	preserved map[cacheKey]Analysis
}

// IsPreserved reports whether the analysis of type A is preserved for the
// entity under invalidation.
func IsPreserved[A Analysis](p *PreservedAnalyses) bool {
	_, ok := p.preserved[keyOf[A](p.entityKey)]
	return ok
}

// Manager caches analyses and coordinates their invalidation.
type Manager struct {
	cached map[cacheKey]Analysis
	// preserve is the set of analyses explicitly marked preserved since
	// the last invalidation.
	preserve map[cacheKey]struct{}
	// modes records entities that had mark-all or mark-none set.
	modes map[string]preservationMode
	log   *logrus.Entry
}

// NewManager returns an empty analysis manager.
func NewManager() *Manager {
	return &Manager{
		cached:   make(map[cacheKey]Analysis),
		preserve: make(map[cacheKey]struct{}),
		modes:    make(map[string]preservationMode),
		log:      logrus.WithField("component", "analysis-manager"),
	}
}

// Get returns the cached analysis of type A for the entity with `key`, if
// available.
func Get[A Analysis](m *Manager, key string) (A, bool) {
	a, ok := m.cached[keyOf[A](key)]
	if !ok {
		var zero A
		return zero, false
	}
	return a.(A), true
}

// Expect returns the cached analysis of type A, panicking on a miss. Use it
// only where the pass pipeline guarantees the analysis was computed.
func Expect[A Analysis](m *Manager, key string) A {
	a, ok := Get[A](m, key)
	if !ok {
		panic(fmt.Sprintf("BUG: expected %T to be cached for %q", a, key))
	}
	return a
}

// GetOrDefault returns the cached analysis of type A, or a freshly
// allocated zero analysis if absent. The result is not cached.
func GetOrDefault[A Analysis](m *Manager, key string) A {
	if a, ok := Get[A](m, key); ok {
		return a
	}
	return newAnalysis[A]()
}

// GetOrCompute returns the cached analysis of type A for `entity`, computing
// and caching it on a miss.
func GetOrCompute[A AnalysisOf[E], E AnalysisKey](m *Manager, entity E) (A, error) {
	key := entity.Key()
	if a, ok := Get[A](m, key); ok {
		m.log.WithField("entity", key).Debugf("cache hit for %T", a)
		return a, nil
	}
	a := newAnalysis[A]()
	m.log.WithField("entity", key).Debugf("computing %T", a)
	if err := a.Analyze(entity, m); err != nil {
		var zero A
		return zero, err
	}
	m.cached[keyOf[A](key)] = a
	return a, nil
}

// Take removes the analysis of type A from the cache and transfers ownership
// to the caller.
func Take[A Analysis](m *Manager, key string) (A, bool) {
	ck := keyOf[A](key)
	a, ok := m.cached[ck]
	if !ok {
		var zero A
		return zero, false
	}
	delete(m.cached, ck)
	return a.(A), true
}

// Insert stores `analysis` in the cache for the entity with `key`.
func Insert[A Analysis](m *Manager, key string, analysis A) {
	m.cached[keyOf[A](key)] = analysis
}

// MarkPreserved records that the analysis of type A remains valid for the
// entity with `key` across the current pass.
func MarkPreserved[A Analysis](m *Manager, key string) {
	m.preserve[keyOf[A](key)] = struct{}{}
}

// MarkAllPreserved records that every analysis for the entity remains valid.
func (m *Manager) MarkAllPreserved(key string) {
	m.modes[key] = preserveAll
}

// MarkNonePreserved records that no analysis for the entity remains valid.
func (m *Manager) MarkNonePreserved(key string) {
	m.modes[key] = preserveNone
}

// Invalidate applies the preservation state accumulated since the last
// invalidation to the entity with `key`, evicting everything that cannot be
// shown to survive. Preservation flags for the entity are consumed.
//
// Candidates that were not explicitly preserved are asked, to a fixpoint,
// whether they remain valid given the currently-preserved set; any analysis
// whose IsInvalidated returns false is promoted to preserved. Analyses keyed
// to other entities are always retained.
func (m *Manager) Invalidate(key string) {
	mode := m.modes[key]
	delete(m.modes, key)

	switch mode {
	case preserveAll:
		m.log.WithField("entity", key).Debug("all analyses preserved")
		m.consumePreserveFlags(key)
		return
	case preserveNone:
		m.log.WithField("entity", key).Debug("evicting all analyses")
		m.consumePreserveFlags(key)
		for ck := range m.cached {
			if ck.entity == key {
				delete(m.cached, ck)
			}
		}
		return
	}

	preserved := &PreservedAnalyses{
		entityKey: key,
		preserved: make(map[cacheKey]Analysis),
	}
	var worklist []cacheKey
	for ck, a := range m.cached {
		if ck.entity != key {
			continue
		}
		if _, ok := m.preserve[ck]; ok {
			preserved.preserved[ck] = a
			continue
		}
		worklist = append(worklist, ck)
	}
	m.consumePreserveFlags(key)

	// Iterate to a fixpoint: an analysis whose dependencies all survived
	// is itself promoted to preserved, which may in turn rescue others.
	for changed := true; changed; {
		changed = false
		remaining := worklist[:0]
		for _, ck := range worklist {
			a := m.cached[ck]
			if a.IsInvalidated(preserved) {
				remaining = append(remaining, ck)
				continue
			}
			preserved.preserved[ck] = a
			changed = true
		}
		worklist = remaining
	}

	for _, ck := range worklist {
		m.log.WithFields(logrus.Fields{"entity": key, "analysis": ck.analysis.String()}).
			Debug("evicting invalidated analysis")
		delete(m.cached, ck)
	}
}

func (m *Manager) consumePreserveFlags(key string) {
	for ck := range m.preserve {
		if ck.entity == key {
			delete(m.preserve, ck)
		}
	}
}

func newAnalysis[A Analysis]() A {
	var zero A
	ty := reflect.TypeOf(zero)
	if ty == nil || ty.Kind() != reflect.Ptr {
		panic("BUG: analyses must be pointer types")
	}
	return reflect.New(ty.Elem()).Interface().(A)
}
