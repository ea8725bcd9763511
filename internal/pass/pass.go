package pass

import (
	"github.com/sirupsen/logrus"

	"github.com/0xpolygonmiden/midenc/internal/diag"
)

// RewritePass mutates an entity of type E, consulting cached analyses via
// the manager. A pass that modifies the IR must either call
// Manager.Invalidate for the entity, or mark the analyses it preserved,
// before the next pass consumes analyses for that entity.
type RewritePass[E AnalysisKey] interface {
	// Name identifies the pass in logs.
	Name() string
	// Apply runs the pass over `entity`.
	Apply(entity E, mgr *Manager, diagnostics *diag.Handler) error
}

// ChainPasses returns a pass applying `passes` in order, invalidating the
// entity's analyses between each, and stopping at the first failure.
func ChainPasses[E AnalysisKey](passes ...RewritePass[E]) RewritePass[E] {
	return chain[E]{passes: passes}
}

type chain[E AnalysisKey] struct {
	passes []RewritePass[E]
}

// Name implements RewritePass.
func (c chain[E]) Name() string { return "chain" }

// Apply implements RewritePass.
func (c chain[E]) Apply(entity E, mgr *Manager, diagnostics *diag.Handler) error {
	for _, p := range c.passes {
		logrus.WithFields(logrus.Fields{
			"pass":   p.Name(),
			"entity": entity.Key(),
		}).Debug("applying rewrite pass")
		if err := p.Apply(entity, mgr, diagnostics); err != nil {
			return err
		}
		mgr.Invalidate(entity.Key())
	}
	return nil
}
