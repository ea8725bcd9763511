package transform

import (
	"fmt"
	"sort"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/pass"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// Benefit expresses how desirable a pattern is: higher values are tried
// first. BenefitNone marks a pattern which can never match; the driver
// discards such patterns outright.
type Benefit uint16

const (
	// BenefitNone means the pattern is impossible to match.
	BenefitNone Benefit = 0xffff
	// BenefitMax is the highest real benefit.
	BenefitMax Benefit = 0xfffe
	// BenefitMin is the lowest real benefit.
	BenefitMin Benefit = 0
)

// IsImpossibleToMatch returns true for the BenefitNone sentinel.
func (b Benefit) IsImpossibleToMatch() bool { return b == BenefitNone }

// PatternKind selects the candidate root operations of a pattern.
type PatternKind struct {
	// Any matches every operation when true; otherwise Opcode selects the
	// single matching opcode.
	Any    bool
	Opcode hir.Opcode
}

// MatchAny returns a kind matching every operation.
func MatchAny() PatternKind { return PatternKind{Any: true} }

// MatchOpcode returns a kind matching a specific opcode.
func MatchOpcode(op hir.Opcode) PatternKind { return PatternKind{Opcode: op} }

// RewritePattern matches an instruction shape and rewrites it into
// equivalent, preferable IR.
type RewritePattern interface {
	// Name identifies the pattern in logs and diagnostics.
	Name() string
	// Kind selects the candidate root operations.
	Kind() PatternKind
	// Benefit orders patterns; the driver tries higher benefits first.
	Benefit() Benefit
	// HasBoundedRecursion is true if the pattern may generate IR that it
	// itself matches, but is known to bound the recursion. The driver
	// refuses to re-apply unbounded patterns to their own output.
	HasBoundedRecursion() bool
	// Matches reports whether the pattern applies to `inst`. A match
	// failure is non-fatal; the driver simply tries the next pattern.
	Matches(dfg *hir.DataFlowGraph, inst hir.Inst) (bool, error)
	// Rewrite replaces `inst` using the rewriter. It is only called after
	// Matches returned true.
	Rewrite(rw *Rewriter, inst hir.Inst) error
}

// Rewriter is handed to patterns to effect their rewrites while keeping the
// driver informed of newly created and redefined entities.
type Rewriter struct {
	fn      *hir.Function
	created []hir.Inst
	// affected are instructions whose operands were redefined by the
	// rewrite; the driver re-enqueues them.
	affected []hir.Inst
}

// DFG returns the graph being rewritten.
func (rw *Rewriter) DFG() *hir.DataFlowGraph { return rw.fn.DFG }

// InsertBefore creates a new instruction ahead of `point`.
func (rw *Rewriter) InsertBefore(point hir.Inst, fields hir.InstFields, resultTypes ...types.Type) (hir.Inst, []hir.Value) {
	dfg := rw.fn.DFG
	fields.Span = dfg.InstSpan(point)
	inst := dfg.MakeInst(fields)
	results := dfg.MakeInstResults(inst, resultTypes...)
	dfg.InsertInstBefore(inst, point)
	rw.created = append(rw.created, inst)
	return inst, results
}

// ReplaceInst substitutes `old` with a freshly created instruction, rewiring
// every use of the old results to the new ones, and removing `old` from its
// block.
func (rw *Rewriter) ReplaceInst(old hir.Inst, fields hir.InstFields, resultTypes ...types.Type) (hir.Inst, []hir.Value) {
	dfg := rw.fn.DFG
	inst, results := rw.InsertBefore(old, fields, resultTypes...)
	oldResults := dfg.InstResults(old)
	if len(oldResults) != len(results) {
		panic(fmt.Sprintf("BUG: replacement defines %d results, but the original defines %d",
			len(results), len(oldResults)))
	}
	for i, oldV := range oldResults {
		rw.ReplaceAllValueUses(oldV, results[i])
		dfg.Alias(oldV, results[i])
	}
	dfg.RemoveInst(old)
	return inst, results
}

// ReplaceInstWithValue removes `old` and rewires uses of its single result
// to `v`.
func (rw *Rewriter) ReplaceInstWithValue(old hir.Inst, v hir.Value) {
	dfg := rw.fn.DFG
	results := dfg.InstResults(old)
	if len(results) != 1 {
		panic("BUG: ReplaceInstWithValue requires a single-result instruction")
	}
	rw.ReplaceAllValueUses(results[0], v)
	dfg.Alias(results[0], v)
	dfg.RemoveInst(old)
}

// ReplaceAllValueUses rewrites every operand and branch-argument use of
// `old` in the function to `new`.
func (rw *Rewriter) ReplaceAllValueUses(old, new hir.Value) {
	dfg := rw.fn.DFG
	for _, b := range dfg.Blocks() {
		for _, inst := range dfg.BlockInsts(b) {
			redefined := false
			for i, arg := range dfg.InstArgs(inst) {
				if arg == old {
					dfg.ReplaceInstArg(inst, i, new)
					redefined = true
				}
			}
			for succ, dest := range dfg.InstDests(inst) {
				for i, arg := range dfg.ValueLists.Slice(dest.Args) {
					if arg == old {
						dfg.ReplaceBranchArg(inst, succ, i, new)
						redefined = true
					}
				}
			}
			if redefined {
				rw.affected = append(rw.affected, inst)
			}
		}
	}
}

// PatternSet is an ordered collection of patterns.
type PatternSet struct {
	patterns []RewritePattern
}

// NewPatternSet returns a set over `patterns`, ordered by descending
// benefit. Patterns with BenefitNone are discarded: they can never match.
func NewPatternSet(patterns ...RewritePattern) *PatternSet {
	set := &PatternSet{}
	for _, p := range patterns {
		if p.Benefit().IsImpossibleToMatch() {
			continue
		}
		set.patterns = append(set.patterns, p)
	}
	sort.SliceStable(set.patterns, func(i, j int) bool {
		return set.patterns[i].Benefit() > set.patterns[j].Benefit()
	})
	return set
}

// GreedyRewriteDriver applies a pattern set to a function until no pattern
// matches anywhere.
type GreedyRewriteDriver struct {
	Patterns *PatternSet
}

// Name implements pass.RewritePass.
func (d *GreedyRewriteDriver) Name() string { return "greedy-pattern-rewrite" }

// Apply implements pass.RewritePass.
func (d *GreedyRewriteDriver) Apply(f *hir.Function, mgr *pass.Manager, _ *diag.Handler) error {
	dfg := f.DFG

	// appliedBy tracks, per instruction, the patterns that produced it, so
	// unbounded patterns are not re-applied to their own output.
	appliedBy := make(map[hir.Inst]map[RewritePattern]struct{})

	var worklist []hir.Inst
	enqueue := func(inst hir.Inst) { worklist = append(worklist, inst) }
	for _, b := range dfg.Blocks() {
		for _, inst := range dfg.BlockInsts(b) {
			enqueue(inst)
		}
	}

	changed := false
	for len(worklist) > 0 {
		inst := worklist[0]
		worklist = worklist[1:]
		if _, attached := dfg.InstBlock(inst); !attached {
			continue
		}

		for _, pattern := range d.Patterns.patterns {
			kind := pattern.Kind()
			if !kind.Any && kind.Opcode != dfg.InstOpcode(inst) {
				continue
			}
			if !pattern.HasBoundedRecursion() {
				if _, generated := appliedBy[inst][pattern]; generated {
					continue
				}
			}
			ok, err := pattern.Matches(dfg, inst)
			if err != nil {
				return fmt.Errorf("pattern %s failed to match: %w", pattern.Name(), err)
			}
			if !ok {
				continue
			}

			rw := &Rewriter{fn: f}
			if err := pattern.Rewrite(rw, inst); err != nil {
				return fmt.Errorf("pattern %s failed to rewrite: %w", pattern.Name(), err)
			}
			changed = true
			for _, created := range rw.created {
				if appliedBy[created] == nil {
					appliedBy[created] = make(map[RewritePattern]struct{})
				}
				appliedBy[created][pattern] = struct{}{}
				enqueue(created)
			}
			// Instructions whose operands were redefined become rewrite
			// candidates again.
			for _, affected := range rw.affected {
				enqueue(affected)
			}
			break
		}
	}

	if !changed {
		mgr.MarkAllPreserved(f.Key())
	} else {
		// Rewrites replace instructions in place; the block graph is
		// untouched.
		pass.MarkPreserved[*analysis.CFGAnalysis](mgr, f.Key())
	}
	return nil
}
