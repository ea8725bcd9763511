package analysis

import (
	"errors"
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/hir"
)

// UseKind discriminates how a value appears in an instruction.
type UseKind uint8

const (
	// UseOperand means the value appears in the ordinary operand list.
	UseOperand UseKind = iota
	// UseBlockArgument means the value is passed as an argument to a
	// successor block's parameter.
	UseBlockArgument
)

// User records a single use of a value.
type User struct {
	// Inst is the using instruction.
	Inst hir.Inst
	// Value is the value being used, as it appears at the use site.
	Value hir.Value
	Kind  UseKind
	// Index is the operand index for UseOperand, or the argument index
	// for UseBlockArgument.
	Index int
	// Succ is the successor index for UseBlockArgument.
	Succ int
}

// ErrMissingPhi is returned by NearestDominatingDefinition when no dominating
// definition exists on some path, indicating that the caller must materialize
// a new block parameter to join control-dependent definitions.
var ErrMissingPhi = errors.New("no single dominating definition: a block parameter must be introduced")

// DefUseGraph records, for each value in a function, the list of its users.
//
// It is computed over the blocks reachable from the entry; values defined in
// unreachable blocks report no users.
type DefUseGraph struct {
	users map[hir.Value][]User
}

// ComputeDefUse builds the def-use graph of `f`. The dominator tree is used
// to assert the def-dominates-use invariant at insertion time.
func ComputeDefUse(f *hir.Function, domtree *DominatorTree) *DefUseGraph {
	g := &DefUseGraph{users: make(map[hir.Value][]User)}
	dfg := f.DFG

	postorder := domtree.CFGPostorder()
	for i := len(postorder) - 1; i >= 0; i-- {
		b := postorder[i]
		for _, inst := range dfg.BlockInsts(b) {
			for index, v := range dfg.InstArgs(inst) {
				assertDefDominatesUse(dfg, domtree, v, inst)
				g.insert(User{Inst: inst, Value: v, Kind: UseOperand, Index: index})
			}
			info := dfg.AnalyzeBranch(inst)
			switch info.Kind {
			case hir.BranchSingleDest:
				assertNoBranchResults(dfg, inst)
				for index, v := range info.Args {
					assertDefDominatesUse(dfg, domtree, v, inst)
					g.insert(User{Inst: inst, Value: v, Kind: UseBlockArgument, Succ: 0, Index: index})
				}
			case hir.BranchMultiDest:
				assertNoBranchResults(dfg, inst)
				for succ, entry := range info.JumpTable {
					for index, v := range entry.Args {
						assertDefDominatesUse(dfg, domtree, v, inst)
						g.insert(User{Inst: inst, Value: v, Kind: UseBlockArgument, Succ: succ, Index: index})
					}
				}
			}
		}
	}
	return g
}

func (g *DefUseGraph) insert(u User) {
	g.users[u.Value] = append(g.users[u.Value], u)
}

// Users returns the recorded users of `v`.
func (g *DefUseGraph) Users(v hir.Value) []User {
	return g.users[v]
}

// IsUsed returns true if `v` has any reachable uses.
func (g *DefUseGraph) IsUsed(v hir.Value) bool {
	return len(g.users[v]) > 0
}

// NearestDominatingDefinition returns the nearest definition of `v` which
// dominates `user` in the CFG, treating reload-style redefinitions found in
// intervening blocks as definitions. If the containing block and all of its
// dominators lack a definition, ErrMissingPhi is returned and the caller is
// expected to materialize a block parameter.
func (g *DefUseGraph) NearestDominatingDefinition(
	user hir.Inst,
	v hir.Value,
	dfg *hir.DataFlowGraph,
	domtree *DominatorTree,
) (hir.Value, error) {
	if found := dfg.NearestDefinitionInBlock(user, v); found.Valid() {
		return found, nil
	}

	current, ok := dfg.InstBlock(user)
	if !ok {
		panic("BUG: use site is detached from the layout")
	}
	for {
		idom, ok := domtree.Idom(current)
		if !ok {
			break
		}
		current, _ = dfg.InstBlock(idom)
		if found := dfg.NearestDefinitionInBlock(idom, v); found.Valid() {
			return found, nil
		}
		// The idom instruction itself may define the value.
		for _, result := range dfg.InstResults(idom) {
			if dfg.ResolveAlias(result) == dfg.ResolveAlias(v) {
				return result, nil
			}
		}
	}
	return hir.ValueInvalid, fmt.Errorf("resolving %s used by %s: %w", v, user, ErrMissingPhi)
}

// ReplaceUsesIn rewrites every use of `v` by instruction `user` to use `r`
// instead, updating both this graph and the operand and branch-argument
// lists of the data-flow graph.
func (g *DefUseGraph) ReplaceUsesIn(v, r hir.Value, user hir.Inst, dfg *hir.DataFlowGraph) {
	var replaced []User
	kept := g.users[v][:0]
	for _, u := range g.users[v] {
		if u.Inst == user && u.Value == v {
			replaced = append(replaced, u)
		} else {
			kept = append(kept, u)
		}
	}
	g.users[v] = kept

	for _, u := range replaced {
		switch u.Kind {
		case UseOperand:
			dfg.ReplaceInstArg(u.Inst, u.Index, r)
		case UseBlockArgument:
			dfg.ReplaceBranchArg(u.Inst, u.Succ, u.Index, r)
		}
		u.Value = r
		g.users[r] = append(g.users[r], u)
	}
}

func assertDefDominatesUse(dfg *hir.DataFlowGraph, domtree *DominatorTree, v hir.Value, user hir.Inst) {
	if def, _, ok := dfg.ValueDefInst(v); ok {
		if !domtree.Dominates(dfg, def, user) {
			panic(fmt.Sprintf("BUG: definition of %s does not dominate its use by %s", v, user))
		}
		return
	}
	if block, _, ok := dfg.ValueDefBlock(v); ok {
		if !domtree.BlockDominates(dfg, block, user) {
			panic(fmt.Sprintf("BUG: parameter %s of %s does not dominate its use by %s", v, block, user))
		}
	}
}

func assertNoBranchResults(dfg *hir.DataFlowGraph, inst hir.Inst) {
	if len(dfg.InstResults(inst)) != 0 {
		panic("BUG: branch instructions cannot have results")
	}
}
