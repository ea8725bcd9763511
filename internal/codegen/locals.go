// Package codegen translates HIR functions into MASM procedures: a
// register-style SSA is lowered onto a stack machine by assigning each SSA
// value a procedure-local memory slot, spilling parameters at entry, and
// encoding every instruction as load-operands / emit-op / store-results.
package codegen

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// localAlloc maps each SSA value to a dense range of procedure locals. A
// local holds one field element, so a value occupies as many consecutive
// locals as its operand stack representation has elements; zero-sized
// values occupy none.
type localAlloc struct {
	// index maps a value to the first local of its range.
	index map[hir.Value]uint16
	// width maps a value to the number of locals it occupies.
	width map[hir.Value]uint16
	// next is the total number of locals allocated so far.
	next uint16
}

// assignLocals walks the function and assigns locals to every value:
// entry-block parameters first, then every other block parameter and
// instruction result in layout order. The mapping is dense and fixed before
// emission begins.
func assignLocals(f *hir.Function) (*localAlloc, error) {
	la := &localAlloc{
		index: make(map[hir.Value]uint16),
		width: make(map[hir.Value]uint16),
	}
	dfg := f.DFG

	for _, param := range dfg.BlockParams(dfg.EntryBlock()) {
		if err := la.assign(dfg, param); err != nil {
			return nil, err
		}
	}
	for _, b := range dfg.Blocks() {
		if b != dfg.EntryBlock() {
			for _, param := range dfg.BlockParams(b) {
				if err := la.assign(dfg, param); err != nil {
					return nil, err
				}
			}
		}
		for _, inst := range dfg.BlockInsts(b) {
			for _, result := range dfg.InstResults(inst) {
				if err := la.assign(dfg, result); err != nil {
					return nil, err
				}
			}
		}
	}
	return la, nil
}

func (la *localAlloc) assign(dfg *hir.DataFlowGraph, v hir.Value) error {
	if _, dup := la.index[v]; dup {
		return nil
	}
	ty := dfg.ValueType(v)
	repr, ok := ty.Repr()
	if !ok {
		return fmt.Errorf("value %s has type %s, which has no stack representation", v, ty)
	}
	width := repr.Size()
	la.index[v] = la.next
	la.width[v] = uint16(width)
	if la.next > 0xffff-uint16(width) {
		return fmt.Errorf("function requires more than %d procedure locals", 0xffff)
	}
	la.next += uint16(width)
	return nil
}

// slot returns the first local of `v`'s range.
func (la *localAlloc) slot(v hir.Value) uint16 {
	slot, ok := la.index[v]
	if !ok {
		panic(fmt.Sprintf("BUG: no local assigned to %s", v))
	}
	return slot
}

// widthOf returns the number of locals `v` occupies.
func (la *localAlloc) widthOf(v hir.Value) uint16 {
	return la.width[v]
}

// numLocals returns the total local count, including the block dispatch
// slot when `withDispatch` is set.
func (la *localAlloc) numLocals(withDispatch bool) uint16 {
	if withDispatch {
		return la.next + 1
	}
	return la.next
}

// dispatchSlot returns the local holding the current block index for
// multi-block functions.
func (la *localAlloc) dispatchSlot() uint16 { return la.next }

// reprOf returns the stack representation of `v`.
func reprOf(dfg *hir.DataFlowGraph, v hir.Value) types.TypeRepr {
	repr, ok := dfg.ValueType(v).Repr()
	if !ok {
		panic(fmt.Sprintf("BUG: value %s has no stack representation", v))
	}
	return repr
}
