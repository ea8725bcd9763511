package hir

// ValueList is a handle to a list of values stored in a ValueListPool.
// Instructions store their operand and branch-argument lists this way to
// keep the instruction struct itself compact.
//
// The zero value is the empty list.
type ValueList uint32

// ValueListPool owns the backing storage for every ValueList in a single
// DataFlowGraph.
type ValueListPool struct {
	lists [][]Value
}

// NewValueListPool returns an empty pool.
func NewValueListPool() *ValueListPool {
	// Index 0 is reserved for the empty list so that the zero value of
	// ValueList is valid.
	return &ValueListPool{lists: make([][]Value, 1)}
}

// Alloc stores `values` in the pool and returns a handle to them.
func (p *ValueListPool) Alloc(values ...Value) ValueList {
	if len(values) == 0 {
		return ValueList(0)
	}
	p.lists = append(p.lists, append([]Value(nil), values...))
	return ValueList(len(p.lists) - 1)
}

// Slice returns the values of `list`. The returned slice aliases pool
// storage; mutations through it are visible to all holders of the handle.
func (p *ValueListPool) Slice(list ValueList) []Value {
	return p.lists[list]
}

// Append adds `v` to the end of `list`, returning the (possibly new) handle.
func (p *ValueListPool) Append(list ValueList, v Value) ValueList {
	if list == 0 {
		return p.Alloc(v)
	}
	p.lists[list] = append(p.lists[list], v)
	return list
}

// Set replaces the `i`-th element of `list` with `v`.
func (p *ValueListPool) Set(list ValueList, i int, v Value) {
	p.lists[list][i] = v
}

// Len returns the number of values in `list`.
func (p *ValueListPool) Len(list ValueList) int {
	return len(p.lists[list])
}
