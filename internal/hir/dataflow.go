package hir

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// DataFlowGraph owns every entity of a single function body: its blocks,
// instructions and values, plus the pooled operand lists and the table of
// external functions referenced by calls.
type DataFlowGraph struct {
	blocks pool[blockData]
	insts  pool[instData]
	values pool[valueData]

	// ValueLists backs the operand and branch-argument lists of every
	// instruction in this graph.
	ValueLists *ValueListPool

	// Intrusive block list endpoints, in layout order.
	firstBlock, lastBlock Block
	entry                 Block

	// imports records the external functions referenced by call
	// instructions in this graph, keyed by their fully-qualified name.
	imports map[FunctionIdent]*ExternalFunction
}

// ExternalFunction describes a function known only by name and signature,
// referenced by call instructions but defined elsewhere.
type ExternalFunction struct {
	ID        FunctionIdent
	Signature Signature
}

// NewDataFlowGraph returns an empty graph.
func NewDataFlowGraph() *DataFlowGraph {
	return &DataFlowGraph{
		blocks:     newPool[blockData](),
		insts:      newPool[instData](),
		values:     newPool[valueData](),
		ValueLists: NewValueListPool(),
		firstBlock: BlockInvalid,
		lastBlock:  BlockInvalid,
		entry:      BlockInvalid,
		imports:    make(map[FunctionIdent]*ExternalFunction),
	}
}

func (dfg *DataFlowGraph) block(b Block) *blockData {
	return dfg.blocks.view(int(b))
}

func (dfg *DataFlowGraph) inst(i Inst) *instData {
	return dfg.insts.view(int(i))
}

func (dfg *DataFlowGraph) value(v Value) *valueData {
	return dfg.values.view(int(v))
}

// NumBlocks returns the number of blocks ever created in this graph,
// including detached ones. Handles are dense in [0, NumBlocks).
func (dfg *DataFlowGraph) NumBlocks() int { return dfg.blocks.len() }

// NumValues returns the number of values ever created in this graph.
func (dfg *DataFlowGraph) NumValues() int { return dfg.values.len() }

// NumInsts returns the number of instructions ever created in this graph.
func (dfg *DataFlowGraph) NumInsts() int { return dfg.insts.len() }

// CreateBlock appends a new empty block to the layout and returns its handle.
// The first block created becomes the entry block.
func (dfg *DataFlowGraph) CreateBlock() Block {
	id, data := dfg.blocks.allocate()
	b := Block(id)
	data.first, data.last = InstInvalid, InstInvalid
	data.prev, data.next = dfg.lastBlock, BlockInvalid
	if dfg.lastBlock.Valid() {
		dfg.block(dfg.lastBlock).next = b
	} else {
		dfg.firstBlock = b
	}
	dfg.lastBlock = b
	if !dfg.entry.Valid() {
		dfg.entry = b
	}
	return b
}

// EntryBlock returns the entry block, or BlockInvalid for an empty graph.
func (dfg *DataFlowGraph) EntryBlock() Block { return dfg.entry }

// FirstBlock returns the first block in layout order.
func (dfg *DataFlowGraph) FirstBlock() Block { return dfg.firstBlock }

// NextBlock returns the block following `b` in layout order.
func (dfg *DataFlowGraph) NextBlock(b Block) Block { return dfg.block(b).next }

// Blocks returns the attached blocks in layout order.
func (dfg *DataFlowGraph) Blocks() []Block {
	var out []Block
	for b := dfg.firstBlock; b.Valid(); b = dfg.block(b).next {
		out = append(out, b)
	}
	return out
}

// IsBlockDetached returns true if `b` has been removed from the layout.
func (dfg *DataFlowGraph) IsBlockDetached(b Block) bool {
	return dfg.block(b).detached
}

// DetachBlock removes `b` from the block layout. Its instructions and
// parameter values remain allocated; callers are responsible for dropping
// any remaining uses of values defined in `b` first.
func (dfg *DataFlowGraph) DetachBlock(b Block) {
	data := dfg.block(b)
	if data.detached {
		return
	}
	if data.prev.Valid() {
		dfg.block(data.prev).next = data.next
	} else {
		dfg.firstBlock = data.next
	}
	if data.next.Valid() {
		dfg.block(data.next).prev = data.prev
	} else {
		dfg.lastBlock = data.prev
	}
	data.prev, data.next = BlockInvalid, BlockInvalid
	data.detached = true
}

// AppendBlockParam adds a parameter of type `ty` to `b`, returning the new
// parameter value.
func (dfg *DataFlowGraph) AppendBlockParam(b Block, ty types.Type) Value {
	data := dfg.block(b)
	num := len(data.params)
	if num > 0xffff {
		panic("BUG: too many block parameters")
	}
	v := dfg.makeValue(valueData{
		kind:  valueParam,
		ty:    ty,
		block: b,
		num:   uint16(num),
	})
	data.params = append(data.params, v)
	return v
}

// RemoveBlockParam removes the `i`-th parameter of `b`, shifting the indices
// of any following parameters down by one. The parameter value itself stays
// allocated; callers must have already rewritten or removed its uses.
func (dfg *DataFlowGraph) RemoveBlockParam(b Block, i int) {
	data := dfg.block(b)
	data.params = append(data.params[:i], data.params[i+1:]...)
	for n := i; n < len(data.params); n++ {
		dfg.value(data.params[n]).num = uint16(n)
	}
}

// BlockParams returns the parameter values of `b` in declaration order.
func (dfg *DataFlowGraph) BlockParams(b Block) []Value {
	return dfg.block(b).params
}

func (dfg *DataFlowGraph) makeValue(data valueData) Value {
	id, slot := dfg.values.allocate()
	*slot = data
	return Value(id)
}

// ValueType returns the type of `v`.
func (dfg *DataFlowGraph) ValueType(v Value) types.Type {
	return dfg.value(v).ty
}

// ValueSpan returns the source span associated with `v`.
func (dfg *DataFlowGraph) ValueSpan(v Value) diag.SourceSpan {
	return dfg.value(v).span
}

// ValueDefInst returns the defining instruction of `v` and its result index,
// or ok=false if `v` is a block parameter. Aliases are resolved first.
func (dfg *DataFlowGraph) ValueDefInst(v Value) (Inst, int, bool) {
	data := dfg.value(dfg.ResolveAlias(v))
	if data.kind != valueInst {
		return InstInvalid, 0, false
	}
	return data.inst, int(data.num), true
}

// ValueDefBlock returns the defining block of `v` and its parameter index,
// or ok=false if `v` is an instruction result. Aliases are resolved first.
func (dfg *DataFlowGraph) ValueDefBlock(v Value) (Block, int, bool) {
	data := dfg.value(dfg.ResolveAlias(v))
	if data.kind != valueParam {
		return BlockInvalid, 0, false
	}
	return data.block, int(data.num), true
}

// Alias redirects `v` to resolve to `to`. The value keeps its handle but
// loses its own definition.
func (dfg *DataFlowGraph) Alias(v, to Value) {
	if v == to {
		panic("BUG: cannot alias a value to itself")
	}
	data := dfg.value(v)
	data.kind = valueAlias
	data.original = to
}

// ResolveAlias follows alias links to the authoritative value. An alias
// cycle is a programmer error and panics.
func (dfg *DataFlowGraph) ResolveAlias(v Value) Value {
	// A cycle would require at least as many links as there are values.
	limit := dfg.values.len()
	for i := 0; i <= limit; i++ {
		data := dfg.value(v)
		if data.kind != valueAlias {
			return v
		}
		v = data.original
	}
	panic(fmt.Sprintf("BUG: alias cycle detected resolving %s", v))
}

// MakeInst allocates a detached instruction with the given payload.
func (dfg *DataFlowGraph) MakeInst(data InstFields) Inst {
	id, slot := dfg.insts.allocate()
	*slot = instData{
		opcode:   data.Opcode,
		overflow: data.Overflow,
		args:     dfg.ValueLists.Alloc(data.Args...),
		imm:      data.Imm,
		hasImm:   data.HasImm,
		callee:   data.Callee,
		ty:       data.Type,
		span:     data.Span,
		arms:     data.Arms,
		prev:     InstInvalid,
		next:     InstInvalid,
		block:    BlockInvalid,
	}
	for _, dest := range data.Dests {
		slot.dests = append(slot.dests, BlockCall{
			Block: dest.Block,
			Args:  dfg.ValueLists.Alloc(dest.Args...),
		})
	}
	return Inst(id)
}

// InstFields is the construction payload for MakeInst.
type InstFields struct {
	Opcode   Opcode
	Overflow Overflow
	Args     []Value
	Imm      Immediate
	HasImm   bool
	Dests    []DestFields
	Arms     []uint32
	Callee   FunctionIdent
	Type     types.Type
	Span     diag.SourceSpan
}

// DestFields is one branch destination in InstFields.
type DestFields struct {
	Block Block
	Args  []Value
}

// MakeInstResults creates `n` result values of the given types for `inst`.
func (dfg *DataFlowGraph) MakeInstResults(inst Inst, tys ...types.Type) []Value {
	data := dfg.inst(inst)
	if len(data.results) > 0 {
		panic("BUG: instruction results already created")
	}
	if data.opcode.IsBranch() && len(tys) > 0 {
		panic("BUG: branch instructions cannot have results")
	}
	for i, ty := range tys {
		v := dfg.makeValue(valueData{
			kind: valueInst,
			ty:   ty,
			inst: inst,
			num:  uint16(i),
			span: data.span,
		})
		data.results = append(data.results, v)
	}
	return data.results
}

// AppendInst attaches `inst` to the end of `b`. Appending past a terminator
// is a programmer error.
func (dfg *DataFlowGraph) AppendInst(b Block, inst Inst) {
	data := dfg.block(b)
	if data.last.Valid() && dfg.inst(data.last).opcode.IsTerminator() {
		panic(fmt.Sprintf("BUG: cannot append %s to terminated block %s",
			dfg.inst(inst).opcode, b))
	}
	idata := dfg.inst(inst)
	idata.block = b
	idata.prev = data.last
	idata.next = InstInvalid
	if data.last.Valid() {
		dfg.inst(data.last).next = inst
	} else {
		data.first = inst
	}
	data.last = inst
}

// InsertInstBefore attaches `inst` to the block containing `before`,
// immediately preceding it.
func (dfg *DataFlowGraph) InsertInstBefore(inst, before Inst) {
	bdata := dfg.inst(before)
	if !bdata.block.Valid() {
		panic("BUG: insertion point is detached")
	}
	idata := dfg.inst(inst)
	idata.block = bdata.block
	idata.next = before
	idata.prev = bdata.prev
	if bdata.prev.Valid() {
		dfg.inst(bdata.prev).next = inst
	} else {
		dfg.block(bdata.block).first = inst
	}
	bdata.prev = inst
}

// RemoveInst detaches `inst` from its block. The instruction and its result
// values remain allocated.
func (dfg *DataFlowGraph) RemoveInst(inst Inst) {
	data := dfg.inst(inst)
	if !data.block.Valid() {
		return
	}
	bdata := dfg.block(data.block)
	if data.prev.Valid() {
		dfg.inst(data.prev).next = data.next
	} else {
		bdata.first = data.next
	}
	if data.next.Valid() {
		dfg.inst(data.next).prev = data.prev
	} else {
		bdata.last = data.prev
	}
	data.prev, data.next, data.block = InstInvalid, InstInvalid, BlockInvalid
}

// FirstInst returns the first instruction of `b`, or InstInvalid if empty.
func (dfg *DataFlowGraph) FirstInst(b Block) Inst { return dfg.block(b).first }

// LastInst returns the last instruction of `b`, or InstInvalid if empty.
func (dfg *DataFlowGraph) LastInst(b Block) Inst { return dfg.block(b).last }

// NextInst returns the instruction following `inst` within its block.
func (dfg *DataFlowGraph) NextInst(inst Inst) Inst { return dfg.inst(inst).next }

// PrevInst returns the instruction preceding `inst` within its block.
func (dfg *DataFlowGraph) PrevInst(inst Inst) Inst { return dfg.inst(inst).prev }

// BlockInsts returns the instructions of `b` in order.
func (dfg *DataFlowGraph) BlockInsts(b Block) []Inst {
	var out []Inst
	for i := dfg.block(b).first; i.Valid(); i = dfg.inst(i).next {
		out = append(out, i)
	}
	return out
}

// InstBlock returns the block containing `inst`, or ok=false if detached.
func (dfg *DataFlowGraph) InstBlock(inst Inst) (Block, bool) {
	b := dfg.inst(inst).block
	return b, b.Valid()
}

// InstOpcode returns the opcode of `inst`.
func (dfg *DataFlowGraph) InstOpcode(inst Inst) Opcode { return dfg.inst(inst).opcode }

// InstOverflow returns the overflow behavior of `inst`.
func (dfg *DataFlowGraph) InstOverflow(inst Inst) Overflow { return dfg.inst(inst).overflow }

// InstType returns the controlling type of `inst`.
func (dfg *DataFlowGraph) InstType(inst Inst) types.Type { return dfg.inst(inst).ty }

// InstSpan returns the source span of `inst`.
func (dfg *DataFlowGraph) InstSpan(inst Inst) diag.SourceSpan { return dfg.inst(inst).span }

// InstImm returns the immediate of `inst`, with ok=false if it has none.
func (dfg *DataFlowGraph) InstImm(inst Inst) (Immediate, bool) {
	data := dfg.inst(inst)
	return data.imm, data.hasImm
}

// InstCallee returns the callee of a call/syscall instruction.
func (dfg *DataFlowGraph) InstCallee(inst Inst) FunctionIdent { return dfg.inst(inst).callee }

// InstArgs returns the operands of `inst`, excluding branch arguments.
// The returned slice aliases pool storage.
func (dfg *DataFlowGraph) InstArgs(inst Inst) []Value {
	return dfg.ValueLists.Slice(dfg.inst(inst).args)
}

// ReplaceInstArg replaces the `i`-th operand of `inst` with `v`.
func (dfg *DataFlowGraph) ReplaceInstArg(inst Inst, i int, v Value) {
	dfg.ValueLists.Set(dfg.inst(inst).args, i, v)
}

// InstResults returns the values defined by `inst`.
func (dfg *DataFlowGraph) InstResults(inst Inst) []Value {
	return dfg.inst(inst).results
}

// InstDests returns the branch destinations of `inst`. For a switch, the
// default destination appears first, followed by the arm destinations.
func (dfg *DataFlowGraph) InstDests(inst Inst) []BlockCall {
	return dfg.inst(inst).dests
}

// InstArms returns the selector values of a switch; arms[i] selects
// InstDests[i+1].
func (dfg *DataFlowGraph) InstArms(inst Inst) []uint32 { return dfg.inst(inst).arms }

// ReplaceBranchArg replaces the `i`-th argument passed to the `succ`-th
// successor of `inst` with `v`.
func (dfg *DataFlowGraph) ReplaceBranchArg(inst Inst, succ, i int, v Value) {
	dfg.ValueLists.Set(dfg.inst(inst).dests[succ].Args, i, v)
}

// SetBranchArgs replaces the argument list passed to the `succ`-th successor
// of `inst`.
func (dfg *DataFlowGraph) SetBranchArgs(inst Inst, succ int, args []Value) {
	dfg.inst(inst).dests[succ].Args = dfg.ValueLists.Alloc(args...)
}

// RedirectBranch rewrites the `succ`-th destination of `inst` to target
// `to`, preserving the argument list.
func (dfg *DataFlowGraph) RedirectBranch(inst Inst, succ int, to Block) {
	dfg.inst(inst).dests[succ].Block = to
}

// AnalyzeBranch classifies `inst` as a branch and reports its destinations.
// Querying an instruction that is not the terminator of its block is valid;
// non-branch instructions report BranchNotABranch.
func (dfg *DataFlowGraph) AnalyzeBranch(inst Inst) BranchInfo {
	data := dfg.inst(inst)
	switch data.opcode {
	case OpcodeBr:
		dest := data.dests[0]
		return BranchInfo{
			Kind: BranchSingleDest,
			Dest: dest.Block,
			Args: dfg.ValueLists.Slice(dest.Args),
		}
	case OpcodeCondBr, OpcodeSwitch:
		entries := make([]JumpTableEntry, len(data.dests))
		for i, dest := range data.dests {
			entries[i] = JumpTableEntry{
				Destination: dest.Block,
				Args:        dfg.ValueLists.Slice(dest.Args),
			}
		}
		return BranchInfo{Kind: BranchMultiDest, JumpTable: entries}
	default:
		return BranchInfo{Kind: BranchNotABranch}
	}
}

// ImportFunction records an external function used by calls in this graph.
// Importing the same name twice with different signatures is a programmer
// error that is not detected: the existing entry is returned unchanged and
// the signatures are not compared.
func (dfg *DataFlowGraph) ImportFunction(id FunctionIdent, sig Signature) *ExternalFunction {
	if existing, ok := dfg.imports[id]; ok {
		return existing
	}
	ext := &ExternalFunction{ID: id, Signature: sig}
	dfg.imports[id] = ext
	return ext
}

// Import returns the external function registered under `id`, if any.
func (dfg *DataFlowGraph) Import(id FunctionIdent) (*ExternalFunction, bool) {
	ext, ok := dfg.imports[id]
	return ext, ok
}

// Imports returns all external functions referenced by this graph.
func (dfg *DataFlowGraph) Imports() []*ExternalFunction {
	out := make([]*ExternalFunction, 0, len(dfg.imports))
	for _, ext := range dfg.imports {
		out = append(out, ext)
	}
	return out
}

// NearestDefinitionInBlock searches backwards from `from` (exclusive) within
// its block for a definition of `v`, falling back to the block's parameter
// list. Returns ValueInvalid if the block does not define `v`.
func (dfg *DataFlowGraph) NearestDefinitionInBlock(from Inst, v Value) Value {
	v = dfg.ResolveAlias(v)
	for cur := dfg.inst(from).prev; cur.Valid(); cur = dfg.inst(cur).prev {
		for _, result := range dfg.inst(cur).results {
			if dfg.ResolveAlias(result) == v {
				return result
			}
		}
	}
	b := dfg.inst(from).block
	if b.Valid() {
		for _, param := range dfg.block(b).params {
			if dfg.ResolveAlias(param) == v {
				return param
			}
		}
	}
	return ValueInvalid
}
