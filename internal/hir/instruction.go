package hir

import (
	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// Overflow selects the behavior of integer arithmetic at the limits of the
// result type.
type Overflow uint8

const (
	// OverflowUnchecked performs the operation with no overflow handling.
	OverflowUnchecked Overflow = iota
	// OverflowChecked asserts that the operation does not overflow.
	OverflowChecked
	// OverflowWrapping wraps modulo 2^N.
	OverflowWrapping
	// OverflowOverflowing wraps and additionally pushes an overflow flag.
	OverflowOverflowing
)

// String implements fmt.Stringer.
func (o Overflow) String() string {
	switch o {
	case OverflowUnchecked:
		return "unchecked"
	case OverflowChecked:
		return "checked"
	case OverflowWrapping:
		return "wrapping"
	case OverflowOverflowing:
		return "overflowing"
	default:
		panic("BUG: unrecognized overflow behavior")
	}
}

var overflowByName = map[string]Overflow{
	"unchecked":   OverflowUnchecked,
	"checked":     OverflowChecked,
	"wrapping":    OverflowWrapping,
	"overflowing": OverflowOverflowing,
}

// BlockCall is one branch destination together with the arguments passed to
// the destination block's parameters.
type BlockCall struct {
	Block Block
	Args  ValueList
}

// instData holds all per-instruction state. Since Go has no union types,
// the struct is flattened and fields are interpreted according to Opcode,
// following the same shape as the rest of the entity storage.
type instData struct {
	opcode Opcode
	// overflow applies to arithmetic opcodes only.
	overflow Overflow
	// args is the operand list, excluding branch arguments.
	args ValueList
	// results holds the values defined by this instruction.
	results []Value
	// imm is the immediate payload for const and *-imm forms.
	imm    Immediate
	hasImm bool
	// dests holds branch destinations: the sole target for br, then/else
	// for condbr, and default followed by the arm targets for switch.
	dests []BlockCall
	// arms holds the selector value for each switch arm; arms[i]
	// corresponds to dests[i+1].
	arms []uint32
	// callee is the target of call/syscall instructions.
	callee FunctionIdent
	// ty is the controlling type of the instruction (e.g. result type of
	// a const or load, operand type of arithmetic).
	ty types.Type
	// span is the source location this instruction was derived from.
	span diag.SourceSpan

	// Intrusive links threading this instruction into its block's list.
	prev, next Inst
	// block is the enclosing block, or BlockInvalid when detached.
	block Block
}

// blockData holds all per-block state.
type blockData struct {
	// params are the block parameter values, in declaration order.
	params []Value
	// Intrusive instruction list endpoints.
	first, last Inst
	// Intrusive links threading this block into the function's block list.
	prev, next Block
	// detached is set when the block has been removed from the layout.
	detached bool
}

// valueKind discriminates the definition site of a value.
type valueKind uint8

const (
	valueInst valueKind = iota
	valueParam
	valueAlias
)

// valueData records the definition of a value: an instruction result, a
// block parameter, or an alias of another value.
type valueData struct {
	kind valueKind
	ty   types.Type
	// inst/num for valueInst; block/num for valueParam; original for valueAlias.
	inst     Inst
	block    Block
	num      uint16
	original Value
	span     diag.SourceSpan
}

// BranchInfoKind discriminates the result of AnalyzeBranch.
type BranchInfoKind uint8

const (
	// BranchNotABranch means the instruction does not transfer control.
	BranchNotABranch BranchInfoKind = iota
	// BranchSingleDest means the instruction has exactly one destination.
	BranchSingleDest
	// BranchMultiDest means the instruction selects among several destinations.
	BranchMultiDest
)

// JumpTableEntry is one destination of a multi-way branch.
type JumpTableEntry struct {
	Destination Block
	Args        []Value
}

// BranchInfo is the analysis of a (potential) branch instruction.
type BranchInfo struct {
	Kind BranchInfoKind
	// Dest/Args are set for single-destination branches.
	Dest Block
	Args []Value
	// JumpTable is set for multi-destination branches; the default
	// destination appears first.
	JumpTable []JumpTableEntry
}
