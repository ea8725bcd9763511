package codegen

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// emitter lowers one HIR function to a MASM procedure.
type emitter struct {
	fn     *hir.Function
	locals *localAlloc
	// blockIndex numbers the blocks participating in the dispatch loop.
	blockIndex map[hir.Block]uint64
	multiBlock bool
}

// CompileFunction lowers `f` into a MASM procedure.
//
// Values live in procedure locals; each instruction loads its operands from
// locals onto the operand stack, performs the operation, and stores its
// results back. Functions with control flow are wrapped in a dispatch loop:
// a reserved local holds the index of the current block, and each iteration
// of the loop executes one block and transfers block arguments into the
// parameter locals of the successor.
func CompileFunction(f *hir.Function) (*masm.Function, error) {
	locals, err := assignLocals(f)
	if err != nil {
		return nil, err
	}

	dfg := f.DFG
	blocks := dfg.Blocks()
	e := &emitter{
		fn:         f,
		locals:     locals,
		blockIndex: make(map[hir.Block]uint64, len(blocks)),
		multiBlock: len(blocks) > 1,
	}
	for i, b := range blocks {
		e.blockIndex[b] = uint64(i)
	}

	var body []masm.Op

	// Spill parameters from the operand stack into their locals. The first
	// parameter is on top of the stack.
	for _, param := range dfg.BlockParams(dfg.EntryBlock()) {
		body = append(body, e.storeValue(param)...)
	}

	if !e.multiBlock {
		blockOps, err := e.emitBlockBody(dfg.EntryBlock())
		if err != nil {
			return nil, err
		}
		body = append(body, blockOps...)
	} else {
		// Initialize the dispatch local with the entry block index, then
		// run the dispatch loop: each iteration selects the current block
		// by index and leaves the continuation flag on top of the stack.
		body = append(body,
			masm.Op{Code: masm.OpPush, Imm: e.blockIndex[dfg.EntryBlock()]},
			masm.Op{Code: masm.OpLocStore, Imm: uint64(locals.dispatchSlot())},
			masm.Op{Code: masm.OpPush, Imm: 1},
		)
		dispatch, err := e.emitDispatch(blocks)
		if err != nil {
			return nil, err
		}
		body = append(body, masm.Op{Code: masm.OpWhile, Body: dispatch})
	}

	logrus.WithFields(logrus.Fields{
		"function": f.ID.String(),
		"locals":   locals.numLocals(e.multiBlock),
		"blocks":   len(blocks),
	}).Debug("lowered function")

	return &masm.Function{
		Name: masm.ProcedurePath{
			Module: masm.ModulePath(f.ID.Module),
			Name:   string(f.ID.Function),
		},
		Exported:  f.IsPublic(),
		NumLocals: locals.numLocals(e.multiBlock),
		Body:      body,
	}, nil
}

// emitDispatch builds the if/else chain selecting the current block.
func (e *emitter) emitDispatch(blocks []hir.Block) ([]masm.Op, error) {
	var chain []masm.Op
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		blockOps, err := e.emitBlockBody(b)
		if err != nil {
			return nil, err
		}
		if len(chain) == 0 {
			chain = blockOps
			continue
		}
		select_ := []masm.Op{
			{Code: masm.OpLocLoad, Imm: uint64(e.locals.dispatchSlot())},
			{Code: masm.OpEqImm, Imm: e.blockIndex[b]},
			{Code: masm.OpIf, Then: blockOps, Else: chain},
		}
		chain = select_
	}
	return chain, nil
}

// emitBlockBody lowers the instructions of one block, ending with its
// terminator encoding. In a multi-block function the emitted sequence
// leaves the loop continuation flag on top of the stack.
func (e *emitter) emitBlockBody(b hir.Block) ([]masm.Op, error) {
	dfg := e.fn.DFG
	var ops []masm.Op
	for _, inst := range dfg.BlockInsts(b) {
		instOps, err := e.emitInst(inst)
		if err != nil {
			return nil, err
		}
		ops = append(ops, instOps...)
	}
	return ops, nil
}

// emitInst lowers one instruction: operands are pushed from locals, the
// operation sequence is emitted, and results are stored back last first: the
// operation leaves its last result on top of the stack.
func (e *emitter) emitInst(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	op := dfg.InstOpcode(inst)

	switch op {
	case hir.OpcodeBr, hir.OpcodeCondBr, hir.OpcodeSwitch, hir.OpcodeRet, hir.OpcodeUnreachable:
		return e.emitTerminator(inst)
	case hir.OpcodeCall, hir.OpcodeSyscall:
		return e.emitCall(inst)
	case hir.OpcodeLoad:
		return e.emitLoad(inst)
	case hir.OpcodeStore:
		return e.emitStore(inst)
	case hir.OpcodeMemCpy:
		return e.emitMemCpy(inst)
	case hir.OpcodeSelect:
		return e.emitSelect(inst)
	}

	var ops []masm.Op
	// Push operands: the first operand is pushed first, so the last ends
	// up nearest the top.
	for _, arg := range dfg.InstArgs(inst) {
		ops = append(ops, e.loadValue(arg)...)
	}
	ops = append(ops, e.lowerInstOp(inst)...)
	for i := len(dfg.InstResults(inst)) - 1; i >= 0; i-- {
		ops = append(ops, e.storeValue(dfg.InstResults(inst)[i])...)
	}
	return ops, nil
}

// loadValue pushes the elements of `v` from its locals onto the stack, such
// that the value's first element ends nearest the top: for a sparse u64,
// the high limb is pushed first and the low limb last.
func (e *emitter) loadValue(v hir.Value) []masm.Op {
	width := int(e.locals.widthOf(v))
	if width == 0 {
		return nil
	}
	slot := uint64(e.locals.slot(v))
	ops := make([]masm.Op, 0, width)
	for i := width - 1; i >= 0; i-- {
		ops = append(ops, masm.Op{Code: masm.OpLocLoad, Imm: slot + uint64(i)})
	}
	return ops
}

// storeValue pops the elements of `v` into its locals, inverse to loadValue.
func (e *emitter) storeValue(v hir.Value) []masm.Op {
	width := int(e.locals.widthOf(v))
	if width == 0 {
		return nil
	}
	slot := uint64(e.locals.slot(v))
	ops := make([]masm.Op, 0, width)
	for i := 0; i < width; i++ {
		ops = append(ops, masm.Op{Code: masm.OpLocStore, Imm: slot + uint64(i)})
	}
	return ops
}

// emitTerminator encodes control transfer. In multi-block functions, a
// branch stores its arguments into the destination's parameter locals,
// stores the destination index into the dispatch local, and pushes a
// continuation flag; ret pushes the return values and a zero flag.
func (e *emitter) emitTerminator(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	op := dfg.InstOpcode(inst)
	switch op {
	case hir.OpcodeRet:
		var ops []masm.Op
		for _, arg := range dfg.InstArgs(inst) {
			ops = append(ops, e.loadValue(arg)...)
		}
		if e.multiBlock {
			ops = append(ops, masm.Op{Code: masm.OpPush, Imm: 0})
		}
		return ops, nil

	case hir.OpcodeUnreachable:
		// Control must never reach here: fail the proof unconditionally.
		ops := []masm.Op{{Code: masm.OpPush, Imm: 1}, {Code: masm.OpAssertz}}
		if e.multiBlock {
			ops = append(ops, masm.Op{Code: masm.OpPush, Imm: 0})
		}
		return ops, nil

	case hir.OpcodeBr:
		info := dfg.AnalyzeBranch(inst)
		return e.emitJump(info.Dest, info.Args), nil

	case hir.OpcodeCondBr:
		info := dfg.AnalyzeBranch(inst)
		cond := dfg.InstArgs(inst)[0]
		then, els := info.JumpTable[0], info.JumpTable[1]
		ops := e.loadValue(cond)
		ops = append(ops, masm.Op{
			Code: masm.OpIf,
			Then: e.emitJump(then.Destination, then.Args),
			Else: e.emitJump(els.Destination, els.Args),
		})
		return ops, nil

	case hir.OpcodeSwitch:
		info := dfg.AnalyzeBranch(inst)
		selector := dfg.InstArgs(inst)[0]
		arms := dfg.InstArms(inst)
		fallback := info.JumpTable[0]
		// Build the arm chain from the last arm inward, with the default
		// destination as the innermost else.
		chain := e.emitJump(fallback.Destination, fallback.Args)
		for i := len(arms) - 1; i >= 0; i-- {
			entry := info.JumpTable[i+1]
			test := e.loadValue(selector)
			test = append(test, masm.Op{Code: masm.OpEqImm, Imm: uint64(arms[i])})
			test = append(test, masm.Op{
				Code: masm.OpIf,
				Then: e.emitJump(entry.Destination, entry.Args),
				Else: chain,
			})
			chain = test
		}
		return chain, nil

	default:
		panic(fmt.Sprintf("BUG: %s is not a terminator", op))
	}
}

// emitJump encodes the transfer of block arguments into the destination's
// parameter locals, then schedules the destination block.
//
// All arguments are pushed before any parameter is stored: an argument may
// itself be one of the destination's parameters (e.g. a loop passing its own
// parameter back to itself), and storing eagerly would clobber it.
func (e *emitter) emitJump(dest hir.Block, args []hir.Value) []masm.Op {
	dfg := e.fn.DFG
	params := dfg.BlockParams(dest)
	var ops []masm.Op
	for _, arg := range args {
		ops = append(ops, e.loadValue(arg)...)
	}
	for i := len(params) - 1; i >= 0; i-- {
		ops = append(ops, e.storeValue(params[i])...)
	}
	ops = append(ops,
		masm.Op{Code: masm.OpPush, Imm: e.blockIndex[dest]},
		masm.Op{Code: masm.OpLocStore, Imm: uint64(e.locals.dispatchSlot())},
		masm.Op{Code: masm.OpPush, Imm: 1},
	)
	return ops
}

// emitCall pushes the arguments and invokes the callee. Kernel functions
// are reached via syscall, everything else via exec.
func (e *emitter) emitCall(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	callee := dfg.InstCallee(inst)
	var ops []masm.Op
	// Arguments are passed on the operand stack, first argument on top, so
	// they are pushed in reverse.
	args := dfg.InstArgs(inst)
	for i := len(args) - 1; i >= 0; i-- {
		ops = append(ops, e.loadValue(args[i])...)
	}
	target := masm.ProcedurePath{
		Module: masm.ModulePath(callee.Module),
		Name:   string(callee.Function),
	}
	code := masm.OpExec
	if dfg.InstOpcode(inst) == hir.OpcodeSyscall {
		code = masm.OpSyscall
	}
	ops = append(ops, masm.Op{Code: code, Target: target})
	for i := len(dfg.InstResults(inst)) - 1; i >= 0; i-- {
		ops = append(ops, e.storeValue(dfg.InstResults(inst)[i])...)
	}
	return ops, nil
}

// emitLoad lowers a load through a byte-granular pointer. Scalar loads
// become element-grained mem_load operations at the translated element
// address. The translation is an unsigned division of the byte address by
// the element width; a byte offset within an element is discarded.
func (e *emitter) emitLoad(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	addr := dfg.InstArgs(inst)[0]
	result := dfg.InstResults(inst)[0]
	repr := reprOf(dfg, result)

	switch repr.Kind {
	case types.ReprZst:
		return nil, nil
	case types.ReprDefault, types.ReprSparse:
		var ops []masm.Op
		n := int(repr.Size())
		// Elements are loaded from the highest address first, so the
		// first element of the value ends nearest the top of the stack.
		for i := n - 1; i >= 0; i-- {
			ops = append(ops, e.loadValue(addr)...)
			ops = append(ops, byteToElementAddr()...)
			if i > 0 {
				ops = append(ops,
					masm.Op{Code: masm.OpPush, Imm: uint64(i)},
					masm.Op{Code: masm.OpU32WrappingAdd},
				)
			}
			ops = append(ops, masm.Op{Code: masm.OpMemLoad})
		}
		ops = append(ops, e.storeValue(result)...)
		return ops, nil
	default:
		return nil, fmt.Errorf("cannot load %s: packed values must be loaded word by word", dfg.ValueType(result))
	}
}

// emitStore is the inverse of emitLoad.
func (e *emitter) emitStore(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	addr := dfg.InstArgs(inst)[0]
	value := dfg.InstArgs(inst)[1]
	repr := reprOf(dfg, value)

	switch repr.Kind {
	case types.ReprZst:
		return nil, nil
	case types.ReprDefault, types.ReprSparse:
		var ops []masm.Op
		n := int(repr.Size())
		// The i-th element of the value is popped and stored at element
		// offset i; loadValue leaves element zero on top.
		ops = append(ops, e.loadValue(value)...)
		for i := 0; i < n; i++ {
			ops = append(ops, e.loadValue(addr)...)
			ops = append(ops, byteToElementAddr()...)
			if i > 0 {
				ops = append(ops,
					masm.Op{Code: masm.OpPush, Imm: uint64(i)},
					masm.Op{Code: masm.OpU32WrappingAdd},
				)
			}
			ops = append(ops, masm.Op{Code: masm.OpMemStore})
		}
		return ops, nil
	default:
		return nil, fmt.Errorf("cannot store %s: packed values must be stored word by word", dfg.ValueType(value))
	}
}

// byteToElementAddr converts the byte address on top of the stack to a
// native element address. Elements are eight bytes wide and the translation
// is a plain division, so byte addresses that are not multiples of eight map
// to the element containing them.
func byteToElementAddr() []masm.Op {
	return []masm.Op{{Code: masm.OpU32UncheckedDivImm, Imm: types.FeltSize}}
}

// emitMemCpy lowers a copy of `count` elements. Only constant counts are
// supported: the copy is fully unrolled into one element load and store
// per element.
func (e *emitter) emitMemCpy(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	args := dfg.InstArgs(inst)
	count, ok := constU32(dfg, args[2])
	if !ok {
		return nil, fmt.Errorf("memcpy requires a constant element count")
	}
	dst, src := args[0], args[1]
	var ops []masm.Op
	for i := uint64(0); i < uint64(count); i++ {
		ops = append(ops, e.loadValue(src)...)
		ops = append(ops, byteToElementAddr()...)
		ops = append(ops,
			masm.Op{Code: masm.OpPush, Imm: i},
			masm.Op{Code: masm.OpU32WrappingAdd},
			masm.Op{Code: masm.OpMemLoad},
		)
		ops = append(ops, e.loadValue(dst)...)
		ops = append(ops, byteToElementAddr()...)
		ops = append(ops,
			masm.Op{Code: masm.OpPush, Imm: i},
			masm.Op{Code: masm.OpU32WrappingAdd},
			masm.Op{Code: masm.OpMemStore},
		)
	}
	return ops, nil
}

func constU32(dfg *hir.DataFlowGraph, v hir.Value) (uint32, bool) {
	def, _, ok := dfg.ValueDefInst(v)
	if !ok || dfg.InstOpcode(def) != hir.OpcodeConst {
		return 0, false
	}
	imm, _ := dfg.InstImm(def)
	if imm.Bits > 0xffffffff {
		return 0, false
	}
	return uint32(imm.Bits), true
}

// emitSelect lowers select via a conditional over the two loaded values.
func (e *emitter) emitSelect(inst hir.Inst) ([]masm.Op, error) {
	dfg := e.fn.DFG
	args := dfg.InstArgs(inst)
	cond, then, els := args[0], args[1], args[2]
	result := dfg.InstResults(inst)[0]

	ops := e.loadValue(cond)
	ops = append(ops, masm.Op{
		Code: masm.OpIf,
		Then: e.loadValue(then),
		Else: e.loadValue(els),
	})
	ops = append(ops, e.storeValue(result)...)
	return ops, nil
}
