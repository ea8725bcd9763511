package masm

import (
	"fmt"
)

// Emulator executes MASM procedures over a concrete operand stack of field
// elements. It implements the subset of the instruction set produced by the
// code generator, and exists to validate lowered code without a VM: tests
// drive compiled procedures on real inputs and observe stack effects.
type Emulator struct {
	stack  *OperandStack[Felt]
	memory map[uint64]Felt
	// program resolves exec/syscall targets when set.
	program *Program
	// steps guards against runaway loops in broken codegen.
	steps int
}

// emulatorMaxSteps bounds the number of executed operations per run.
const emulatorMaxSteps = 1_000_000

// NewEmulator returns an emulator, optionally resolving cross-procedure
// calls through `program`.
func NewEmulator(program *Program) *Emulator {
	return &Emulator{
		stack:   NewOperandStack[Felt](),
		memory:  make(map[uint64]Felt),
		program: program,
	}
}

// Stack exposes the operand stack, for inspection after a run.
func (e *Emulator) Stack() *OperandStack[Felt] { return e.stack }

// Run executes `f` with `args` placed on the operand stack such that
// args[0] is on top, and returns the stack contents top-first when the
// procedure completes.
func (e *Emulator) Run(f *Function, args ...Felt) ([]Felt, error) {
	e.stack = NewOperandStack[Felt]()
	e.steps = 0
	for i := len(args) - 1; i >= 0; i-- {
		e.stack.Push(args[i])
	}
	if err := e.call(f); err != nil {
		return nil, err
	}
	out := make([]Felt, e.stack.Len())
	for i := range out {
		out[i] = e.stack.Get(i)
	}
	return out, nil
}

func (e *Emulator) call(f *Function) error {
	frame := make([]Felt, f.NumLocals)
	return e.exec(f.Body, frame)
}

func (e *Emulator) exec(ops []Op, frame []Felt) error {
	for i := range ops {
		if err := e.step(&ops[i], frame); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emulator) step(op *Op, frame []Felt) error {
	e.steps++
	if e.steps > emulatorMaxSteps {
		return fmt.Errorf("emulator exceeded %d steps", emulatorMaxSteps)
	}

	s := e.stack
	switch op.Code {
	case OpNop:
	case OpPadw:
		s.Padw()
	case OpPush:
		s.Push(NewFelt(op.Imm))
	case OpPushw:
		s.Pushw([4]Felt{
			NewFelt(op.Word[0]),
			NewFelt(op.Word[1]),
			NewFelt(op.Word[2]),
			NewFelt(op.Word[3]),
		})
	case OpDrop:
		s.Drop()
	case OpDropw:
		s.Dropw()
	case OpDup:
		s.Dup(int(op.Imm))
	case OpDupw:
		s.Dupw(int(op.Imm))
	case OpSwap:
		s.Swap(int(op.Imm))
	case OpSwapw:
		s.Swapw(int(op.Imm))
	case OpMovup:
		s.Movup(int(op.Imm))
	case OpMovupw:
		s.Movupw(int(op.Imm))
	case OpMovdn:
		s.Movdn(int(op.Imm))
	case OpMovdnw:
		s.Movdnw(int(op.Imm))
	case OpCswap:
		c := s.Pop()
		if c == 1 {
			s.Swap(1)
		}
	case OpCdrop:
		c := s.Pop()
		x, y := s.Pop(), s.Pop()
		if c == 1 {
			s.Push(x)
		} else {
			s.Push(y)
		}

	case OpAssert:
		if v := s.Pop(); v != 1 {
			return fmt.Errorf("assertion failed: expected 1, got %s", v)
		}
	case OpAssertz:
		if v := s.Pop(); v != 0 {
			return fmt.Errorf("assertion failed: expected 0, got %s", v)
		}
	case OpAssertEq:
		b, a := s.Pop(), s.Pop()
		if a != b {
			return fmt.Errorf("assertion failed: %s != %s", a, b)
		}

	case OpLocaddr:
		s.Push(NewFelt(op.Imm))
	case OpLocLoad:
		s.Push(frame[op.Imm])
	case OpLocStore:
		frame[op.Imm] = s.Pop()
	case OpMemLoad:
		addr := s.Pop()
		s.Push(e.memory[addr.AsUint64()])
	case OpMemLoadImm:
		s.Push(e.memory[op.Imm])
	case OpMemStore:
		addr := s.Pop()
		e.memory[addr.AsUint64()] = s.Pop()
	case OpMemStoreImm:
		e.memory[op.Imm] = s.Pop()

	case OpAdd:
		b, a := s.Pop(), s.Pop()
		s.Push(a.Add(b))
	case OpAddImm:
		s.Push(s.Pop().Add(NewFelt(op.Imm)))
	case OpSub:
		b, a := s.Pop(), s.Pop()
		s.Push(a.Sub(b))
	case OpSubImm:
		s.Push(s.Pop().Sub(NewFelt(op.Imm)))
	case OpMul:
		b, a := s.Pop(), s.Pop()
		s.Push(a.Mul(b))
	case OpMulImm:
		s.Push(s.Pop().Mul(NewFelt(op.Imm)))
	case OpDiv:
		b, a := s.Pop(), s.Pop()
		s.Push(a.Mul(b.Inv()))
	case OpDivImm:
		s.Push(s.Pop().Mul(NewFelt(op.Imm).Inv()))
	case OpNeg:
		s.Push(s.Pop().Neg())
	case OpInv:
		s.Push(s.Pop().Inv())
	case OpIncr:
		s.Push(s.Pop().Add(1))
	case OpPow2:
		s.Push(Felt(1).Add(1).Exp(s.Pop().AsUint64()))
	case OpExp:
		b, a := s.Pop(), s.Pop()
		s.Push(a.Exp(b.AsUint64()))
	case OpExpImm:
		s.Push(s.Pop().Exp(op.Imm))
	case OpNot:
		s.Push(boolToFelt(s.Pop() == 0))
	case OpAnd:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a == 1 && b == 1))
	case OpOr:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a == 1 || b == 1))
	case OpXor:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt((a == 1) != (b == 1)))
	case OpEq:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a == b))
	case OpEqImm:
		s.Push(boolToFelt(s.Pop() == NewFelt(op.Imm)))
	case OpNeq:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a != b))
	case OpNeqImm:
		s.Push(boolToFelt(s.Pop() != NewFelt(op.Imm)))
	case OpGt:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a.AsUint64() > b.AsUint64()))
	case OpGte:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a.AsUint64() >= b.AsUint64()))
	case OpLt:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a.AsUint64() < b.AsUint64()))
	case OpLte:
		b, a := s.Pop(), s.Pop()
		s.Push(boolToFelt(a.AsUint64() <= b.AsUint64()))
	case OpIsOdd:
		s.Push(boolToFelt(s.Pop().AsUint64()%2 == 1))
	case OpEqw:
		w1, w2 := s.Popw(), s.Popw()
		s.Pushw(w2)
		s.Pushw(w1)
		s.Push(boolToFelt(w1 == w2))

	case OpU32Test:
		s.Push(boolToFelt(s.Peek().AsUint64() <= 0xffffffff))
	case OpU32Assert:
		if v := s.Peek(); v.AsUint64() > 0xffffffff {
			return fmt.Errorf("assertion failed: %s is not a valid u32", v)
		}
	case OpU32Cast:
		s.Push(NewFelt(s.Pop().AsUint64() & 0xffffffff))
	case OpU32Split:
		v := s.Pop().AsUint64()
		s.Push(NewFelt(v >> 32))
		s.Push(NewFelt(v & 0xffffffff))

	case OpIf:
		c, err := e.popBool()
		if err != nil {
			return err
		}
		if c {
			return e.exec(op.Then, frame)
		}
		return e.exec(op.Else, frame)
	case OpWhile:
		for {
			c, err := e.popBool()
			if err != nil {
				return err
			}
			if !c {
				return nil
			}
			if err := e.exec(op.Body, frame); err != nil {
				return err
			}
		}
	case OpRepeat:
		for i := uint64(0); i < op.Imm; i++ {
			if err := e.exec(op.Body, frame); err != nil {
				return err
			}
		}
	case OpExec, OpSyscall, OpCall:
		callee, err := e.resolve(op.Target)
		if err != nil {
			return err
		}
		return e.call(callee)

	default:
		return e.stepU32(op)
	}
	return nil
}

// stepU32 handles the u32 arithmetic family. Operands are canonical felts
// holding u32 values; checked variants fail when an operand or result is
// out of range, wrapping variants reduce modulo 2^32, and overflowing
// variants push the wrapped result with the carry flag on top.
func (e *Emulator) stepU32(op *Op) error {
	s := e.stack

	binary := func(f func(a, b uint64) (uint64, uint64, error), flag bool) error {
		b, a := s.Pop().AsUint64(), s.Pop().AsUint64()
		result, overflow, err := f(a, b)
		if err != nil {
			return err
		}
		s.Push(NewFelt(result))
		if flag {
			s.Push(NewFelt(overflow))
		}
		return nil
	}
	binaryImm := func(imm uint64, f func(a, b uint64) (uint64, uint64, error), flag bool) error {
		a := s.Pop().AsUint64()
		result, overflow, err := f(a, imm)
		if err != nil {
			return err
		}
		s.Push(NewFelt(result))
		if flag {
			s.Push(NewFelt(overflow))
		}
		return nil
	}

	switch op.Code {
	case OpU32CheckedAdd:
		return binary(u32CheckedAdd, false)
	case OpU32CheckedAddImm:
		return binaryImm(op.Imm, u32CheckedAdd, false)
	case OpU32WrappingAdd:
		return binary(u32WrappingAdd, false)
	case OpU32WrappingAddImm:
		return binaryImm(op.Imm, u32WrappingAdd, false)
	case OpU32OverflowingAdd:
		return binary(u32OverflowingAdd, true)
	case OpU32OverflowingAddImm:
		return binaryImm(op.Imm, u32OverflowingAdd, true)
	case OpU32CheckedSub:
		return binary(u32CheckedSub, false)
	case OpU32CheckedSubImm:
		return binaryImm(op.Imm, u32CheckedSub, false)
	case OpU32WrappingSub:
		return binary(u32WrappingSub, false)
	case OpU32WrappingSubImm:
		return binaryImm(op.Imm, u32WrappingSub, false)
	case OpU32OverflowingSub:
		return binary(u32OverflowingSub, true)
	case OpU32OverflowingSubImm:
		return binaryImm(op.Imm, u32OverflowingSub, true)
	case OpU32CheckedMul:
		return binary(u32CheckedMul, false)
	case OpU32CheckedMulImm:
		return binaryImm(op.Imm, u32CheckedMul, false)
	case OpU32WrappingMul:
		return binary(u32WrappingMul, false)
	case OpU32WrappingMulImm:
		return binaryImm(op.Imm, u32WrappingMul, false)
	case OpU32OverflowingMul:
		return binary(u32OverflowingMul, true)
	case OpU32OverflowingMulImm:
		return binaryImm(op.Imm, u32OverflowingMul, true)
	case OpU32CheckedDiv:
		return binary(u32Div, false)
	case OpU32CheckedDivImm:
		return binaryImm(op.Imm, u32Div, false)
	case OpU32UncheckedDiv:
		return binary(u32Div, false)
	case OpU32UncheckedDivImm:
		return binaryImm(op.Imm, u32Div, false)
	case OpU32CheckedMod:
		return binary(u32Mod, false)
	case OpU32CheckedModImm:
		return binaryImm(op.Imm, u32Mod, false)
	case OpU32UncheckedMod:
		return binary(u32Mod, false)
	case OpU32UncheckedModImm:
		return binaryImm(op.Imm, u32Mod, false)
	case OpU32CheckedDivMod, OpU32UncheckedDivMod:
		b, a := s.Pop().AsUint64(), s.Pop().AsUint64()
		if b == 0 {
			return fmt.Errorf("division by zero")
		}
		s.Push(NewFelt(a / b))
		s.Push(NewFelt(a % b))
		return nil
	case OpU32And:
		return binary(func(a, b uint64) (uint64, uint64, error) { return a & b, 0, nil }, false)
	case OpU32Or:
		return binary(func(a, b uint64) (uint64, uint64, error) { return a | b, 0, nil }, false)
	case OpU32Xor:
		return binary(func(a, b uint64) (uint64, uint64, error) { return a ^ b, 0, nil }, false)
	case OpU32Not:
		s.Push(NewFelt(^s.Pop().AsUint64() & 0xffffffff))
		return nil
	case OpU32CheckedShl, OpU32UncheckedShl:
		return binary(u32Shl, false)
	case OpU32CheckedShlImm, OpU32UncheckedShlImm:
		return binaryImm(op.Imm, u32Shl, false)
	case OpU32CheckedShr, OpU32UncheckedShr:
		return binary(u32Shr, false)
	case OpU32CheckedShrImm, OpU32UncheckedShrImm:
		return binaryImm(op.Imm, u32Shr, false)
	case OpU32CheckedRotl, OpU32UncheckedRotl:
		return binary(u32Rotl, false)
	case OpU32CheckedRotlImm, OpU32UncheckedRotlImm:
		return binaryImm(op.Imm, u32Rotl, false)
	case OpU32CheckedRotr, OpU32UncheckedRotr:
		return binary(u32Rotr, false)
	case OpU32CheckedRotrImm, OpU32UncheckedRotrImm:
		return binaryImm(op.Imm, u32Rotr, false)
	case OpU32CheckedPopcnt, OpU32UncheckedPopcnt:
		v := s.Pop().AsUint64()
		count := uint64(0)
		for v != 0 {
			count += v & 1
			v >>= 1
		}
		s.Push(NewFelt(count))
		return nil
	case OpU32Eq:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a == b), 0, nil }, false)
	case OpU32EqImm:
		return binaryImm(op.Imm, func(a, b uint64) (uint64, uint64, error) { return b2u(a == b), 0, nil }, false)
	case OpU32Neq:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a != b), 0, nil }, false)
	case OpU32NeqImm:
		return binaryImm(op.Imm, func(a, b uint64) (uint64, uint64, error) { return b2u(a != b), 0, nil }, false)
	case OpU32CheckedGt, OpU32UncheckedGt:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a > b), 0, nil }, false)
	case OpU32CheckedGte, OpU32UncheckedGte:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a >= b), 0, nil }, false)
	case OpU32CheckedLt, OpU32UncheckedLt:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a < b), 0, nil }, false)
	case OpU32CheckedLte, OpU32UncheckedLte:
		return binary(func(a, b uint64) (uint64, uint64, error) { return b2u(a <= b), 0, nil }, false)
	case OpU32CheckedMin, OpU32UncheckedMin:
		return binary(func(a, b uint64) (uint64, uint64, error) { return min(a, b), 0, nil }, false)
	case OpU32CheckedMax, OpU32UncheckedMax:
		return binary(func(a, b uint64) (uint64, uint64, error) { return max(a, b), 0, nil }, false)
	default:
		return fmt.Errorf("emulator does not implement opcode %d", op.Code)
	}
}

func (e *Emulator) popBool() (bool, error) {
	switch v := e.stack.Pop(); v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("expected a boolean on the stack, got %s", v)
	}
}

func (e *Emulator) resolve(target ProcedurePath) (*Function, error) {
	if e.program == nil {
		return nil, fmt.Errorf("no program linked: cannot resolve %s", target)
	}
	m, ok := e.program.Module(target.Module)
	if !ok {
		return nil, fmt.Errorf("no module %s linked into program", target.Module)
	}
	for _, f := range m.Functions() {
		if f.Name.Name == target.Name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("module %s does not define %s", target.Module, target.Name)
}

func boolToFelt(b bool) Felt {
	if b {
		return 1
	}
	return 0
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func checkU32(vs ...uint64) error {
	for _, v := range vs {
		if v > 0xffffffff {
			return fmt.Errorf("value %d is not a valid u32", v)
		}
	}
	return nil
}

func u32CheckedAdd(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	sum := a + b
	if sum > 0xffffffff {
		return 0, 0, fmt.Errorf("u32 overflow in checked add")
	}
	return sum, 0, nil
}

func u32WrappingAdd(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	return (a + b) & 0xffffffff, 0, nil
}

func u32OverflowingAdd(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	sum := a + b
	return sum & 0xffffffff, sum >> 32, nil
}

func u32CheckedSub(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	if b > a {
		return 0, 0, fmt.Errorf("u32 underflow in checked sub")
	}
	return a - b, 0, nil
}

func u32WrappingSub(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	return (a - b) & 0xffffffff, 0, nil
}

func u32OverflowingSub(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	borrow := uint64(0)
	if b > a {
		borrow = 1
	}
	return (a - b) & 0xffffffff, borrow, nil
}

func u32CheckedMul(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	product := a * b
	if product > 0xffffffff {
		return 0, 0, fmt.Errorf("u32 overflow in checked mul")
	}
	return product, 0, nil
}

func u32WrappingMul(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	return (a * b) & 0xffffffff, 0, nil
}

func u32OverflowingMul(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	product := a * b
	return product & 0xffffffff, product >> 32, nil
}

func u32Div(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	if b == 0 {
		return 0, 0, fmt.Errorf("division by zero")
	}
	return a / b, 0, nil
}

func u32Mod(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	if b == 0 {
		return 0, 0, fmt.Errorf("division by zero")
	}
	return a % b, 0, nil
}

func u32Shl(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	if b > 31 {
		return 0, 0, fmt.Errorf("shift amount %d out of range", b)
	}
	return (a << b) & 0xffffffff, 0, nil
}

func u32Shr(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	if b > 31 {
		return 0, 0, fmt.Errorf("shift amount %d out of range", b)
	}
	return a >> b, 0, nil
}

func u32Rotl(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	b %= 32
	return ((a << b) | (a >> (32 - b))) & 0xffffffff, 0, nil
}

func u32Rotr(a, b uint64) (uint64, uint64, error) {
	if err := checkU32(a, b); err != nil {
		return 0, 0, err
	}
	b %= 32
	return ((a >> b) | (a << (32 - b))) & 0xffffffff, 0, nil
}
