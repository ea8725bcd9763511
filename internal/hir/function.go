package hir

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// Ident is an interned identifier, e.g. a module or function name.
type Ident string

// FunctionIdent is the fully-qualified name of a function: the module it
// belongs to, and its name within that module.
type FunctionIdent struct {
	Module   Ident
	Function Ident
}

// String implements fmt.Stringer, e.g. std::math::u64::checked_add.
func (id FunctionIdent) String() string {
	return fmt.Sprintf("%s::%s", id.Module, id.Function)
}

// CallConv determines argument passing, return-value handling, and the call
// opcode used to invoke a function.
type CallConv uint8

const (
	// CallConvFast leaves the compiler free to pass arguments however is
	// most efficient.
	CallConvFast CallConv = iota
	// CallConvSystemV passes arguments according to the C ABI.
	CallConvSystemV
	// CallConvKernel is used for functions in kernel modules, which are
	// callable only via syscall and run in a separate memory context.
	CallConvKernel
)

// String implements fmt.Stringer.
func (cc CallConv) String() string {
	switch cc {
	case CallConvFast:
		return "fast"
	case CallConvSystemV:
		return "C"
	case CallConvKernel:
		return "kernel"
	default:
		panic("BUG: unrecognized calling convention")
	}
}

// Linkage of a function or global.
type Linkage uint8

const (
	// LinkageExternal makes the symbol visible outside its module.
	LinkageExternal Linkage = iota
	// LinkageInternal restricts the symbol to its module.
	LinkageInternal
	// LinkageOdr is a linkage reserved by the frontend; it is not valid
	// on functions and is rejected by validation.
	LinkageOdr
)

// String implements fmt.Stringer.
func (l Linkage) String() string {
	switch l {
	case LinkageExternal:
		return "external"
	case LinkageInternal:
		return "internal"
	case LinkageOdr:
		return "odr"
	default:
		panic("BUG: unrecognized linkage")
	}
}

// ArgumentPurpose distinguishes ordinary parameters from special ones.
type ArgumentPurpose uint8

const (
	// PurposeDefault is an ordinary parameter.
	PurposeDefault ArgumentPurpose = iota
	// PurposeStructReturn marks the sret out-pointer used to return a
	// large value in lieu of ordinary results.
	PurposeStructReturn
)

// ArgumentExtension specifies how a narrow integer argument is extended when
// placed on the operand stack.
type ArgumentExtension uint8

const (
	ExtensionNone ArgumentExtension = iota
	ExtensionZext
	ExtensionSext
)

// AbiParam is one parameter or result in a function signature.
type AbiParam struct {
	Type      types.Type
	Purpose   ArgumentPurpose
	Extension ArgumentExtension
}

// Param returns an ordinary parameter of type `ty`.
func Param(ty types.Type) AbiParam {
	return AbiParam{Type: ty}
}

// SretParam returns a struct-return parameter of type `ty`.
func SretParam(ty types.Type) AbiParam {
	return AbiParam{Type: ty, Purpose: PurposeStructReturn}
}

// Signature describes the type, calling convention, and linkage of a function.
type Signature struct {
	Params   []AbiParam
	Results  []AbiParam
	CallConv CallConv
	Linkage  Linkage
}

// NewSignature returns a signature with fast calling convention and external
// linkage, the defaults used throughout the test suite.
func NewSignature(params, results []AbiParam) Signature {
	return Signature{Params: params, Results: results}
}

// Arity returns the number of parameters.
func (s *Signature) Arity() int { return len(s.Params) }

// IsPublic returns true for externally-visible functions.
func (s *Signature) IsPublic() bool { return s.Linkage == LinkageExternal }

// IsKernel returns true for kernel-convention functions.
func (s *Signature) IsKernel() bool { return s.CallConv == CallConvKernel }

// Function is a single HIR function: an identifier, a signature, and the
// data-flow graph holding its body.
type Function struct {
	ID        FunctionIdent
	Signature Signature
	DFG       *DataFlowGraph
	Span      diag.SourceSpan
}

// NewFunction creates a function with an entry block whose parameters match
// the signature's parameter list.
func NewFunction(id FunctionIdent, sig Signature) *Function {
	f := &Function{ID: id, Signature: sig, DFG: NewDataFlowGraph()}
	entry := f.DFG.CreateBlock()
	for _, p := range sig.Params {
		f.DFG.AppendBlockParam(entry, p.Type)
	}
	return f
}

// Arity returns the number of parameters.
func (f *Function) Arity() int { return f.Signature.Arity() }

// IsKernel returns true for kernel-convention functions.
func (f *Function) IsKernel() bool { return f.Signature.IsKernel() }

// IsPublic returns true for externally-visible functions.
func (f *Function) IsPublic() bool { return f.Signature.IsPublic() }

// Key implements pass.AnalysisKey for functions: analyses over a function
// are cached under its fully-qualified name.
func (f *Function) Key() string { return f.ID.String() }
