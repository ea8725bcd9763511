package hir

import (
	"fmt"
	"sort"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// ModuleKind distinguishes the three kinds of module a program may contain.
type ModuleKind uint8

const (
	// ModuleLibrary is an ordinary module of procedures.
	ModuleLibrary ModuleKind = iota
	// ModuleKernel contains kernel-convention procedures, callable only
	// via syscall.
	ModuleKernel
	// ModuleExecutable holds the program entrypoint. A program may have
	// at most one executable module.
	ModuleExecutable
)

// String implements fmt.Stringer.
func (k ModuleKind) String() string {
	switch k {
	case ModuleLibrary:
		return "library"
	case ModuleKernel:
		return "kernel"
	case ModuleExecutable:
		return "executable"
	default:
		panic("BUG: unrecognized module kind")
	}
}

// GlobalVariable is a module-level variable with optional initializer data.
type GlobalVariable struct {
	Name    Ident
	Type    types.Type
	Linkage Linkage
	// Init is the initializer in little-endian byte order, or nil for a
	// zero-initialized global.
	Init []byte
}

// DataSegment is a region of the byte-addressable heap initialized at
// program start.
type DataSegment struct {
	// Offset is the byte offset at which the segment starts.
	Offset uint32
	// Size is the segment size in bytes; it may exceed len(Data), in
	// which case the remainder is zeroed.
	Size uint32
	Data []byte
	// Readonly segments may be deduplicated and must never be stored to.
	Readonly bool
}

// Module is a named collection of functions with module-level globals and
// data segments.
type Module struct {
	Name Ident
	Kind ModuleKind
	// Docs is the module-level documentation, if any.
	Docs string
	Span diag.SourceSpan

	functions []*Function
	globals   []GlobalVariable
	segments  []DataSegment
}

// NewModule returns an empty module with the given name and kind.
func NewModule(name Ident, kind ModuleKind) *Module {
	return &Module{Name: name, Kind: kind}
}

// IsKernel returns true for kernel modules.
func (m *Module) IsKernel() bool { return m.Kind == ModuleKernel }

// IsExecutable returns true for executable modules.
func (m *Module) IsExecutable() bool { return m.Kind == ModuleExecutable }

// Functions returns the functions of this module in definition order.
func (m *Module) Functions() []*Function { return m.functions }

// Function returns the function named `name`, if present.
func (m *Module) Function(name Ident) (*Function, bool) {
	for _, f := range m.functions {
		if f.ID.Function == name {
			return f, true
		}
	}
	return nil, false
}

// AddFunction appends `f` to the module. Adding a function whose name
// conflicts with an existing one returns an error.
func (m *Module) AddFunction(f *Function) error {
	if f.ID.Module != m.Name {
		return fmt.Errorf("function %s does not belong to module %s", f.ID, m.Name)
	}
	if _, ok := m.Function(f.ID.Function); ok {
		return fmt.Errorf("symbol %s is already defined", f.ID)
	}
	m.functions = append(m.functions, f)
	return nil
}

// DeclareGlobal adds a global variable, rejecting duplicate names.
func (m *Module) DeclareGlobal(g GlobalVariable) error {
	for _, existing := range m.globals {
		if existing.Name == g.Name {
			return fmt.Errorf("global %s is already defined in module %s", g.Name, m.Name)
		}
	}
	m.globals = append(m.globals, g)
	return nil
}

// Globals returns the module's global variables in declaration order.
func (m *Module) Globals() []GlobalVariable { return m.globals }

// DeclareDataSegment adds a data segment, rejecting overlapping regions.
func (m *Module) DeclareDataSegment(seg DataSegment) error {
	if seg.Size < uint32(len(seg.Data)) {
		return fmt.Errorf("data segment at offset %d declares size %d smaller than its data (%d bytes)",
			seg.Offset, seg.Size, len(seg.Data))
	}
	end := seg.Offset + seg.Size
	for _, existing := range m.segments {
		existingEnd := existing.Offset + existing.Size
		if seg.Offset < existingEnd && existing.Offset < end {
			return fmt.Errorf("data segment at offset %d overlaps existing segment at offset %d",
				seg.Offset, existing.Offset)
		}
	}
	m.segments = append(m.segments, seg)
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].Offset < m.segments[j].Offset
	})
	return nil
}

// DataSegments returns the module's data segments ordered by offset.
func (m *Module) DataSegments() []DataSegment { return m.segments }

// Key implements pass.AnalysisKey for modules.
func (m *Module) Key() string { return string(m.Name) }
