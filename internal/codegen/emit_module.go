package codegen

import (
	"fmt"

	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
	"github.com/0xpolygonmiden/midenc/internal/types"
)

// CompileModule lowers every function of `m` and assembles the MASM module:
// the import table is derived from the external functions referenced by the
// module's bodies, and procedures appear in definition order.
func CompileModule(m *hir.Module) (*masm.Module, error) {
	kind := masm.ModuleKindLibrary
	switch m.Kind {
	case hir.ModuleKernel:
		kind = masm.ModuleKindKernel
	case hir.ModuleExecutable:
		kind = masm.ModuleKindExecutable
	}
	out := masm.NewModule(masm.ModulePath(m.Name), kind)
	out.Docs = m.Docs

	for _, f := range m.Functions() {
		for _, ext := range f.DFG.Imports() {
			if ext.ID.Module != m.Name {
				out.Import(masm.ModulePath(ext.ID.Module))
			}
		}
		// Calls to functions defined elsewhere in the program also go
		// through the import table.
		for _, b := range f.DFG.Blocks() {
			for _, inst := range f.DFG.BlockInsts(b) {
				op := f.DFG.InstOpcode(inst)
				if op != hir.OpcodeCall && op != hir.OpcodeSyscall {
					continue
				}
				if callee := f.DFG.InstCallee(inst); callee.Module != m.Name {
					out.Import(masm.ModulePath(callee.Module))
				}
			}
		}

		compiled, err := CompileFunction(f)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", f.ID, err)
		}
		out.PushBack(compiled)
	}
	return out, nil
}

// CompileProgram lowers a set of HIR modules into a linked MASM program.
// When `entrypoint` is non-nil, the named function is marked as the program
// entrypoint; it must live in the executable module.
func CompileProgram(modules []*hir.Module, entrypoint *hir.FunctionIdent) (*masm.Program, error) {
	program := masm.NewProgram()
	offset := uint32(0)
	for _, m := range modules {
		compiled, err := CompileModule(m)
		if err != nil {
			return nil, err
		}
		if entrypoint != nil && hir.Ident(string(compiled.Name)) == entrypoint.Module {
			marked := false
			for _, f := range compiled.Functions() {
				if f.Name.Name == string(entrypoint.Function) {
					f.Entrypoint = true
					marked = true
				}
			}
			if !marked {
				return nil, fmt.Errorf("entrypoint %s is not defined in module %s", entrypoint, m.Name)
			}
		}
		if err := program.AddModule(compiled); err != nil {
			return nil, err
		}

		// Lay out module globals into the program global table, aligning
		// each to its type's minimum alignment.
		for _, g := range m.Globals() {
			offset = types.AlignUp(offset, g.Type.MinAlignment())
			program.Globals = append(program.Globals, masm.GlobalVariable{
				Name:   fmt.Sprintf("%s::%s", m.Name, g.Name),
				Size:   g.Type.SizeInBytes(),
				Offset: offset,
				Init:   g.Init,
			})
			offset += types.AlignedSizeInBytes(g.Type)
		}
		for _, seg := range m.DataSegments() {
			program.Segments = append(program.Segments, masm.DataSegment{
				Offset:   seg.Offset,
				Size:     seg.Size,
				Data:     seg.Data,
				Readonly: seg.Readonly,
			})
		}
	}
	return program, nil
}
