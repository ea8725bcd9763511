package masm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ModuleKind distinguishes kernel, library, and executable modules.
type ModuleKind uint8

const (
	ModuleKindLibrary ModuleKind = iota
	ModuleKindKernel
	ModuleKindExecutable
)

// String implements fmt.Stringer.
func (k ModuleKind) String() string {
	switch k {
	case ModuleKindLibrary:
		return "library"
	case ModuleKindKernel:
		return "kernel"
	case ModuleKindExecutable:
		return "executable"
	default:
		panic("BUG: unrecognized module kind")
	}
}

// ModulePath is the fully-qualified name of a module, with `::`-separated
// components, e.g. `std::math::u64`.
type ModulePath string

// Components returns the path components.
func (p ModulePath) Components() []string {
	return strings.Split(string(p), "::")
}

// Last returns the final component of the path.
func (p ModulePath) Last() string {
	parts := p.Components()
	return parts[len(parts)-1]
}

// ProcedurePath is the fully-qualified name of a procedure.
type ProcedurePath struct {
	Module ModulePath
	Name   string
}

// String implements fmt.Stringer.
func (p ProcedurePath) String() string {
	if p.Module == "" {
		return p.Name
	}
	return fmt.Sprintf("%s::%s", p.Module, p.Name)
}

// Import is one entry of a module's import table: an imported module path
// and the local alias by which it is referenced.
type Import struct {
	Name ModulePath
	// Alias is the local name; defaults to the last path component.
	Alias string
}

// IsAliased returns true if the import is renamed locally.
func (imp Import) IsAliased() bool {
	return imp.Alias != "" && imp.Alias != imp.Name.Last()
}

// LocalAlias returns the name by which the import is referenced.
func (imp Import) LocalAlias() string {
	if imp.Alias != "" {
		return imp.Alias
	}
	return imp.Name.Last()
}

// ProcedureAlias re-exports a procedure from another module under a local
// name.
type ProcedureAlias struct {
	// Name is the locally visible name.
	Name string
	// Target is the procedure being re-exported.
	Target ProcedurePath
}

// Function is a single MASM procedure: a name, an optional entrypoint
// marker, a local count, and a body of nested operations.
type Function struct {
	Name ProcedurePath
	// Entrypoint marks the program entrypoint; rendered as a begin/end
	// block rather than a named procedure.
	Entrypoint bool
	// Exported procedures are visible outside the module.
	Exported bool
	// NumLocals is the number of procedure-local memory slots.
	NumLocals uint16
	Body      []Op
	// Docs is the procedure documentation, if any.
	Docs string
}

// functionsState tracks the open/frozen transition of a function list.
type functionsState uint8

const (
	functionsOpen functionsState = iota
	functionsFrozen
)

// Functions is an ordered list of procedures with a one-way Open → Frozen
// transition. Mutating a frozen list is a fatal programmer error; a frozen
// list may be shared across threads.
type Functions struct {
	state functionsState
	list  []*Function
}

// PushBack appends `f`, panicking if the list is frozen.
func (fs *Functions) PushBack(f *Function) {
	if fs.state == functionsFrozen {
		panic("BUG: attempted to modify a frozen function list")
	}
	fs.list = append(fs.list, f)
}

// Freeze transitions the list to the frozen state. Freezing an already
// frozen list is a no-op.
func (fs *Functions) Freeze() {
	fs.state = functionsFrozen
}

// IsFrozen returns true once Freeze has been called.
func (fs *Functions) IsFrozen() bool { return fs.state == functionsFrozen }

// All returns the functions in order. The returned slice must not be
// mutated once the list is frozen.
func (fs *Functions) All() []*Function { return fs.list }

// Module is a single compiled Miden Assembly module.
type Module struct {
	Kind ModuleKind
	// Name is the fully-qualified `::`-separated name, e.g. `std::math::u64`.
	Name ModulePath
	// Docs is the module-level documentation, if any.
	Docs string
	// Imports is the import table with local aliases.
	Imports []Import
	// Reexports are procedure aliases re-exported by this module.
	Reexports []ProcedureAlias

	functions Functions
}

// NewModule returns an empty module with the given name and kind.
func NewModule(name ModulePath, kind ModuleKind) *Module {
	return &Module{Kind: kind, Name: name}
}

// IsKernel returns true for kernel modules.
func (m *Module) IsKernel() bool { return m.Kind == ModuleKindKernel }

// IsExecutable returns true for executable modules.
func (m *Module) IsExecutable() bool { return m.Kind == ModuleKindExecutable }

// Entrypoint returns the fully-qualified name of the function marked as the
// entrypoint, if this module is executable and has one.
func (m *Module) Entrypoint() (ProcedurePath, bool) {
	if !m.IsExecutable() {
		return ProcedurePath{}, false
	}
	for _, f := range m.functions.All() {
		if f.Entrypoint {
			return f.Name, true
		}
	}
	return ProcedurePath{}, false
}

// Contains returns true if the module defines a function named `name`.
func (m *Module) Contains(name string) bool {
	for _, f := range m.functions.All() {
		if f.Name.Name == name {
			return true
		}
	}
	return false
}

// PushBack appends a function to the module. Panics if the module has been
// frozen.
func (m *Module) PushBack(f *Function) {
	m.functions.PushBack(f)
}

// Functions returns the functions of the module in order.
func (m *Module) Functions() []*Function {
	return m.functions.All()
}

// Freeze transitions the module to its immutable form. Freezing is
// idempotent; a frozen module may be shared across threads.
func (m *Module) Freeze() *Module {
	m.functions.Freeze()
	return m
}

// IsFrozen returns true once the module has been frozen.
func (m *Module) IsFrozen() bool { return m.functions.IsFrozen() }

// Import registers an import of `path`, returning its local alias. Existing
// entries are reused.
func (m *Module) Import(path ModulePath) string {
	for _, imp := range m.Imports {
		if imp.Name == path {
			return imp.LocalAlias()
		}
	}
	imp := Import{Name: path}
	m.Imports = append(m.Imports, imp)
	return imp.LocalAlias()
}

// resolver renders a call target using local names for procedures in this
// module, and import aliases for everything else.
func (m *Module) resolver() func(ProcedurePath) string {
	aliases := make(map[ModulePath]string, len(m.Imports))
	for _, imp := range m.Imports {
		aliases[imp.Name] = imp.LocalAlias()
	}
	return func(p ProcedurePath) string {
		if p.Module == m.Name {
			return p.Name
		}
		if alias, ok := aliases[p.Module]; ok {
			return fmt.Sprintf("%s::%s", alias, p.Name)
		}
		return p.String()
	}
}

// WriteTo renders the module in .masm textual form: documentation, the
// `use` table, re-exports, then procedures, in that order.
func (m *Module) WriteTo(w io.Writer) error {
	if m.Docs != "" {
		for _, line := range strings.Split(strings.TrimRight(m.Docs, "\n"), "\n") {
			if _, err := fmt.Fprintf(w, "#! %s\n", line); err != nil {
				return err
			}
		}
	}

	for _, imp := range m.Imports {
		var err error
		if imp.IsAliased() {
			_, err = fmt.Fprintf(w, "use.%s->%s\n", imp.Name, imp.Alias)
		} else {
			_, err = fmt.Fprintf(w, "use.%s\n", imp.Name)
		}
		if err != nil {
			return err
		}
	}
	if len(m.Imports) > 0 {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	resolve := m.resolver()

	for _, re := range m.Reexports {
		target := resolve(re.Target)
		var err error
		if re.Name != re.Target.Name {
			_, err = fmt.Fprintf(w, "export.%s->%s\n", target, re.Name)
		} else {
			_, err = fmt.Fprintf(w, "export.%s\n", target)
		}
		if err != nil {
			return err
		}
	}
	if len(m.Reexports) > 0 {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	for i, f := range m.functions.All() {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := f.writeTo(w, resolve); err != nil {
			return err
		}
	}
	return nil
}

func (f *Function) writeTo(w io.Writer, resolve func(ProcedurePath) string) error {
	if f.Docs != "" {
		for _, line := range strings.Split(strings.TrimRight(f.Docs, "\n"), "\n") {
			if _, err := fmt.Fprintf(w, "#! %s\n", line); err != nil {
				return err
			}
		}
	}
	header := "proc"
	if f.Exported {
		header = "export"
	}
	if f.Entrypoint {
		if _, err := io.WriteString(w, "begin\n"); err != nil {
			return err
		}
	} else if f.NumLocals > 0 {
		if _, err := fmt.Fprintf(w, "%s.%s.%d\n", header, f.Name.Name, f.NumLocals); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "%s.%s\n", header, f.Name.Name); err != nil {
			return err
		}
	}
	for i := range f.Body {
		if err := f.Body[i].writeResolved(w, 1, resolve); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "end\n")
	return err
}

// String implements fmt.Stringer.
func (m *Module) String() string {
	var sb strings.Builder
	if err := m.WriteTo(&sb); err != nil {
		panic(err)
	}
	return sb.String()
}

// WriteToDirectory writes the module to `<dir>/<name components>/….masm`,
// laying the file out by the components of the fully-qualified name.
func (m *Module) WriteToDirectory(dir string) error {
	components := m.Name.Components()
	path := filepath.Join(append([]string{dir}, components...)...) + ".masm"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return m.WriteTo(file)
}
