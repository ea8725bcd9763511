package masm

import (
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Digest is the 256-bit content digest identifying a compiled library.
type Digest [32]byte

// ComputeDigest returns the digest of `data`.
func ComputeDigest(data []byte) Digest {
	return blake2b.Sum256(data)
}

// String implements fmt.Stringer as lowercase hex.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Library is a pre-compiled library the program links against, identified by
// the digest of its contents. The exported procedure surface is all the core
// needs to reference it.
type Library struct {
	Digest  Digest
	Name    string
	Exports []ProcedurePath
}

// GlobalVariable is a program-level global in the emitted artifact.
type GlobalVariable struct {
	Name   string
	Size   uint32
	Offset uint32
	Init   []byte
}

// DataSegment is one initialized region of the program's linear memory.
type DataSegment struct {
	Offset   uint32
	Size     uint32
	Data     []byte
	Readonly bool
}

// Program is an ordered tree of modules together with the libraries it links
// against, its global variables and data segments, and an optional
// entrypoint.
type Program struct {
	// modules is kept ordered by name; lookup is by binary search.
	modules []*Module
	// libraries is keyed by content digest.
	libraries map[Digest]*Library

	Globals  []GlobalVariable
	Segments []DataSegment

	// entrypoint is the program entrypoint, if any.
	entrypoint    ProcedurePath
	hasEntrypoint bool

	frozen bool
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{libraries: make(map[Digest]*Library)}
}

// AddModule inserts `m` into the module tree, keeping modules ordered by
// name. Inserting a duplicate name or a second executable module is an
// error; mutating a frozen program is a programmer error.
func (p *Program) AddModule(m *Module) error {
	if p.frozen {
		panic("BUG: attempted to modify a frozen program")
	}
	i := sort.Search(len(p.modules), func(i int) bool {
		return p.modules[i].Name >= m.Name
	})
	if i < len(p.modules) && p.modules[i].Name == m.Name {
		return fmt.Errorf("module %s is already defined", m.Name)
	}
	if m.IsExecutable() {
		for _, existing := range p.modules {
			if existing.IsExecutable() {
				return fmt.Errorf("program already contains executable module %s", existing.Name)
			}
		}
		if ep, ok := m.Entrypoint(); ok {
			p.entrypoint = ep
			p.hasEntrypoint = true
		}
	}
	p.modules = append(p.modules, nil)
	copy(p.modules[i+1:], p.modules[i:])
	p.modules[i] = m
	return nil
}

// Module returns the module named `name`, if present.
func (p *Program) Module(name ModulePath) (*Module, bool) {
	i := sort.Search(len(p.modules), func(i int) bool {
		return p.modules[i].Name >= name
	})
	if i < len(p.modules) && p.modules[i].Name == name {
		return p.modules[i], true
	}
	return nil, false
}

// Modules returns the modules ordered by name.
func (p *Program) Modules() []*Module { return p.modules }

// AddLibrary links `lib` into the program, keyed by its digest.
func (p *Program) AddLibrary(lib *Library) {
	if p.frozen {
		panic("BUG: attempted to modify a frozen program")
	}
	p.libraries[lib.Digest] = lib
}

// Libraries returns the linked libraries ordered by digest.
func (p *Program) Libraries() []*Library {
	out := make([]*Library, 0, len(p.libraries))
	for _, lib := range p.libraries {
		out = append(out, lib)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Digest, out[j].Digest
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

// Entrypoint returns the program entrypoint, if declared.
func (p *Program) Entrypoint() (ProcedurePath, bool) {
	return p.entrypoint, p.hasEntrypoint
}

// HasEntrypoint returns true when an entrypoint is present.
func (p *Program) HasEntrypoint() bool { return p.hasEntrypoint }

// IsExecutable returns true iff the program declares an entrypoint.
func (p *Program) IsExecutable() bool { return p.hasEntrypoint }

// Freeze transitions the program and all of its modules to the immutable,
// shareable form. Freezing is idempotent.
func (p *Program) Freeze() *Program {
	for _, m := range p.modules {
		m.Freeze()
	}
	p.frozen = true
	return p
}

// IsFrozen returns true once the program has been frozen.
func (p *Program) IsFrozen() bool { return p.frozen }

// WriteTo renders every module of the program, each preceded by a
// `# mod <name>` header line.
func (p *Program) WriteTo(w io.Writer) error {
	for i, m := range p.modules {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# mod %s\n\n", m.Name); err != nil {
			return err
		}
		if err := m.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteToDirectory writes each module of the program under `dir`, laid out
// by the components of its fully-qualified name.
func (p *Program) WriteToDirectory(dir string) error {
	for _, m := range p.modules {
		if err := m.WriteToDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}
