// Package session carries the per-compilation state shared by every stage:
// options, diagnostics, and the resolution of output files.
package session

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputType is the closed set of artifacts the compiler can produce.
type OutputType uint8

const (
	// OutputAst is the parse tree of the input, when applicable.
	OutputAst OutputType = iota
	// OutputHir is the textual form of the IR.
	OutputHir
	// OutputMasm is Miden Assembly text.
	OutputMasm
	// OutputMast is the Merkelized AST in textual form.
	OutputMast
	// OutputMasl is the MAST library in binary form; the default artifact.
	OutputMasl
)

// AllOutputTypes returns every output type, in emission order.
func AllOutputTypes() []OutputType {
	return []OutputType{OutputAst, OutputHir, OutputMasm, OutputMast, OutputMasl}
}

// String implements fmt.Stringer.
func (t OutputType) String() string {
	switch t {
	case OutputAst:
		return "ast"
	case OutputHir:
		return "hir"
	case OutputMasm:
		return "masm"
	case OutputMast:
		return "mast"
	case OutputMasl:
		return "masl"
	default:
		panic("BUG: unrecognized output type")
	}
}

// ParseOutputType resolves the textual form of an output type.
func ParseOutputType(s string) (OutputType, error) {
	switch s {
	case "ast":
		return OutputAst, nil
	case "hir":
		return OutputHir, nil
	case "masm":
		return OutputMasm, nil
	case "mast":
		return OutputMast, nil
	case "masl":
		return OutputMasl, nil
	default:
		return 0, fmt.Errorf("unrecognized output type %q, expected one of: ast, hir, masm, mast, masl", s)
	}
}

// IsIntermediate returns true for artifacts produced along the way rather
// than as the final result.
func (t OutputType) IsIntermediate() bool {
	return t != OutputMast && t != OutputMasl
}

// IsBinary returns true for artifacts with no textual form.
func (t OutputType) IsBinary() bool {
	return t == OutputMast || t == OutputMasl
}

// Extension returns the file extension for this output type. The mast and
// masl artifacts share the `.mast` extension: they are the textual and
// binary forms of the same tree.
func (t OutputType) Extension() string {
	switch t {
	case OutputAst:
		return "ast"
	case OutputHir:
		return "hir"
	case OutputMasm:
		return "masm"
	case OutputMast:
		return "mast"
	case OutputMasl:
		return "mast"
	default:
		panic("BUG: unrecognized output type")
	}
}

// OutputFile is either a real path or the standard output sentinel.
type OutputFile struct {
	path   string
	stdout bool
}

// Stdout is the standard output sentinel.
var Stdout = OutputFile{stdout: true}

// RealPath returns an OutputFile for `path`.
func RealPath(path string) OutputFile {
	return OutputFile{path: path}
}

// IsStdout returns true for the standard output sentinel.
func (f OutputFile) IsStdout() bool { return f.stdout }

// Path returns the real path, with ok=false for the stdout sentinel.
func (f OutputFile) Path() (string, bool) {
	return f.path, !f.stdout
}

// String implements fmt.Stringer.
func (f OutputFile) String() string {
	if f.stdout {
		return "stdout"
	}
	return f.path
}

// OutputFiles resolves the effective path of each requested output type.
type OutputFiles struct {
	// Stem is the default file stem, typically the input name.
	Stem string
	// TmpDir receives intermediate artifacts.
	TmpDir string
	// OutDir receives final artifacts.
	OutDir string
	// OutFile overrides the path of the final artifact only.
	OutFile *OutputFile
	// Requested is the set of output types to emit, with per-type path
	// overrides.
	Requested map[OutputType]*OutputFile
}

// NewOutputFiles returns a resolver emitting only the final artifact by
// default.
func NewOutputFiles(stem, outDir, tmpDir string) *OutputFiles {
	return &OutputFiles{
		Stem:      stem,
		TmpDir:    tmpDir,
		OutDir:    outDir,
		Requested: map[OutputType]*OutputFile{OutputMasl: nil},
	}
}

// Request adds `ty` to the set of emitted types, with an optional path
// override.
func (o *OutputFiles) Request(ty OutputType, file *OutputFile) {
	o.Requested[ty] = file
}

// RequestAll requests every output type, emitted into a single directory.
func (o *OutputFiles) RequestAll() {
	for _, ty := range AllOutputTypes() {
		if _, ok := o.Requested[ty]; !ok {
			o.Requested[ty] = nil
		}
	}
}

// ShouldEmit returns true if `ty` was requested.
func (o *OutputFiles) ShouldEmit(ty OutputType) bool {
	_, ok := o.Requested[ty]
	return ok
}

// OutputFileFor resolves the effective output file for `ty`: the per-type
// override if present, else the final-artifact override for final types,
// else `<stem>.<ext>` in the tmp dir (intermediates) or out dir (finals).
func (o *OutputFiles) OutputFileFor(ty OutputType) OutputFile {
	if file, ok := o.Requested[ty]; ok && file != nil {
		return *file
	}
	if !ty.IsIntermediate() && o.OutFile != nil {
		return *o.OutFile
	}
	dir := o.OutDir
	if ty.IsIntermediate() {
		dir = o.TmpDir
	}
	stem := o.Stem
	if stem == "" {
		stem = "out"
	}
	name := fmt.Sprintf("%s.%s", strings.TrimSuffix(stem, filepath.Ext(stem)), ty.Extension())
	return RealPath(filepath.Join(dir, name))
}
