// Package driver orchestrates the compilation pipeline: input parsing,
// validation, the rewrite pass pipeline, code generation, and artifact
// emission per the session's requested output types.
package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/0xpolygonmiden/midenc/internal/analysis"
	"github.com/0xpolygonmiden/midenc/internal/codegen"
	"github.com/0xpolygonmiden/midenc/internal/hir"
	"github.com/0xpolygonmiden/midenc/internal/masm"
	"github.com/0xpolygonmiden/midenc/internal/pass"
	"github.com/0xpolygonmiden/midenc/internal/session"
	"github.com/0xpolygonmiden/midenc/internal/transform"
)

// DefaultPipeline returns the standard rewrite pipeline applied to each
// function before code generation.
func DefaultPipeline() pass.RewritePass[*hir.Function] {
	return pass.ChainPasses[*hir.Function](
		transform.UnreachableBlocks{},
		transform.InlineBlocks{},
		&transform.GreedyRewriteDriver{Patterns: transform.CanonicalizationPatterns()},
		transform.DeadCodeElimination{},
	)
}

// CompileFile compiles the textual HIR module at `path` using `sess` for
// configuration, diagnostics, and output selection.
func CompileFile(path string, sess *session.Session) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if sess.Outputs.Stem == "" {
		stem := filepath.Base(path)
		sess.Outputs.Stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	module, err := hir.ParseModule(string(source))
	if err != nil {
		sess.Diagnostics.Error("failed to parse %s: %v", path, err)
		return err
	}
	return Compile(module, sess)
}

// Compile runs the full pipeline over `module`.
func Compile(module *hir.Module, sess *session.Session) error {
	log := logrus.WithField("module", string(module.Name))

	// Validation failures abort before any transformation runs.
	if err := analysis.ValidateModule(module, sess.Diagnostics); err != nil {
		return err
	}
	log.Debug("validated module")

	mgr := pass.NewManager()
	pipeline := DefaultPipeline()
	for _, f := range module.Functions() {
		if err := pipeline.Apply(f, mgr, sess.Diagnostics); err != nil {
			sess.Diagnostics.Error("pass pipeline failed for %s: %v", f.ID, err)
			return err
		}
	}
	log.Debug("applied rewrite pipeline")

	if err := sess.EmitText(session.OutputHir, func(w io.Writer) error {
		return hir.WriteModule(w, module)
	}); err != nil {
		return err
	}

	var entrypoint *hir.FunctionIdent
	if sess.Options.Entrypoint != "" {
		i := strings.LastIndex(sess.Options.Entrypoint, "::")
		if i < 0 {
			err := fmt.Errorf("malformed entrypoint %q, expected `module::function`", sess.Options.Entrypoint)
			sess.Diagnostics.Error("%v", err)
			return err
		}
		entrypoint = &hir.FunctionIdent{
			Module:   hir.Ident(sess.Options.Entrypoint[:i]),
			Function: hir.Ident(sess.Options.Entrypoint[i+2:]),
		}
	}

	program, err := codegen.CompileProgram([]*hir.Module{module}, entrypoint)
	if err != nil {
		sess.Diagnostics.Error("code generation failed: %v", err)
		return err
	}
	program.Freeze()
	log.Debug("generated MASM program")

	if err := sess.EmitText(session.OutputMasm, program.WriteTo); err != nil {
		return err
	}

	// The mast and masl artifacts are produced by the external assembler
	// from the in-memory program; here they are emitted as the frozen
	// program's canonical rendering and its digest-stamped binary framing.
	if sess.Outputs.ShouldEmit(session.OutputMast) || sess.Outputs.ShouldEmit(session.OutputMasl) {
		var text strings.Builder
		if err := program.WriteTo(&text); err != nil {
			return err
		}
		digest := masm.ComputeDigest([]byte(text.String()))
		if err := sess.EmitText(session.OutputMast, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "# digest: %s\n%s", digest, text.String())
			return err
		}); err != nil {
			return err
		}
		if err := sess.EmitBinary(session.OutputMasl, append(digest[:], []byte(text.String())...)); err != nil {
			return err
		}
	}

	if sess.Diagnostics.HasErrors() {
		return fmt.Errorf("compilation of %s failed with %d errors",
			module.Name, sess.Diagnostics.ErrorCount())
	}
	return nil
}
