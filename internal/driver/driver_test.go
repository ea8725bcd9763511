package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xpolygonmiden/midenc/internal/session"
)

const addModule = `module demo library

fn demo::add (u32, u32) -> (u32) fast external {
blk0(v0: u32, v1: u32):
    v2 = add.wrapping v0, v1 : u32
    ret v2
}
`

func TestCompileFile_EmitsRequestedArtifacts(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "demo.hir")
	require.NoError(t, os.WriteFile(input, []byte(addModule), 0o644))

	sess := session.New(session.Options{OutDir: dir, TmpDir: dir}, nil, nil)
	sess.Outputs.Request(session.OutputMasm, nil)
	sess.Outputs.Request(session.OutputHir, nil)

	require.NoError(t, CompileFile(input, sess))

	masmText, err := os.ReadFile(filepath.Join(dir, "demo.masm"))
	require.NoError(t, err)
	require.Contains(t, string(masmText), "export.add")
	require.Contains(t, string(masmText), "u32.wrapping.add")

	hirText, err := os.ReadFile(filepath.Join(dir, "demo.hir"))
	require.NoError(t, err)
	require.Contains(t, string(hirText), "fn demo::add")

	// The default masl artifact is framed with its content digest.
	masl, err := os.ReadFile(filepath.Join(dir, "demo.mast"))
	require.NoError(t, err)
	require.Greater(t, len(masl), 32)
}

func TestCompileFile_ValidationFailureAborts(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bad.hir")
	// Kernel convention outside a kernel module.
	bad := strings.Replace(addModule, ") fast external", ") kernel external", 1)
	require.NoError(t, os.WriteFile(input, []byte(bad), 0o644))

	sess := session.New(session.Options{OutDir: dir, TmpDir: dir}, nil, nil)
	require.Error(t, CompileFile(input, sess))
	require.True(t, sess.Diagnostics.HasErrors())

	// No artifacts were produced.
	_, err := os.Stat(filepath.Join(dir, "bad.mast"))
	require.True(t, os.IsNotExist(err))
}

func TestCompileFile_ParseFailure(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "garbage.hir")
	require.NoError(t, os.WriteFile(input, []byte("not a module"), 0o644))

	sess := session.New(session.Options{OutDir: dir, TmpDir: dir}, nil, nil)
	require.Error(t, CompileFile(input, sess))
}

func TestCompile_PipelineSimplifies(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "shift.hir")
	source := `module demo library

fn demo::double (u32) -> (u32) fast external {
blk0(v0: u32):
    v1 = const u32 $1 : u32
    v2 = shl v0, v1 : u32
    ret v2
}
`
	require.NoError(t, os.WriteFile(input, []byte(source), 0o644))

	sess := session.New(session.Options{OutDir: dir, TmpDir: dir}, nil, nil)
	sess.Outputs.Request(session.OutputMasm, nil)
	require.NoError(t, CompileFile(input, sess))

	masmText, err := os.ReadFile(filepath.Join(dir, "shift.masm"))
	require.NoError(t, err)
	require.Contains(t, string(masmText), "u32.wrapping.mul")
	require.NotContains(t, string(masmText), "shl")
}
