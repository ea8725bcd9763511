package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputType_Extensions(t *testing.T) {
	require.Equal(t, "ast", OutputAst.Extension())
	require.Equal(t, "hir", OutputHir.Extension())
	require.Equal(t, "masm", OutputMasm.Extension())
	// mast and masl intentionally share the extension: the same tree in
	// textual and binary form.
	require.Equal(t, "mast", OutputMast.Extension())
	require.Equal(t, "mast", OutputMasl.Extension())
}

func TestOutputType_Classification(t *testing.T) {
	require.True(t, OutputAst.IsIntermediate())
	require.True(t, OutputHir.IsIntermediate())
	require.True(t, OutputMasm.IsIntermediate())
	require.False(t, OutputMast.IsIntermediate())
	require.False(t, OutputMasl.IsIntermediate())

	require.False(t, OutputMasm.IsBinary())
	require.True(t, OutputMasl.IsBinary())
}

func TestParseOutputType(t *testing.T) {
	for _, name := range []string{"ast", "hir", "masm", "mast", "masl"} {
		ty, err := ParseOutputType(name)
		require.NoError(t, err)
		require.Equal(t, name, ty.String())
	}
	_, err := ParseOutputType("wasm")
	require.Error(t, err)
}

func TestOutputFiles_PathResolution(t *testing.T) {
	o := NewOutputFiles("wallet", "/out", "/tmp/midenc")
	o.RequestAll()

	// Intermediates land in the tmp dir, finals in the out dir.
	file := o.OutputFileFor(OutputHir)
	path, ok := file.Path()
	require.True(t, ok)
	require.Equal(t, filepath.Join("/tmp/midenc", "wallet.hir"), path)

	file = o.OutputFileFor(OutputMasl)
	path, _ = file.Path()
	require.Equal(t, filepath.Join("/out", "wallet.mast"), path)

	// A per-type override wins.
	custom := RealPath("/elsewhere/a.masm")
	o.Request(OutputMasm, &custom)
	file = o.OutputFileFor(OutputMasm)
	path, _ = file.Path()
	require.Equal(t, "/elsewhere/a.masm", path)

	// The final-artifact override applies only to final outputs.
	final := RealPath("/release/wallet.bin")
	o.OutFile = &final
	path, _ = o.OutputFileFor(OutputMasl).Path()
	require.Equal(t, "/release/wallet.bin", path)
	path, _ = o.OutputFileFor(OutputHir).Path()
	require.Equal(t, filepath.Join("/tmp/midenc", "wallet.hir"), path)
}

func TestOutputFiles_StdoutSentinel(t *testing.T) {
	o := NewOutputFiles("x", ".", ".")
	o.Request(OutputMasm, &Stdout)
	file := o.OutputFileFor(OutputMasm)
	require.True(t, file.IsStdout())
	_, ok := file.Path()
	require.False(t, ok)
	require.Equal(t, "stdout", file.String())
}

func TestOutputFiles_DefaultRequest(t *testing.T) {
	o := NewOutputFiles("x", ".", ".")
	require.True(t, o.ShouldEmit(OutputMasl))
	require.False(t, o.ShouldEmit(OutputHir))
	o.RequestAll()
	for _, ty := range AllOutputTypes() {
		require.True(t, o.ShouldEmit(ty))
	}
}
