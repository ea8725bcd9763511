package session

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "midenc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "wallet"
out-dir = "build"
entrypoint = "app::main"
warnings-as-errors = true
verbosity = 2
`), 0o644))

	var opts Options
	require.NoError(t, LoadConfig(path, &opts))
	require.Equal(t, "wallet", opts.ProjectName)
	require.Equal(t, "build", opts.OutDir)
	require.Equal(t, "app::main", opts.Entrypoint)
	require.True(t, opts.WarningsAsErrors)
	require.Equal(t, 2, opts.Verbosity)

	// CLI-provided values take precedence over the file.
	opts = Options{ProjectName: "cli-name", Verbosity: 1}
	require.NoError(t, LoadConfig(path, &opts))
	require.Equal(t, "cli-name", opts.ProjectName)
	require.Equal(t, 1, opts.Verbosity)
	require.Equal(t, "build", opts.OutDir)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	var opts Options
	require.Error(t, LoadConfig(filepath.Join(t.TempDir(), "nope.toml"), &opts))
}

func TestSession_WarningsAsErrors(t *testing.T) {
	sess := New(Options{WarningsAsErrors: true}, nil, nil)
	sess.Diagnostics.Warn("this should count as an error")
	require.True(t, sess.Diagnostics.HasErrors())

	sess = New(Options{}, nil, nil)
	sess.Diagnostics.Warn("just a warning")
	require.False(t, sess.Diagnostics.HasErrors())
}

func TestSession_EmitText(t *testing.T) {
	dir := t.TempDir()
	sess := New(Options{ProjectName: "demo", OutDir: dir, TmpDir: dir}, nil, nil)
	sess.Outputs.Request(OutputMasm, nil)

	require.NoError(t, sess.EmitText(OutputMasm, func(w io.Writer) error {
		_, err := w.Write([]byte("begin\nend\n"))
		return err
	}))

	data, err := os.ReadFile(filepath.Join(dir, "demo.masm"))
	require.NoError(t, err)
	require.Equal(t, "begin\nend\n", string(data))

	// Unrequested types are not emitted.
	require.NoError(t, sess.EmitText(OutputAst, func(io.Writer) error {
		t.Fatal("ast output was not requested")
		return nil
	}))
}
