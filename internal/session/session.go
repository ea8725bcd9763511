package session

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/0xpolygonmiden/midenc/internal/diag"
)

// Options is the configuration of one compilation session. Values are
// populated from CLI flags, with defaults optionally loaded from a
// `midenc.toml` project file.
type Options struct {
	// ProjectName overrides the output file stem.
	ProjectName string `toml:"name"`
	// OutDir receives final artifacts.
	OutDir string `toml:"out-dir"`
	// TmpDir receives intermediate artifacts.
	TmpDir string `toml:"tmp-dir"`
	// Entrypoint is the fully-qualified name of the program entrypoint,
	// e.g. `app::main`, or empty to build a library.
	Entrypoint string `toml:"entrypoint"`
	// WarningsAsErrors promotes warnings to errors.
	WarningsAsErrors bool `toml:"warnings-as-errors"`
	// Verbosity selects the minimum severity printed: 0 errors only, up
	// to 3 for advice.
	Verbosity int `toml:"verbosity"`
	// DebugLog enables debug-level compiler logging.
	DebugLog bool `toml:"debug-log"`
}

// LoadConfig merges settings from a toml config file into `opts`, without
// overriding fields already set to non-zero values.
func LoadConfig(path string, opts *Options) error {
	var fromFile Options
	if _, err := toml.DecodeFile(path, &fromFile); err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	if opts.ProjectName == "" {
		opts.ProjectName = fromFile.ProjectName
	}
	if opts.OutDir == "" {
		opts.OutDir = fromFile.OutDir
	}
	if opts.TmpDir == "" {
		opts.TmpDir = fromFile.TmpDir
	}
	if opts.Entrypoint == "" {
		opts.Entrypoint = fromFile.Entrypoint
	}
	opts.WarningsAsErrors = opts.WarningsAsErrors || fromFile.WarningsAsErrors
	if opts.Verbosity == 0 {
		opts.Verbosity = fromFile.Verbosity
	}
	opts.DebugLog = opts.DebugLog || fromFile.DebugLog
	return nil
}

// Session owns the cross-cutting state of one compilation: options, the
// diagnostics handler, and output file resolution.
type Session struct {
	Options     Options
	Diagnostics *diag.Handler
	Outputs     *OutputFiles
}

// New builds a session from `opts`, wiring diagnostics to `stderr`.
func New(opts Options, stderr io.Writer, sources diag.SourceManager) *Session {
	if stderr == nil {
		stderr = io.Discard
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	if opts.DebugLog {
		logrus.SetLevel(logrus.DebugLevel)
	}

	verbosity := diag.SeverityError
	switch opts.Verbosity {
	case 1:
		verbosity = diag.SeverityWarning
	case 2:
		verbosity = diag.SeverityInfo
	case 3:
		verbosity = diag.SeverityAdvice
	}

	handler := diag.NewHandler(diag.Config{
		WarningsAsErrors: opts.WarningsAsErrors,
		Verbosity:        verbosity,
	}, sources, diag.NewConsoleEmitter(stderr, sources))

	return &Session{
		Options:     opts,
		Diagnostics: handler,
		Outputs:     NewOutputFiles(opts.ProjectName, opts.OutDir, opts.TmpDir),
	}
}

// EmitText writes a textual artifact to the effective path of `ty`, or to
// stdout when the sentinel was selected.
func (s *Session) EmitText(ty OutputType, render func(io.Writer) error) error {
	if !s.Outputs.ShouldEmit(ty) {
		return nil
	}
	file := s.Outputs.OutputFileFor(ty)
	if file.IsStdout() {
		return render(os.Stdout)
	}
	path, _ := file.Path()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("emitting %s output: %w", ty, err)
	}
	defer f.Close()
	logrus.WithFields(logrus.Fields{"type": ty.String(), "path": path}).Debug("emitting artifact")
	return render(f)
}

// EmitBinary writes a binary artifact to the effective path of `ty`.
func (s *Session) EmitBinary(ty OutputType, data []byte) error {
	if !s.Outputs.ShouldEmit(ty) {
		return nil
	}
	file := s.Outputs.OutputFileFor(ty)
	if file.IsStdout() {
		_, err := os.Stdout.Write(data)
		return err
	}
	path, _ := file.Path()
	logrus.WithFields(logrus.Fields{"type": ty.String(), "path": path}).Debug("emitting artifact")
	return os.WriteFile(path, data, 0o644)
}
