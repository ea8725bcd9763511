// Package diag provides the diagnostics surface of the compiler: severities,
// a builder for rich diagnostics with labeled source spans, and a handler
// which tracks emitted errors so that a driver can abort compilation at
// well-defined points.
package diag

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Severity of a diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityAdvice
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityAdvice:
		return "advice"
	default:
		panic(fmt.Sprintf("BUG: unrecognized severity %d", s))
	}
}

// SourceSpan identifies a range of bytes in a source file managed by a
// SourceManager. The zero value is the unknown span.
type SourceSpan struct {
	SourceID uint32
	Start    uint32
	End      uint32
}

// UnknownSpan is the span used for entities with no source location.
var UnknownSpan = SourceSpan{}

// IsUnknown returns true for the unknown span.
func (s SourceSpan) IsUnknown() bool { return s == UnknownSpan }

// SourceManager resolves spans to human-readable locations. The frontend
// owns the real implementation; the core only needs this surface.
type SourceManager interface {
	// Location renders the given span as `file:line:col`, or "" if the
	// span cannot be resolved.
	Location(span SourceSpan) string
}

// Label attaches a message to a span within a diagnostic.
type Label struct {
	Span    SourceSpan
	Message string
	Primary bool
}

// Diagnostic is a single user-visible report.
type Diagnostic struct {
	Severity Severity
	Message  string
	Code     string
	URL      string
	Labels   []Label
	Help     string
}

// Error implements the error interface, so an error-severity diagnostic can
// propagate out of a pass as an ordinary error value.
func (d *Diagnostic) Error() string {
	var sb strings.Builder
	sb.WriteString(d.Severity.String())
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	for _, label := range d.Labels {
		if label.Primary && label.Message != "" {
			sb.WriteString(": ")
			sb.WriteString(label.Message)
			break
		}
	}
	return sb.String()
}

// Emitter renders diagnostics to an output channel. Implementations are
// responsible for their own thread safety.
type Emitter interface {
	Emit(d *Diagnostic)
}

// Config controls handler-wide diagnostic policy.
type Config struct {
	// WarningsAsErrors promotes warnings to errors.
	WarningsAsErrors bool
	// Verbosity suppresses diagnostics below the given severity; a
	// verbosity of SeverityWarning silences info and advice.
	Verbosity Severity
}

// Handler is the sink for all diagnostics produced during a compilation
// session. It may be invoked from any point; the error count is maintained
// with an atomic counter and emission is delegated to the Emitter.
type Handler struct {
	config  Config
	sources SourceManager
	emitter Emitter
	errs    atomic.Uint64
}

// NewHandler returns a handler with the given configuration, source manager
// and emitter. A nil emitter discards all diagnostics (but still counts
// errors).
func NewHandler(config Config, sources SourceManager, emitter Emitter) *Handler {
	return &Handler{config: config, sources: sources, emitter: emitter}
}

// SourceManager returns the source manager used to resolve spans.
func (h *Handler) SourceManager() SourceManager { return h.sources }

// HasErrors returns true if any error-severity diagnostic has been emitted.
func (h *Handler) HasErrors() bool { return h.errs.Load() > 0 }

// ErrorCount returns the number of error-severity diagnostics emitted so far.
func (h *Handler) ErrorCount() uint64 { return h.errs.Load() }

// AbortIfErrors panics with ErrAborted if any errors have been emitted.
// Drivers call this at stage boundaries to stop a doomed compilation.
func (h *Handler) AbortIfErrors() {
	if h.HasErrors() {
		panic(ErrAborted)
	}
}

// ErrAborted is the sentinel passed to panic by AbortIfErrors; drivers
// recover it at the top level and exit with a failure status.
var ErrAborted = fmt.Errorf("compilation aborted due to previous errors")

// Emit records and renders a finished diagnostic, applying severity
// promotion and verbosity suppression.
func (h *Handler) Emit(d *Diagnostic) {
	if d.Severity == SeverityWarning && h.config.WarningsAsErrors {
		d.Severity = SeverityError
	}
	if d.Severity == SeverityError {
		h.errs.Add(1)
	} else if d.Severity > h.config.Verbosity {
		return
	}
	if h.emitter != nil {
		h.emitter.Emit(d)
	}
}

// Error emits a simple error diagnostic with no labels.
func (h *Handler) Error(format string, args ...any) {
	h.Diagnostic(SeverityError).WithMessage(fmt.Sprintf(format, args...)).Emit()
}

// Warn emits a simple warning diagnostic with no labels.
func (h *Handler) Warn(format string, args ...any) {
	h.Diagnostic(SeverityWarning).WithMessage(fmt.Sprintf(format, args...)).Emit()
}

// Info emits a simple informational diagnostic with no labels.
func (h *Handler) Info(format string, args ...any) {
	h.Diagnostic(SeverityInfo).WithMessage(fmt.Sprintf(format, args...)).Emit()
}

// Diagnostic starts building a diagnostic of the given severity.
func (h *Handler) Diagnostic(severity Severity) *Builder {
	return &Builder{handler: h, d: Diagnostic{Severity: severity}}
}

// Builder constructs a diagnostic incrementally before emitting it, or
// converting it into an error for propagation.
type Builder struct {
	handler *Handler
	d       Diagnostic
}

// WithMessage sets the top-level message.
func (b *Builder) WithMessage(message string) *Builder {
	b.d.Message = message
	return b
}

// WithCode sets the diagnostic code.
func (b *Builder) WithCode(code string) *Builder {
	b.d.Code = code
	return b
}

// WithURL attaches a URL with more information about the diagnostic.
func (b *Builder) WithURL(url string) *Builder {
	b.d.URL = url
	return b
}

// WithPrimaryLabel attaches the primary label.
func (b *Builder) WithPrimaryLabel(span SourceSpan, message string) *Builder {
	b.d.Labels = append(b.d.Labels, Label{Span: span, Message: message, Primary: true})
	return b
}

// WithSecondaryLabel attaches a secondary label.
func (b *Builder) WithSecondaryLabel(span SourceSpan, message string) *Builder {
	b.d.Labels = append(b.d.Labels, Label{Span: span, Message: message})
	return b
}

// WithHelp attaches a help note.
func (b *Builder) WithHelp(note string) *Builder {
	b.d.Help = note
	return b
}

// Emit sends the diagnostic through the handler.
func (b *Builder) Emit() {
	b.handler.Emit(&b.d)
}

// IntoError emits the diagnostic and returns it as an error for propagation
// out of the failing pass.
func (b *Builder) IntoError() error {
	b.handler.Emit(&b.d)
	return &b.d
}
