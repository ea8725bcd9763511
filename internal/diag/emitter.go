package diag

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ConsoleEmitter renders diagnostics to a writer, colouring the severity
// header when the output is a terminal.
type ConsoleEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	sources SourceManager
	colored bool
}

// NewConsoleEmitter returns an emitter writing to `w`. Colour is enabled
// only when `w` is the process stderr/stdout attached to a TTY.
func NewConsoleEmitter(w io.Writer, sources SourceManager) *ConsoleEmitter {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = term.IsTerminal(int(f.Fd()))
	}
	return &ConsoleEmitter{w: w, sources: sources, colored: colored}
}

var severityColors = map[Severity]*color.Color{
	SeverityError:   color.New(color.FgRed, color.Bold),
	SeverityWarning: color.New(color.FgYellow, color.Bold),
	SeverityInfo:    color.New(color.FgBlue),
	SeverityAdvice:  color.New(color.FgCyan),
}

// Emit implements Emitter.
func (e *ConsoleEmitter) Emit(d *Diagnostic) {
	e.mu.Lock()
	defer e.mu.Unlock()

	header := d.Severity.String()
	if d.Code != "" {
		header = fmt.Sprintf("%s[%s]", header, d.Code)
	}
	if e.colored {
		header = severityColors[d.Severity].Sprint(header)
	}
	fmt.Fprintf(e.w, "%s: %s\n", header, d.Message)
	for _, label := range d.Labels {
		marker := "note"
		if label.Primary {
			marker = "  -->"
		}
		loc := ""
		if e.sources != nil && !label.Span.IsUnknown() {
			loc = e.sources.Location(label.Span)
		}
		if loc != "" {
			fmt.Fprintf(e.w, "%s %s: %s\n", marker, loc, label.Message)
		} else if label.Message != "" {
			fmt.Fprintf(e.w, "%s %s\n", marker, label.Message)
		}
	}
	if d.Help != "" {
		fmt.Fprintf(e.w, "  = help: %s\n", d.Help)
	}
	if d.URL != "" {
		fmt.Fprintf(e.w, "  = see: %s\n", d.URL)
	}
}
