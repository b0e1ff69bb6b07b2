package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/buildscope/buildscope/internal/engine"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// TerminalSink prints events for a person watching the build.
type TerminalSink struct {
	w       io.Writer
	verbose bool
	styles  map[rules.Severity]lipgloss.Style
	header  lipgloss.Style
	context lipgloss.Style
}

// NewTerminalSink writes to w (stdout when nil). Colour is used when color is
// true; verbose events are shown only when verbose is true.
func NewTerminalSink(w io.Writer, color, verbose bool) *TerminalSink {
	if w == nil {
		w = os.Stdout
	}
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return &TerminalSink{
		w:       w,
		verbose: verbose,
		styles: map[rules.Severity]lipgloss.Style{
			rules.SeverityVerbose:   r.NewStyle().Foreground(lipgloss.Color("8")),
			rules.SeverityMessage:   r.NewStyle(),
			rules.SeverityImportant: r.NewStyle().Foreground(lipgloss.Color("11")),
			rules.SeverityError:     r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			rules.SeveritySuccess:   r.NewStyle().Foreground(lipgloss.Color("10")),
		},
		header:  r.NewStyle().Foreground(lipgloss.Color("12")),
		context: r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s *TerminalSink) Write(e engine.Event) error {
	if e.Severity == rules.SeverityVerbose && !s.verbose {
		return nil
	}

	style, ok := s.styles[e.Severity]
	if !ok {
		style = s.styles[rules.SeverityMessage]
	}
	header := s.header.Render("[" + e.Header + "]")
	if _, err := fmt.Fprintf(s.w, "%s %s\n", header, style.Render(e.Message)); err != nil {
		return err
	}
	for _, line := range e.Context {
		if _, err := fmt.Fprintf(s.w, "    %s\n", s.context.Render(line)); err != nil {
			return err
		}
	}
	return nil
}

func (s *TerminalSink) Flush() error { return nil }

func (s *TerminalSink) Close() error { return nil }

func (s *TerminalSink) Name() string { return "terminal" }
