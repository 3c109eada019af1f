// Package termstyle styles the interactive client output.
package termstyle

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Styles renders the labels printed around chat turns.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Error     lipgloss.Style
	Notice    lipgloss.Style
}

// IsTerminal reports whether v is an *os.File attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Colorful reports whether output to w should carry colors. NO_COLOR turns
// them off even on a terminal.
func Colorful(w io.Writer) bool {
	return IsTerminal(w) && !termenv.EnvNoColor()
}

// For returns colored styles when w is a terminal and plain ones otherwise.
func For(w io.Writer) Styles {
	if !Colorful(w) {
		plain := lipgloss.NewStyle()
		return Styles{User: plain, Assistant: plain, Error: plain, Notice: plain}
	}

	r := lipgloss.NewRenderer(w)
	return Styles{
		User:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")),
		Notice:    r.NewStyle().Faint(true),
	}
}

// RenderMarkdown formats a finished reply for w. Non-terminal writers get the
// plain-text style so the output stays free of escape codes.
func RenderMarkdown(w io.Writer, markdown string, width int) (string, error) {
	style := "notty"
	if Colorful(w) {
		style = "dark"
		if !termenv.NewOutput(w).HasDarkBackground() {
			style = "light"
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
