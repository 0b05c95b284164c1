// Package ui renders command output for a terminal: colored status words
// and tables. Color is dropped when stdout is not a terminal or NO_COLOR
// is set.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passColor   = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	failColor   = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	accentColor = lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}

	passStyle   = lipgloss.NewStyle().Foreground(passColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Init picks the color profile for w. Call it once before rendering.
func Init(w io.Writer) {
	lipgloss.SetColorProfile(Profile(w))
}

// Profile returns the color profile to render with for w.
func Profile(w io.Writer) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of w, or 80 when unknown.
func Width(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// SyncBadge labels a session's sync state.
func SyncBadge(synced bool) string {
	if synced {
		return RenderPass("synced")
	}
	return RenderWarn("pending")
}

// Status colors an attendance status word.
func Status(status string) string {
	switch status {
	case "present":
		return RenderPass(status)
	case "absent":
		return RenderFail(status)
	default:
		return RenderMuted(status)
	}
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

// Truncate shortens s to at most n display cells, ending with "…".
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= n {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if lipgloss.Width(b.String()+string(r)) > n-1 {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ") + "…"
}
