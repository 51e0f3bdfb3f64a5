package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const AppName = "ttsync"

var (
	PrimaryColor   = lipgloss.Color("#FF6B6B") // Warm coral
	SecondaryColor = lipgloss.Color("#4ECDC4") // Teal
	AccentColor    = lipgloss.Color("#95E1D3") // Mint

	MutedColor   = lipgloss.Color("#94A3B8")
	UnreadColor  = lipgloss.Color("#FFE66D")
	ReadColor    = lipgloss.Color("#64748B")
	ErrorColor   = lipgloss.Color("#EF4444")
	WarnColor    = lipgloss.Color("#F59E0B")
	SuccessColor = lipgloss.Color("#10B981")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	unreadStyle = lipgloss.NewStyle().
			Foreground(UnreadColor).
			Bold(true)

	readStyle = lipgloss.NewStyle().
			Foreground(ReadColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	accentStyle = lipgloss.NewStyle().
			Foreground(AccentColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(WarnColor)

	successStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	brandStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)
)

// table renders rows in aligned columns. Cells may already be styled.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			if i < len(cells)-1 {
				cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			}
			parts[i] = cell
		}
		return strings.Join(parts, "  ")
	}

	fmt.Fprintln(w, line(t.headers, &headerStyle))
	for _, row := range t.rows {
		fmt.Fprintln(w, line(row, nil))
	}
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warnStyle.Render("warning: "+fmt.Sprintf(format, args...)))
}
