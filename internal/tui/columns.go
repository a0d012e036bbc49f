package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// AlignColumns renders [label, value] rows with labels padded to the widest
// one. indent prefixes every line and gap separates the columns.
func AlignColumns(rows [][2]string, indent string, gap int, styleLeft, styleRight lipgloss.Style) string {
	if len(rows) == 0 {
		return ""
	}

	// visual width, so wide runes and styled text line up
	width := 0
	for _, row := range rows {
		width = max(width, lipgloss.Width(row[0]))
	}

	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(indent)
		sb.WriteString(styleLeft.Render(row[0]))
		sb.WriteString(strings.Repeat(" ", width-lipgloss.Width(row[0])+gap))
		sb.WriteString(styleRight.Render(row[1]))
		sb.WriteByte('\n')
	}
	return sb.String()
}
