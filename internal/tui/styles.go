package tui

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/tui/terminal"
)

// plainMode disables all styling. Output is plain text suitable for CI,
// pipes and --no-color.
var (
	plainMode bool
	plainOnce sync.Once
	plainMu   sync.RWMutex
)

// initPlainMode auto-detects plain mode on first use.
// Precedence: NO_COLOR > TTY detection > terminal capability detection.
func initPlainMode() {
	plainOnce.Do(func() {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			plainMode = true
			return
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // Fd() fits in int on all supported platforms
			plainMode = true
			return
		}
		if terminal.Detect().Caps == terminal.CapNone {
			plainMode = true
		}
	})
}

// SetPlainMode explicitly enables or disables plain mode.
// Call before any styled output.
func SetPlainMode(plain bool) {
	plainMu.Lock()
	defer plainMu.Unlock()
	plainMode = plain
	plainOnce.Do(func() {})
}

// IsPlainMode returns true if styling is disabled.
func IsPlainMode() bool {
	initPlainMode()
	plainMu.RLock()
	defer plainMu.RUnlock()
	return plainMode
}

// Palette. Adapts to the OS light/dark theme.
var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#1F5F8B", Dark: "#5FB3E8"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#7BC67E"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F2675B"}
	ColorHigh    = lipgloss.AdaptiveColor{Light: "#B5501D", Dark: "#F0894A"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#9A6B00", Dark: "#F2C94C"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#3A6E8F", Dark: "#8EC5E6"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

var (
	StyleTitle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold    = lipgloss.NewStyle().Bold(true)
	StylePlain   = lipgloss.NewStyle()

	stylePrefix = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	styleFaint  = lipgloss.NewStyle().Faint(true)

	StyleCritical = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	StyleHigh     = lipgloss.NewStyle().Foreground(ColorHigh)
)

const brand = "[sentinel]"

// Prefix returns the branded [sentinel] prefix.
func Prefix() string {
	if IsPlainMode() {
		return brand
	}
	return stylePrefix.Render(brand)
}

// SeverityStyle returns the style for a finding severity.
func SeverityStyle(s threat.Severity) lipgloss.Style {
	switch s {
	case threat.Critical:
		return StyleCritical
	case threat.High:
		return StyleHigh
	case threat.Medium:
		return StyleWarning
	case threat.Low:
		return StyleInfo
	default:
		return StyleMuted
	}
}

// SeverityBadge renders a severity like "▪ CRITICAL", or "[CRITICAL]" in
// plain mode.
func SeverityBadge(s threat.Severity) string {
	label := strings.ToUpper(s.String())
	if IsPlainMode() {
		return "[" + label + "]"
	}
	return SeverityStyle(s).Render(IconSquare + " " + label)
}

// LintBadge renders a catalog lint level ("error", "warning", "info").
func LintBadge(level string) string {
	label := strings.ToUpper(level)
	if IsPlainMode() {
		return "[" + label + "]"
	}
	var style lipgloss.Style
	switch level {
	case "error":
		style = StyleError
	case "warning":
		style = StyleWarning
	case "info":
		style = StyleInfo
	default:
		style = StyleMuted
	}
	return style.Render(IconSquare + " " + label)
}

func hasCapability(c terminal.Capability) bool {
	if IsPlainMode() {
		return false
	}
	return terminal.Detect().Caps.Has(c)
}

// Separator returns a section separator with a gradient trail.
func Separator(title string) string {
	if IsPlainMode() {
		if title == "" {
			return "---"
		}
		return "--- " + title + " ---"
	}
	trail := gradientTrail("━", 24, "#5FB3E8", "#2B3440")
	if title == "" {
		return trail
	}
	return StyleBold.Render(title) + " " + trail
}

func gradientTrail(char string, length int, from, to string) string {
	if !hasCapability(terminal.CapTruecolor) {
		return StyleMuted.Render(strings.Repeat(char, length))
	}
	var b strings.Builder
	for _, c := range GenerateGradient(from, to, length) {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render(char))
	}
	return b.String()
}

// Hyperlink wraps text in an OSC 8 link when the terminal supports it.
func Hyperlink(url, text string) string {
	if url == "" || !hasCapability(terminal.CapHyperlinks) {
		return text
	}
	return termenv.Hyperlink(url, text)
}

// Faint dims text when supported.
func Faint(text string) string {
	if !hasCapability(terminal.CapFaint) {
		return text
	}
	return styleFaint.Render(text)
}
