// Package styles holds the shared lipgloss palette and formatting
// helpers used by the CLI output and the interactive models.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - coherent with charmbracelet style
var (
	Primary   = lipgloss.Color("#7D56F4") // Purple (charmbracelet brand)
	Secondary = lipgloss.Color("#FF79C6") // Pink accent
	Success   = lipgloss.Color("#50FA7B") // Green
	Warning   = lipgloss.Color("#FFB86C") // Orange
	Error     = lipgloss.Color("#FF5555") // Red
	Muted     = lipgloss.Color("#6272A4") // Muted blue-gray
	Text      = lipgloss.Color("#F8F8F2") // Light text
	Subtle    = lipgloss.Color("#44475A") // Dark background accent
)

// Base styles
var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(Primary).
		Padding(0, 1).
		Bold(true)

	NormalText  = lipgloss.NewStyle().Foreground(Text)
	MutedText   = lipgloss.NewStyle().Foreground(Muted)
	SuccessText = lipgloss.NewStyle().Foreground(Success)
	WarningText = lipgloss.NewStyle().Foreground(Warning)
	ErrorText   = lipgloss.NewStyle().Foreground(Error)

	Selected = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	Help = lipgloss.NewStyle().Foreground(Muted)

	Spinner = lipgloss.NewStyle().Foreground(Primary)
)

// Symbols
var (
	CheckMark = lipgloss.NewStyle().Foreground(Success).SetString("✓")
	CrossMark = lipgloss.NewStyle().Foreground(Error).SetString("✗")
	Bullet    = lipgloss.NewStyle().Foreground(Primary).SetString("•")
	Arrow     = lipgloss.NewStyle().Foreground(Primary).SetString("→")
)

// Package row styles for list output
var (
	PkgName = lipgloss.NewStyle().
		Foreground(Text).
		Bold(true)

	PkgVersion = lipgloss.NewStyle().Foreground(Muted)

	PkgSource = lipgloss.NewStyle().
			Foreground(Primary)

	PkgPinned = lipgloss.NewStyle().
			Foreground(Warning)
)

// FormatSuccess formats a success message
func FormatSuccess(msg string) string {
	return CheckMark.String() + " " + SuccessText.Render(msg)
}

// FormatError formats an error message
func FormatError(msg string) string {
	return CrossMark.String() + " " + ErrorText.Render(msg)
}

// FormatWarning formats a warning message
func FormatWarning(msg string) string {
	return WarningText.Render("! " + msg)
}

// FormatPinned returns a styled pin indicator
func FormatPinned(version string) string {
	return PkgPinned.Render("pinned @" + version)
}

// FormatDownloads formats a catalogue download count
func FormatDownloads(count int64) string {
	switch {
	case count <= 0:
		return ""
	case count >= 1_000_000:
		return MutedText.Render(fmt.Sprintf("%.1fM dl", float64(count)/1_000_000))
	case count >= 1000:
		return MutedText.Render(fmt.Sprintf("%.1fk dl", float64(count)/1000))
	}
	return MutedText.Render(fmt.Sprintf("%d dl", count))
}
