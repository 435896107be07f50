// Package styles holds the color palette and lipgloss building blocks
// shared by the busline CLI commands.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette. Sky blue primary with amber accents; status colors follow
// the usual green/yellow/red convention.
var (
	Primary      = lipgloss.Color("#0EA5E9")
	PrimaryLight = lipgloss.Color("#7DD3FC")

	Success = lipgloss.Color("#22C55E")
	Warning = lipgloss.Color("#EAB308")
	Error   = lipgloss.Color("#EF4444")
	Info    = lipgloss.Color("#3B82F6")

	Text      = lipgloss.Color("#F8FAFC")
	TextMuted = lipgloss.Color("#94A3B8")
	TextDim   = lipgloss.Color("#64748B")
	Surface   = lipgloss.Color("#1E293B")
	Border    = lipgloss.Color("#334155")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Text styles
var (
	Bold     = lipgloss.NewStyle().Bold(true)
	Title    = lipgloss.NewStyle().Bold(true).Foreground(Primary).MarginBottom(1)
	Subtitle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryLight)
	Normal   = fg(Text)
	Muted    = fg(TextMuted)
	Dim      = fg(TextDim)

	// Code renders inline shell commands and file names.
	Code = fg(Warning).Background(Surface).Padding(0, 1)
)

// Status styles
var (
	SuccessStyle = fg(Success)
	WarningStyle = fg(Warning)
	ErrorStyle   = fg(Error)
	InfoStyle    = fg(Info)
)

// Icons
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconDot     = "•"
	IconPending = "◌"
	IconQueue   = "⇶"
	IconGear    = "⚙️"
	IconBus     = "🚌"
)

// Layout helpers
var (
	// Box wraps content in a rounded border.
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(1, 2)

	// Indent shifts text right by two columns.
	Indent = lipgloss.NewStyle().PaddingLeft(2)
)

func iconMessage(style lipgloss.Style, icon, msg string) string {
	return style.Render(icon) + " " + Normal.Render(msg)
}

// FormatSuccess formats a success message with its icon.
func FormatSuccess(msg string) string { return iconMessage(SuccessStyle, IconSuccess, msg) }

// FormatError formats an error message with its icon.
func FormatError(msg string) string { return iconMessage(ErrorStyle, IconError, msg) }

// FormatWarning formats a warning message with its icon.
func FormatWarning(msg string) string { return iconMessage(WarningStyle, IconWarning, msg) }

// FormatInfo formats an informational message with its icon.
func FormatInfo(msg string) string { return iconMessage(InfoStyle, IconInfo, msg) }

// DisableColors clears the palette for terminals without color support.
// Styles built from the palette keep their layout but render plain.
func DisableColors() {
	for _, c := range []*lipgloss.Color{
		&Primary, &PrimaryLight,
		&Success, &Warning, &Error, &Info,
		&Text, &TextMuted, &TextDim, &Surface, &Border,
	} {
		*c = lipgloss.Color("")
	}
}
