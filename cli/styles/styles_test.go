package styles

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, IconSuccess},
		{"error", FormatError, IconError},
		{"warning", FormatWarning, IconWarning},
		{"info", FormatInfo, IconInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.format("something happened")
			assert.Contains(t, out, tt.icon)
			assert.Contains(t, out, "something happened")
		})
	}
}

func TestDisableColors(t *testing.T) {
	origPrimary, origSuccess := Primary, Success
	defer func() {
		Primary, Success = origPrimary, origSuccess
	}()

	DisableColors()

	assert.Equal(t, lipgloss.Color(""), Primary)
	assert.Equal(t, lipgloss.Color(""), Success)
	assert.Equal(t, lipgloss.Color(""), Border)
}

func TestStylesRender(t *testing.T) {
	for _, s := range []lipgloss.Style{
		Bold, Title, Subtitle, Normal, Muted, Dim, Code,
		SuccessStyle, WarningStyle, ErrorStyle, InfoStyle,
		Box, Indent,
	} {
		assert.Contains(t, s.Render("queue"), "queue")
	}
}
