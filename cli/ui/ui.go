// Package ui provides reusable UI components for the busline CLI.
// It includes spinners, tables, and banners built on bubbletea.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/R-Suite/busline/cli/styles"
)

// SpinnerModel is a spinner component with a message
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(m.result) + "\n"
		}
		return styles.FormatSuccess(m.result) + "\n"
	}

	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}

	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// SpinnerDoneMsg signals that the spinner operation is complete
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

// Table renders a bordered table
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := 0; i < len(t.headers); i++ {
		if i < len(values) {
			row[i] = values[i]
			if len(values[i]) > t.widths[i] {
				t.widths[i] = len(values[i])
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().
		Foreground(styles.Text).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().
		Foreground(styles.Border)

	rule := func(left, mid, right string) {
		sb.WriteString(borderStyle.Render(left))
		for i, w := range t.widths {
			sb.WriteString(borderStyle.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(borderStyle.Render(mid))
			}
		}
		sb.WriteString(borderStyle.Render(right))
		sb.WriteString("\n")
	}

	rule("┌", "┬", "┐")

	sb.WriteString(borderStyle.Render("│"))
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Width(t.widths[i] + 2).Render(h))
		sb.WriteString(borderStyle.Render("│"))
	}
	sb.WriteString("\n")

	rule("├", "┼", "┤")

	for _, row := range t.rows {
		sb.WriteString(borderStyle.Render("│"))
		for i, cell := range row {
			sb.WriteString(cellStyle.Width(t.widths[i] + 2).Render(cell))
			sb.WriteString(borderStyle.Render("│"))
		}
		sb.WriteString("\n")
	}

	rule("└", "┴", "┘")

	return sb.String()
}

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "running", "healthy", "ok", "success", "connected":
		return lipgloss.NewStyle().
			Background(styles.Success).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "pending", "waiting", "retrying":
		return lipgloss.NewStyle().
			Background(styles.Warning).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "error", "failed", "stopped", "dead-lettered":
		return lipgloss.NewStyle().
			Background(styles.Error).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Render(status)
	default:
		return lipgloss.NewStyle().
			Background(styles.Surface).
			Foreground(styles.Text).
			Padding(0, 1).
			Render(status)
	}
}

// Banner renders the busline ASCII art banner
func Banner() string {
	banner := `
    ██████╗ ██╗   ██╗███████╗██╗     ██╗███╗   ██╗███████╗
    ██╔══██╗██║   ██║██╔════╝██║     ██║████╗  ██║██╔════╝
    ██████╔╝██║   ██║███████╗██║     ██║██╔██╗ ██║█████╗
    ██╔══██╗██║   ██║╚════██║██║     ██║██║╚██╗██║██╔══╝
    ██████╔╝╚██████╔╝███████║███████╗██║██║ ╚████║███████╗
    ╚═════╝  ╚═════╝ ╚══════╝╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝

           Saga Messaging Middleware for Go
`
	return lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Render(banner)
}

// SimpleBanner returns a smaller, simpler banner
func SimpleBanner() string {
	return styles.IconBus + " " + lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("busline") +
		" " +
		styles.Muted.Render("- Saga Messaging Middleware for Go")
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// ListItems formats a list of items with bullets
func ListItems(items []string) string {
	var sb strings.Builder
	bullet := lipgloss.NewStyle().Foreground(styles.Primary).PaddingRight(1)
	for _, item := range items {
		sb.WriteString(bullet.Render(styles.IconDot))
		sb.WriteString(styles.Indent.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}

// NumberedList formats a numbered list
func NumberedList(items []string) string {
	var sb strings.Builder
	for i, item := range items {
		numStyle := lipgloss.NewStyle().
			Foreground(styles.Primary).
			Width(4)
		sb.WriteString(numStyle.Render(fmt.Sprintf("%d.", i+1)))
		sb.WriteString(styles.Normal.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}
