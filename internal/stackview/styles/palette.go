// Package styles holds the colours and renderers shared by the stackview
// TUI and its command output.
package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Dark theme colours for stack lines, after the VS Code dark palette.
const (
	Foreground = "#D4D4D4"
	Offset     = "#858585"
	TypeName   = "#4EC9B0"
	Variable   = "#9CDCFE"
	Saved      = "#C586C0"
	FillByte   = "#5A5A5A"
	Comment    = "#6A9955"
	Selection  = "#264F78"
	Background = "#1E1E1E"
)

var (
	PaneTitle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(charmtone.Zest.Hex())).
			Background(lipgloss.Color(charmtone.Charple.Hex())).
			Bold(true).
			Padding(0, 1)

	CursorLine = lipgloss.NewStyle().Background(lipgloss.Color(Selection))

	CursorToken = lipgloss.NewStyle().
			Background(lipgloss.Color(charmtone.Malibu.Hex())).
			Foreground(lipgloss.Color(Background))

	Menu = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	StatusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Guac.Hex()))

	Address  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Function = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Prompt   = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Malibu.Hex())).Bold(true)
)
