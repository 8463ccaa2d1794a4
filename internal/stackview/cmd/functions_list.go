package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/v2/list"
	tea "github.com/charmbracelet/bubbletea/v2"

	"stackview/internal/analysis"
	"stackview/internal/stackview/styles"
)

type functionItem struct {
	fn         analysis.Function
	filterTerm string
}

func newFunctionItem(fn analysis.Function) functionItem {
	return functionItem{fn: fn, filterTerm: fmt.Sprintf("%x %s %s", fn.Addr, fn.Name, fn.DisplayName())}
}

func (i functionItem) Title() string       { return fmt.Sprintf("%x  %s", i.fn.Addr, i.fn.DisplayName()) }
func (i functionItem) Description() string { return "" }
func (i functionItem) FilterValue() string { return i.filterTerm }

// functionDelegate draws one function per row: marker, address, name.
type functionDelegate struct{}

func (d functionDelegate) Height() int                               { return 1 }
func (d functionDelegate) Spacing() int                              { return 0 }
func (d functionDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d functionDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(functionItem)
	if !ok {
		return
	}
	indicator := " "
	addrStyle := styles.Address
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Selected
	}
	name := i.fn.DisplayName()
	if maxw := m.Width() - 20; maxw > 8 && len(name) > maxw {
		name = name[:maxw-1] + "…"
	}
	fmt.Fprintf(w, "%s %s  %s", indicator, addrStyle.Render(fmt.Sprintf("%8x", i.fn.Addr)), styles.Function.Render(name))
}

func newFunctionList(fns []analysis.Function, width, height int) list.Model {
	items := make([]list.Item, 0, len(fns))
	for _, fn := range fns {
		items = append(items, newFunctionItem(fn))
	}
	l := list.New(items, functionDelegate{}, width, height)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(true)
	l.Title = fmt.Sprintf("Functions (%d total)", len(fns))
	l.Styles.Title = styles.PaneTitle
	return l
}
