package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/textinput"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"stackview/internal/analysis"
	"stackview/internal/stack"
	"stackview/internal/stackview/styles"
	"stackview/internal/ui/colorize"
	"stackview/internal/vardb"
)

type viewMode int

const (
	viewFunctions viewMode = iota
	viewStack
	viewDetails
)

type promptKind int

const (
	promptNone promptKind = iota
	promptRename
	promptRetype
	promptGoTo
)

// gutter is the width of the cursor marker drawn left of every stack line.
const gutter = 2

// Message types
type boundMsg struct {
	fn *stack.Function
}

type journalMsg struct {
	rec vardb.Record
}

type watchDoneMsg struct {
	err error
}

type model struct {
	ctx       context.Context
	ws        *workspace
	host      *session
	view      *stack.View
	mutator   *stack.Mutator
	functions list.Model
	details   viewport.Model
	spinner   spinner.Model
	input     textinput.Model
	prompt    promptKind
	mode      viewMode
	records   chan vardb.Record
	start     string
	loading   bool
	top       int
	status    string
	statusErr bool
	width     int
	height    int
}

func newModel(ctx context.Context, ws *workspace, start string) model {
	host := &session{ws: ws}
	view := stack.NewView(ws.builder, stack.CellMetrics(), host)
	host.view = view

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Selected

	dvp := viewport.New()
	dvp.SetWidth(80)
	dvp.SetHeight(22)

	ti := textinput.New()
	ti.Prompt = "> "

	m := model{
		ctx:       ctx,
		ws:        ws,
		host:      host,
		view:      view,
		mutator:   stack.NewMutator(view),
		functions: newFunctionList(ws.functions, 80, 22),
		details:   dvp,
		spinner:   s,
		input:     ti,
		mode:      viewFunctions,
		start:     start,
		width:     80,
		height:    24,
	}
	if ws.cfg != nil && ws.cfg.Following() && ws.journal != nil {
		m.records = make(chan vardb.Record, 16)
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.start != "" {
		cmds = append(cmds, m.resolveCmd(m.start))
	}
	if m.records != nil {
		cmds = append(cmds, m.watchCmd(), waitForRecord(m.records))
	}
	return tea.Batch(cmds...)
}

// resolveCmd looks up a function by name and scans its frame off the UI
// goroutine.
func (m model) resolveCmd(query string) tea.Cmd {
	ws := m.ws
	return func() tea.Msg {
		fn, err := ws.function(query)
		if err != nil {
			return errMsg{err}
		}
		return boundMsg{fn: fn}
	}
}

func (m model) bindCmd(f analysis.Function) tea.Cmd {
	ws := m.ws
	return func() tea.Msg {
		return boundMsg{fn: ws.analysis.Function(f)}
	}
}

// watchCmd follows the journal until the program's context ends. The
// records channel is closed once the watch stops.
func (m model) watchCmd() tea.Cmd {
	ctx, path, logger, out := m.ctx, m.ws.journal.Path(), m.ws.logger, m.records
	return func() tea.Msg {
		defer close(out)
		err := vardb.Watch(ctx, path, logger, func(rec vardb.Record) {
			select {
			case out <- rec:
			case <-ctx.Done():
			}
		})
		return watchDoneMsg{err: err}
	}
}

func waitForRecord(ch <-chan vardb.Record) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return nil
		}
		return journalMsg{rec: rec}
	}
}

type errMsg struct{ err error }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case boundMsg:
		m.loading = false
		m.view.Bind(msg.fn)
		m.top = 0
		m.mode = viewStack
		m.setStatus(fmt.Sprintf("%s: %d lines", msg.fn.Name, m.view.Layout().Len()))
		return m, nil

	case journalMsg:
		if err := m.ws.journal.Reload(); err != nil {
			m.setError(err)
		} else if fn := m.view.Function(); fn != nil && fn.Addr == msg.rec.Func {
			m.view.Notify(fn)
			m.scrollToCursor()
		}
		return m, waitForRecord(m.records)

	case watchDoneMsg:
		if msg.err != nil {
			m.setError(fmt.Errorf("journal watch stopped: %w", msg.err))
		}
		return m, nil

	case errMsg:
		m.loading = false
		m.setError(msg.err)
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.functions.SetWidth(msg.Width)
		m.functions.SetHeight(msg.Height - 2)
		m.details.SetWidth(msg.Width)
		m.details.SetHeight(msg.Height - 2)
		if m.host.details != "" {
			m.details.SetContent(styles.Render(m.host.details, msg.Width-2))
		}
		m.scrollToCursor()
		return m, nil

	case tea.MouseClickMsg:
		if m.mode != viewStack || m.prompt != promptNone {
			return m, nil
		}
		mouse := msg.Mouse()
		if mouse.Button != tea.MouseLeft {
			return m, nil
		}
		m.click(mouse.X, mouse.Y, mouse.Mod&tea.ModShift != 0)
		return m, nil

	case tea.MouseWheelMsg:
		if m.mode != viewStack {
			break
		}
		switch msg.Mouse().Button {
		case tea.MouseWheelUp:
			m.view.Step(-1, 0)
		case tea.MouseWheelDown:
			m.view.Step(1, 0)
		}
		m.scrollToCursor()
		return m, nil

	case tea.KeyMsg:
		if m.prompt != promptNone {
			return m.updatePrompt(msg)
		}
		if m.mode == viewFunctions && m.functions.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.cycle(1)
			return m, nil
		case "shift+tab":
			m.cycle(-1)
			return m, nil
		}

		switch m.mode {
		case viewFunctions:
			if msg.String() == "enter" {
				if it, ok := m.functions.SelectedItem().(functionItem); ok {
					m.loading = true
					m.setStatus("scanning " + it.fn.DisplayName())
					return m, m.bindCmd(it.fn)
				}
				return m, nil
			}
		case viewStack:
			return m.updateStack(msg)
		case viewDetails:
			switch msg.String() {
			case "esc", "enter", "backspace":
				m.mode = viewStack
				return m, nil
			}
		}
	}

	switch m.mode {
	case viewFunctions:
		m.functions, cmd = m.functions.Update(msg)
	case viewDetails:
		m.details, cmd = m.details.Update(msg)
	}
	return m, cmd
}

func (m model) updateStack(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.view.Step(-1, 0)
	case "down", "j":
		m.view.Step(1, 0)
	case "left", "h":
		m.view.Step(0, -1)
	case "right", "l":
		m.view.Step(0, 1)
	case "pgup":
		m.view.Step(-m.stackHeight(), 0)
	case "pgdown":
		m.view.Step(m.stackHeight(), 0)
	case "home", "g":
		m.view.Cursor().Home()
		m.view.Step(0, 0)
	case "end", "G":
		m.view.Cursor().End()
		m.view.Step(0, 0)
	case "enter":
		if m.view.Navigate() && m.host.navigated {
			m.host.navigated = false
			m.details.SetContent(styles.Render(m.host.details, m.width-2))
			m.details.GotoTop()
			m.mode = viewDetails
		}
	case "esc", "f":
		m.mode = viewFunctions
	case "r":
		m.view.Refresh()
		m.setStatus("reloaded")
	case "c":
		m.apply(m.mutator.QuickCreateAtCursor())
	case "1", "2", "4", "8":
		if off, ok := m.view.Cursor().Offset(); ok {
			size := int64(msg.String()[0] - '0')
			m.apply(m.mutator.QuickCreateVariable(off, size))
		}
	case "x", "delete":
		if off, ok := m.variableOffset(); ok {
			m.apply(m.mutator.DeleteVariable(off))
		}
	case "N":
		if off, ok := m.variableOffset(); ok {
			m.apply(m.mutator.ClearVariableName(off))
		}
	case "n":
		if line, ok := m.variableLine(); ok {
			return m.openPrompt(promptRename, line.Name())
		}
	case "t":
		if line, ok := m.variableLine(); ok {
			return m.openPrompt(promptRetype, line.TypeName())
		}
	case ":":
		return m.openPrompt(promptGoTo, "")
	default:
		return m, nil
	}
	m.scrollToCursor()
	return m, nil
}

func (m model) openPrompt(kind promptKind, value string) (tea.Model, tea.Cmd) {
	m.prompt = kind
	switch kind {
	case promptRename:
		m.input.Prompt = "name> "
	case promptRetype:
		m.input.Prompt = "type> "
	case promptGoTo:
		m.input.Prompt = "offset> "
	}
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.closePrompt()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		kind := m.prompt
		m.closePrompt()
		m.submitPrompt(kind, value)
		m.scrollToCursor()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) closePrompt() {
	m.prompt = promptNone
	m.input.Blur()
	m.input.Reset()
}

func (m *model) submitPrompt(kind promptKind, value string) {
	switch kind {
	case promptGoTo:
		off, err := parseInt(value)
		if err != nil {
			m.setError(fmt.Errorf("bad offset %q", value))
			return
		}
		if !m.view.GoTo(off) {
			m.setError(fmt.Errorf("offset %s is outside the frame", stack.FormatOffset(off)))
		}
	case promptRename:
		if off, ok := m.variableOffset(); ok {
			m.apply(m.mutator.RenameVariable(off, value))
		}
	case promptRetype:
		off, ok := m.variableOffset()
		if !ok {
			return
		}
		typ, err := stack.ParseType(value)
		if err != nil {
			m.setError(err)
			return
		}
		m.apply(m.mutator.RetypeVariable(off, typ))
	}
}

// click maps a terminal cell to the stack view. Row 0 is the pane header.
func (m *model) click(x, y int, extend bool) {
	row := y - 1
	if row < 0 || row >= m.stackHeight() {
		return
	}
	p := stack.Point{X: max(x-gutter, 0), Y: (m.top + row) * stack.CellMetrics().LineHeight}
	if _, ok := m.view.Click(p, extend); ok {
		m.status = ""
	}
	m.scrollToCursor()
}

func (m *model) apply(err error) {
	if err != nil {
		m.setError(err)
		return
	}
	m.setStatus("")
}

func (m *model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
	if m.ws != nil && m.ws.logger != nil {
		m.ws.logger.Debug("tui error", "err", err)
	}
}

func (m *model) variableLine() (stack.Line, bool) {
	line, ok := m.view.Cursor().Line()
	if !ok || line.Kind() != stack.KindVariable {
		m.setError(errors.New("cursor is not on a variable"))
		return stack.Line{}, false
	}
	return line, true
}

func (m *model) variableOffset() (int64, bool) {
	line, ok := m.variableLine()
	return line.Offset(), ok
}

func (m *model) cycle(dir int) {
	modes := []viewMode{viewFunctions, viewStack, viewDetails}
	i := (int(m.mode) + dir + len(modes)) % len(modes)
	if modes[i] != viewFunctions && m.view.Function() == nil {
		i = int(viewFunctions)
	}
	if modes[i] == viewDetails && m.host.details == "" {
		i = (i + dir + len(modes)) % len(modes)
	}
	m.mode = modes[i]
}

// stackHeight is the number of stack lines that fit between the header and
// the status and menu rows.
func (m model) stackHeight() int {
	return max(m.height-3, 1)
}

func (m *model) scrollToCursor() {
	line := m.view.Cursor().Position().Line
	h := m.stackHeight()
	if line < m.top {
		m.top = line
	}
	if line >= m.top+h {
		m.top = line - h + 1
	}
	m.top = max(min(m.top, m.view.Layout().Len()-h), 0)
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewFunctions:
		content = m.functions.View()
	case viewDetails:
		content = m.details.View()
	default:
		content = m.renderStack()
	}

	var menu string
	switch m.mode {
	case viewFunctions:
		menu = " Enter: open • /: filter • Tab: cycle • Q: quit "
	case viewDetails:
		menu = " Esc: back • ↑/↓: scroll • Tab: cycle • Q: quit "
	default:
		menu = " c/1/2/4/8: create • n: name • t: type • x: delete • Enter: refs • :: go to • Esc: functions "
	}
	return content + "\n" + m.statusLine() + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func (m model) statusLine() string {
	switch {
	case m.prompt != promptNone:
		return m.input.View()
	case m.loading:
		return m.spinner.View() + " " + m.status
	case m.statusErr:
		return styles.StatusError.Render(m.status)
	case m.mode == viewStack && m.status == "":
		return styles.StatusInfo.Render(selectionText(m.host.selection))
	default:
		return styles.StatusInfo.Render(m.status)
	}
}

func selectionText(sel stack.Selection) string {
	if sel.Empty() {
		return stack.FormatOffset(sel.Begin)
	}
	return fmt.Sprintf("[%s, %s) %d bytes", stack.FormatOffset(sel.Begin), stack.FormatOffset(sel.End), sel.Size())
}

func (m model) renderStack() string {
	fn := m.view.Function()
	h := m.stackHeight()
	rows := make([]string, 0, h+1)

	title := "no function"
	if fn != nil {
		title = fmt.Sprintf("%s @ %#x  frame %#x", fn.Name, fn.Addr, fn.FrameSize)
	}
	rows = append(rows, styles.PaneTitle.Render(title))

	layout := m.view.Layout()
	if layout.Empty() {
		rows = append(rows, "  no stack variables")
	}
	pos := m.view.Cursor().Position()
	for i := m.top; i < layout.Len() && i < m.top+h; i++ {
		line, _ := layout.Line(i)
		if i == pos.Line {
			rows = append(rows, styles.Selected.Render("▶")+" "+colorize.RenderTokens(line.Content(), pos.Token))
			continue
		}
		rows = append(rows, "  "+colorize.RenderTokens(line.Content(), -1))
	}
	for len(rows) < h+1 {
		rows = append(rows, "")
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
