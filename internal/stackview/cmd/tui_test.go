package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackview/internal/stack"
	"stackview/internal/stackview/config"
	"stackview/internal/vardb"
)

func key(s string) tea.KeyPressMsg {
	switch s {
	case "up":
		return tea.KeyPressMsg{Code: tea.KeyUp}
	case "down":
		return tea.KeyPressMsg{Code: tea.KeyDown}
	case "right":
		return tea.KeyPressMsg{Code: tea.KeyRight}
	case "enter":
		return tea.KeyPressMsg{Code: tea.KeyEnter}
	case "esc":
		return tea.KeyPressMsg{Code: tea.KeyEscape}
	}
	r := []rune(s)[0]
	return tea.KeyPressMsg{Code: r, Text: s}
}

func send(t *testing.T, m model, msgs ...tea.Msg) model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(model)
		require.True(t, ok)
	}
	return m
}

func boundModel(t *testing.T) (model, *memSource) {
	ws, src := testWorkspace()
	m := newModel(context.Background(), ws, "")
	m = send(t, m, tea.WindowSizeMsg{Width: 100, Height: 20}, boundMsg{fn: testFn})
	require.Equal(t, viewStack, m.mode)
	require.Equal(t, 3, m.view.Layout().Len())
	return m, src
}

func TestModelStepsAndReportsSelection(t *testing.T) {
	m, _ := boundModel(t)

	m = send(t, m, key("down"))
	assert.Equal(t, 1, m.view.Cursor().Position().Line)
	assert.Equal(t, stack.Selection{Begin: -0x10, End: -0x10}, m.host.selection)

	m = send(t, m, key("down"), key("right"))
	off, ok := m.view.Cursor().Offset()
	require.True(t, ok)
	assert.Equal(t, int64(-0x8), off)

	m = send(t, m, key("right"))
	off, _ = m.view.Cursor().Offset()
	assert.Equal(t, int64(-0x7), off)
	assert.Equal(t, stack.Selection{Begin: -0x7, End: -0x7}, m.host.selection)
}

func TestModelQuickCreateAndDelete(t *testing.T) {
	m, src := boundModel(t)

	m = send(t, m, key("c"))
	assert.False(t, m.statusErr, m.status)
	v, ok := src.vars[testFn.Addr][-0x20]
	require.True(t, ok)
	assert.Equal(t, "var_20", v.Name)
	assert.Equal(t, int64(8), v.Size)

	// the cursor now sits on the new variable; creating again conflicts
	m = send(t, m, key("c"))
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, stack.ErrOverlap.Error())

	m = send(t, m, key("x"))
	assert.NotContains(t, src.vars[testFn.Addr], int64(-0x20))
	assert.Equal(t, 3, m.view.Layout().Len())
}

func TestModelSizedQuickCreate(t *testing.T) {
	m, src := boundModel(t)
	m = send(t, m, key("4"))
	assert.Equal(t, "int32_t", src.vars[testFn.Addr][-0x20].Type.Name)
}

func TestModelRenamePrompt(t *testing.T) {
	m, src := boundModel(t)
	m = send(t, m, key("down"), key("n"))
	require.Equal(t, promptRename, m.prompt)
	assert.Equal(t, "var_10", m.input.Value())

	m.input.SetValue("counter")
	m = send(t, m, key("enter"))
	assert.Equal(t, promptNone, m.prompt)
	assert.Equal(t, "counter", src.vars[testFn.Addr][-0x10].Name)
	assert.Contains(t, ansi.Strip(m.View()), "counter")
}

func TestModelRetypePrompt(t *testing.T) {
	m, src := boundModel(t)
	m = send(t, m, key("down"), key("t"))
	require.Equal(t, promptRetype, m.prompt)

	m.input.SetValue("int32_t")
	m = send(t, m, key("enter"))
	v := src.vars[testFn.Addr][-0x10]
	assert.Equal(t, "int32_t", v.Type.Name)
	assert.Equal(t, int64(4), v.Size)
}

func TestModelPromptOnFillLineFails(t *testing.T) {
	m, _ := boundModel(t)
	m = send(t, m, key("n"))
	assert.Equal(t, promptNone, m.prompt)
	assert.True(t, m.statusErr)
}

func TestModelGoTo(t *testing.T) {
	m, _ := boundModel(t)
	m = send(t, m, key(":"))
	require.Equal(t, promptGoTo, m.prompt)
	m.input.SetValue("-0x8")
	m = send(t, m, key("enter"))
	assert.Equal(t, 2, m.view.Cursor().Position().Line)

	m = send(t, m, key(":"))
	m.input.SetValue("0x400")
	m = send(t, m, key("enter"))
	assert.True(t, m.statusErr)
	assert.Equal(t, 2, m.view.Cursor().Position().Line)
}

func TestModelClick(t *testing.T) {
	m, _ := boundModel(t)

	// row 0 is the header, so y=2 is the second stack line
	m = send(t, m, tea.MouseClickMsg{X: 4, Y: 2, Button: tea.MouseLeft})
	assert.Equal(t, 1, m.view.Cursor().Position().Line)
	assert.Equal(t, stack.Selection{Begin: -0x10, End: -0x10}, m.host.selection)

	m = send(t, m, tea.MouseClickMsg{X: 4, Y: 3, Button: tea.MouseLeft, Mod: tea.ModShift})
	assert.Equal(t, 2, m.view.Cursor().Position().Line)
	assert.Equal(t, int64(-0x10), m.host.selection.Begin)
	assert.Greater(t, m.host.selection.End, int64(-0x8))
}

func TestModelNavigateShowsDetails(t *testing.T) {
	m, _ := boundModel(t)
	m = send(t, m, key("down"), key("enter"))
	assert.Equal(t, viewDetails, m.mode)
	assert.Contains(t, m.host.details, "var_10 @ -0x10")

	m = send(t, m, key("esc"))
	assert.Equal(t, viewStack, m.mode)
}

func TestModelRenderStack(t *testing.T) {
	m, _ := boundModel(t)
	out := ansi.Strip(m.renderStack())
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[0], "main @ 0x4005d0")
	assert.True(t, strings.HasPrefix(lines[1], "▶ -0x20"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "  -0x10"), lines[2])
}

func TestModelScrollFollowsCursor(t *testing.T) {
	m, _ := boundModel(t)
	m = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 5})
	require.Equal(t, 2, m.stackHeight())
	m = send(t, m, key("down"), key("down"))
	assert.Equal(t, 1, m.top)
	m = send(t, m, key("up"), key("up"))
	assert.Equal(t, 0, m.top)
}

func TestWaitForRecordClosedChannel(t *testing.T) {
	ch := make(chan vardb.Record)
	close(ch)
	assert.Nil(t, waitForRecord(ch)())
}

func TestModelWatchClosesRecords(t *testing.T) {
	ws, _ := testWorkspace()
	journal, err := vardb.OpenJournal(filepath.Join(t.TempDir(), "vars.jsonl"), nil)
	require.NoError(t, err)
	ws.journal = journal
	ws.cfg = &config.Config{}

	ctx, cancel := context.WithCancel(context.Background())
	m := newModel(ctx, ws, "")
	require.NotNil(t, m.records)
	cancel()

	msg := m.watchCmd()()
	done, ok := msg.(watchDoneMsg)
	require.True(t, ok, "got %T", msg)
	assert.NoError(t, done.err)

	_, open := <-m.records
	assert.False(t, open)
	assert.Nil(t, waitForRecord(m.records)())
}
