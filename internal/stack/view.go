package stack

import (
	"io"

	"github.com/charmbracelet/log"
)

// View is one stack frame line model instance. It exclusively owns its
// layout and cursor and must only be used from a single goroutine.
type View struct {
	builder *Builder
	cursor  *Cursor
	fn      *Function
	host    Host
	logger  *log.Logger
}

// NewView returns an unbound view. host may be nil.
func NewView(b *Builder, m Metrics, host Host) *View {
	logger := b.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &View{
		builder: b,
		cursor:  NewCursor(&Layout{}, m),
		host:    host,
		logger:  logger,
	}
}

// Bind switches the view to fn and rebuilds. Binding a different function
// resets the cursor to the first line.
func (v *View) Bind(fn *Function) {
	changed := !v.fn.Same(fn)
	v.fn = fn
	layout := v.builder.Build(fn)
	if changed {
		v.cursor = NewCursor(layout, v.cursor.metrics)
		return
	}
	v.cursor.Rebind(layout)
}

// Refresh rebuilds the layout from the current variable set, replacing the
// previous layout outright.
func (v *View) Refresh() {
	v.cursor.Rebind(v.builder.Build(v.fn))
}

// Notify handles a change notification from the variable source. A nil fn
// means "anything may have changed".
func (v *View) Notify(fn *Function) {
	if fn != nil && !v.fn.Same(fn) {
		return
	}
	v.logger.Debug("variable source changed, rebuilding", "function", v.functionName())
	v.Refresh()
}

// Function returns the bound function.
func (v *View) Function() *Function { return v.fn }

// Layout returns the current layout.
func (v *View) Layout() *Layout { return v.cursor.Layout() }

// Cursor returns the view's cursor.
func (v *View) Cursor() *Cursor { return v.cursor }

// Source returns the variable source layouts are built from.
func (v *View) Source() VariableSource { return v.builder.Source }

// Click moves the cursor to p and reports the resulting selection to the
// host.
func (v *View) Click(p Point, extend bool) (Selection, bool) {
	sel, ok := v.cursor.Move(p, extend)
	if ok {
		v.report(sel)
	}
	return sel, ok
}

// Step moves the cursor by lines and tokens and reports the new collapsed
// selection.
func (v *View) Step(lines, tokens int) {
	if lines != 0 {
		v.cursor.MoveLine(lines)
	}
	if tokens != 0 {
		v.cursor.MoveToken(tokens)
	}
	if off, ok := v.cursor.Offset(); ok {
		v.report(Selection{Begin: off, End: off})
	}
}

// GoTo moves the cursor to the line containing offset.
func (v *View) GoTo(offset int64) bool {
	if !v.cursor.GoTo(offset) {
		return false
	}
	v.report(Selection{Begin: offset, End: offset})
	return true
}

// Navigate asks the host to jump to the offset under the cursor.
func (v *View) Navigate() bool {
	off, ok := v.cursor.Offset()
	if !ok || v.host == nil {
		return false
	}
	v.host.Navigate(v.fn, off)
	return true
}

func (v *View) report(sel Selection) {
	if v.host != nil {
		v.host.ReportSelection(v.fn, sel)
	}
}

func (v *View) functionName() string {
	if v.fn == nil {
		return ""
	}
	return v.fn.Name
}
