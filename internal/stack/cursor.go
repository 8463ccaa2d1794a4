package stack

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Point is a position in view coordinates. Y is measured in pixels or cells
// depending on Metrics.LineHeight; X is measured in Metrics.Measure units.
type Point struct {
	X, Y int
}

// Position is a logical cursor position: a line index and a token index
// within that line's content.
type Position struct {
	Line  int
	Token int
}

// Selection is a half-open range of frame offsets [Begin, End). A collapsed
// selection has Begin == End.
type Selection struct {
	Begin int64
	End   int64
}

// Empty reports whether the selection is collapsed.
func (s Selection) Empty() bool { return s.Begin == s.End }

// Size returns the number of selected bytes.
func (s Selection) Size() int64 { return s.End - s.Begin }

// Metrics converts between view coordinates and line/token positions.
type Metrics struct {
	LineHeight int
	Measure    func(string) int
}

// CellMetrics measures text in terminal cells, one cell per line.
func CellMetrics() Metrics {
	return Metrics{LineHeight: 1, Measure: runewidth.StringWidth}
}

// Cursor tracks the current position in a layout. Its position is always a
// valid index into the bound layout unless the layout is empty.
type Cursor struct {
	layout  *Layout
	pos     Position
	metrics Metrics
}

// NewCursor returns a cursor on the first line of layout.
func NewCursor(layout *Layout, m Metrics) *Cursor {
	if m.LineHeight <= 0 {
		m.LineHeight = 1
	}
	if m.Measure == nil {
		m.Measure = runewidth.StringWidth
	}
	return &Cursor{layout: layout, metrics: m}
}

// Layout returns the bound layout.
func (c *Cursor) Layout() *Layout { return c.layout }

// Position returns the current position.
func (c *Cursor) Position() Position { return c.pos }

// Valid reports whether the cursor points at a line.
func (c *Cursor) Valid() bool { return c.pos.Line < c.layout.Len() }

// Line returns the line under the cursor.
func (c *Cursor) Line() (Line, bool) { return c.layout.Line(c.pos.Line) }

// Offset returns the frame offset under the cursor.
func (c *Cursor) Offset() (int64, bool) { return c.OffsetAt(c.pos) }

// HitTest maps a point to the line and token under it. Points outside the
// rendered area clamp to the nearest line and token.
func (c *Cursor) HitTest(p Point) (Position, bool) {
	n := c.layout.Len()
	if n == 0 {
		return Position{}, false
	}
	line := 0
	if p.Y > 0 {
		line = p.Y / c.metrics.LineHeight
	}
	line = clamp(line, 0, n-1)
	return Position{Line: line, Token: c.tokenAt(line, p.X)}, true
}

func (c *Cursor) tokenAt(line, x int) int {
	content := c.layout.lines[line].content
	if len(content) == 0 || x <= 0 {
		return 0
	}
	col := 0
	for i, t := range content {
		w := c.metrics.Measure(t.Text)
		if x < col+w {
			return i
		}
		col += w
	}
	return len(content) - 1
}

// OffsetAt returns the frame offset at pos. Variable lines map to the
// variable's offset; fill lines interpolate across their byte tokens.
func (c *Cursor) OffsetAt(pos Position) (int64, bool) {
	line, ok := c.layout.Line(pos.Line)
	if !ok {
		return 0, false
	}
	switch line.Kind() {
	case KindVariable:
		return line.Offset(), true
	case KindFill:
		begin, _ := line.granule(pos.Token)
		return begin, true
	}
	return 0, false
}

// Columns returns the first column and width of the token at pos.
func (c *Cursor) Columns(pos Position) (int, int) {
	line, ok := c.layout.Line(pos.Line)
	if !ok || len(line.content) == 0 {
		return 0, 0
	}
	col := 0
	for i, t := range line.content {
		w := c.metrics.Measure(t.Text)
		if i == pos.Token {
			return col, w
		}
		col += w
	}
	return col, 0
}

// Move places the cursor at the point p. Without extend the returned
// selection is collapsed at the new offset; with extend it spans the items
// under the previous and the new cursor.
func (c *Cursor) Move(p Point, extend bool) (Selection, bool) {
	pos, ok := c.HitTest(p)
	if !ok {
		return Selection{}, false
	}
	prev := c.pos
	c.pos = pos
	return c.selection(prev, pos, extend), true
}

// SetPosition moves the cursor to pos, clamped to the layout.
func (c *Cursor) SetPosition(pos Position) {
	n := c.layout.Len()
	if n == 0 {
		c.pos = Position{}
		return
	}
	c.pos = Position{Line: clamp(pos.Line, 0, n-1), Token: pos.Token}
	c.clampToken()
}

// MoveLine moves the cursor delta lines, keeping the token index when the
// target line is long enough.
func (c *Cursor) MoveLine(delta int) {
	c.SetPosition(Position{Line: c.pos.Line + delta, Token: c.pos.Token})
}

// MoveToken moves the cursor delta significant tokens within the current
// line, skipping whitespace separators.
func (c *Cursor) MoveToken(delta int) {
	line, ok := c.Line()
	if !ok || delta == 0 {
		return
	}
	step := 1
	if delta < 0 {
		step, delta = -1, -delta
	}
	tok := c.pos.Token
	for ; delta > 0; delta-- {
		next := tok + step
		for next >= 0 && next < len(line.content) && strings.TrimSpace(line.content[next].Text) == "" {
			next += step
		}
		if next < 0 || next >= len(line.content) {
			break
		}
		tok = next
	}
	c.pos.Token = tok
}

// Home moves to the first line.
func (c *Cursor) Home() { c.SetPosition(Position{}) }

// End moves to the last line.
func (c *Cursor) End() { c.SetPosition(Position{Line: c.layout.Len() - 1}) }

// GoTo moves to the line containing offset. It reports false and leaves the
// cursor unchanged if no line contains it.
func (c *Cursor) GoTo(offset int64) bool {
	i := c.layout.IndexOf(offset)
	if i < 0 {
		return false
	}
	c.pos = Position{Line: i, Token: c.layout.lines[i].tokenFor(offset)}
	return true
}

// Span returns the byte range of the item under pos.
func (c *Cursor) Span(pos Position) (int64, int64, bool) {
	line, ok := c.layout.Line(pos.Line)
	if !ok {
		return 0, 0, false
	}
	b, e := line.granule(pos.Token)
	return b, e, true
}

// Rebind attaches the cursor to a rebuilt layout. If the layout shrank below
// the cursor line the cursor moves to the last line; otherwise it stays on
// the line containing the old offset, falling back to the nearest preceding
// line and then the first line. The token index is clamped either way.
func (c *Cursor) Rebind(l *Layout) {
	oldOffset, hadOffset := c.Offset()
	old := c.pos
	c.layout = l

	n := l.Len()
	if n == 0 {
		c.pos = Position{}
		return
	}

	line, tok := 0, old.Token
	switch {
	case old.Line >= n:
		line = n - 1
	case !hadOffset:
		line = old.Line
	default:
		if i := l.IndexOf(oldOffset); i >= 0 {
			line = i
			if l.lines[i].Kind() == KindFill {
				tok = l.lines[i].tokenFor(oldOffset)
			}
		} else if i := l.Preceding(oldOffset); i >= 0 {
			line = i
		}
	}
	c.pos = Position{Line: line, Token: tok}
	c.clampToken()
}

func (c *Cursor) clampToken() {
	n := len(c.layout.lines[c.pos.Line].content)
	if n == 0 {
		c.pos.Token = 0
		return
	}
	c.pos.Token = clamp(c.pos.Token, 0, n-1)
}

func (c *Cursor) selection(from, to Position, extend bool) Selection {
	b, e, _ := c.Span(to)
	if !extend {
		return Selection{Begin: b, End: b}
	}
	pb, pe, ok := c.Span(from)
	if !ok {
		return Selection{Begin: b, End: e}
	}
	return Selection{Begin: min(b, pb), End: max(e, pe)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
