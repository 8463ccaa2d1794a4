package stack

import (
	"io"
	"sort"

	"github.com/charmbracelet/log"
)

// frameAlign is the granularity of derived display ranges.
const frameAlign = 8

// Range is the half-open range of frame offsets [Low, High) a layout covers.
type Range struct {
	Low  int64 `json:"low" yaml:"low"`
	High int64 `json:"high" yaml:"high"`
}

// IsZero reports whether no range was configured.
func (r Range) IsZero() bool { return r.Low == 0 && r.High == 0 }

// Contains reports whether offset lies in the range.
func (r Range) Contains(offset int64) bool { return offset >= r.Low && offset < r.High }

// Size returns the number of bytes covered.
func (r Range) Size() int64 { return r.High - r.Low }

// DefaultRange derives a display range for a frame: from the lower of the
// reserved frame and the lowest variable up to the higher of the CFA and the
// end of the highest variable, aligned outwards to 8 bytes.
func DefaultRange(vars []Variable, frameSize int64) Range {
	r := Range{Low: -frameSize, High: 0}
	for _, v := range vars {
		r.Low = min(r.Low, v.Offset)
		r.High = max(r.High, v.End())
	}
	r.Low = alignDown(r.Low, frameAlign)
	r.High = alignUp(r.High, frameAlign)
	if r.Low == r.High {
		r.Low -= 2 * frameAlign
	}
	return r
}

// Layout is the ordered sequence of lines for one function, ascending by
// offset. A layout is never patched; every rebuild produces a new one.
type Layout struct {
	fn    *Function
	rng   Range
	lines []Line
}

// Function returns the function the layout was built for, nil when unbound.
func (l *Layout) Function() *Function {
	if l == nil {
		return nil
	}
	return l.fn
}

// Range returns the display range of the layout.
func (l *Layout) Range() Range {
	if l == nil {
		return Range{}
	}
	return l.rng
}

// Len returns the number of lines.
func (l *Layout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.lines)
}

// Empty reports whether the layout has no lines.
func (l *Layout) Empty() bool { return l.Len() == 0 }

// Line returns line i.
func (l *Layout) Line(i int) (Line, bool) {
	if i < 0 || i >= l.Len() {
		return Line{}, false
	}
	return l.lines[i], true
}

// Lines returns a copy of all lines.
func (l *Layout) Lines() []Line {
	if l.Len() == 0 {
		return nil
	}
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// IndexOf returns the index of the line whose extent contains offset, or -1.
func (l *Layout) IndexOf(offset int64) int {
	n := l.Len()
	i := sort.Search(n, func(i int) bool { return l.lines[i].End() > offset })
	if i < n && l.lines[i].Contains(offset) {
		return i
	}
	return -1
}

// Preceding returns the index of the last line starting at or before offset,
// or -1 if offset is before the first line.
func (l *Layout) Preceding(offset int64) int {
	n := l.Len()
	i := sort.Search(n, func(i int) bool { return l.lines[i].Offset() > offset })
	return i - 1
}

// VariableAt returns the variable line starting exactly at offset.
func (l *Layout) VariableAt(offset int64) (Line, bool) {
	i := l.IndexOf(offset)
	if i < 0 || l.lines[i].Kind() != KindVariable || l.lines[i].Offset() != offset {
		return Line{}, false
	}
	return l.lines[i], true
}

// Overlapping returns the variable lines intersecting [offset, offset+size).
func (l *Layout) Overlapping(offset, size int64) []Line {
	var out []Line
	for _, line := range l.variableLines() {
		if line.Offset() < offset+size && offset < line.End() {
			out = append(out, line)
		}
	}
	return out
}

func (l *Layout) variableLines() []Line {
	if l.Len() == 0 {
		return nil
	}
	var out []Line
	for _, line := range l.lines {
		if line.Kind() == KindVariable {
			out = append(out, line)
		}
	}
	return out
}

// Builder produces layouts from a variable source.
type Builder struct {
	Source    VariableSource
	Formatter Formatter
	Range     Range // zero derives a range per function with DefaultRange
	Logger    *log.Logger
}

// Build returns the layout for fn. It never fails: a nil function or an
// unavailable variable set yields an empty layout.
func (b *Builder) Build(fn *Function) *Layout {
	if fn == nil || b.Source == nil {
		return &Layout{fn: fn}
	}

	vars, err := b.Source.StackVariables(fn)
	if err != nil {
		b.logger().Debug("stack variables unavailable", "function", fn.Name, "err", err)
		return &Layout{fn: fn}
	}

	rng := b.Range
	if rng.IsZero() {
		rng = DefaultRange(vars, fn.FrameSize)
	}

	lines := buildLines(vars, rng, b.formatter())
	b.logger().Debug("built stack layout", "function", fn.Name, "vars", len(vars), "lines", len(lines),
		"low", rng.Low, "high", rng.High)
	return &Layout{fn: fn, rng: rng, lines: lines}
}

func (b *Builder) formatter() Formatter {
	if b.Formatter == nil {
		return DefaultFormatter{}
	}
	return b.Formatter
}

func (b *Builder) logger() *log.Logger {
	if b.Logger == nil {
		return log.New(io.Discard)
	}
	return b.Logger
}

// buildLines sorts vars ascending and fills every gap in rng. Variables are
// assumed not to overlap.
func buildLines(vars []Variable, rng Range, f Formatter) []Line {
	in := make([]Variable, 0, len(vars))
	for _, v := range vars {
		if v.Size > 0 && rng.Contains(v.Offset) {
			in = append(in, v)
		}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Offset < in[j].Offset })

	lines := make([]Line, 0, 2*len(in)+1)
	pos := rng.Low
	for _, v := range in {
		if v.Offset > pos {
			lines = append(lines, NewFillLine(pos, v.Offset-pos, f.FillTokens(pos, v.Offset-pos)))
		}
		lines = append(lines, NewVariableLine(v, f.VariableTokens(v)))
		pos = max(pos, v.End())
	}
	if pos < rng.High {
		lines = append(lines, NewFillLine(pos, rng.High-pos, f.FillTokens(pos, rng.High-pos)))
	}
	return lines
}

func alignDown(x, a int64) int64 {
	m := ((x % a) + a) % a
	return x - m
}

func alignUp(x, a int64) int64 {
	d := alignDown(x, a)
	if d == x {
		return x
	}
	return d + a
}
