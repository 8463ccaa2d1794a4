package stack

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory variable source keyed by function address.
type memSource struct {
	vars    map[uint64]map[int64]Variable
	err     error
	defines int
}

func newMemSource(fn *Function, vars ...Variable) *memSource {
	s := &memSource{vars: map[uint64]map[int64]Variable{}}
	for _, v := range vars {
		_ = s.DefineVariable(fn, v)
	}
	s.defines = 0
	return s
}

func (s *memSource) StackVariables(fn *Function) ([]Variable, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Variable
	for _, v := range s.vars[fn.Addr] {
		out = append(out, v)
	}
	// map order must not leak into layouts
	sort.Slice(out, func(i, j int) bool { return out[i].Offset > out[j].Offset })
	return out, nil
}

func (s *memSource) DefineVariable(fn *Function, v Variable) error {
	if s.err != nil {
		return s.err
	}
	if s.vars[fn.Addr] == nil {
		s.vars[fn.Addr] = map[int64]Variable{}
	}
	s.vars[fn.Addr][v.Offset] = v
	s.defines++
	return nil
}

func (s *memSource) UndefineVariable(fn *Function, offset int64) error {
	if s.err != nil {
		return s.err
	}
	delete(s.vars[fn.Addr], offset)
	return nil
}

type lineShape struct {
	kind   Kind
	offset int64
	size   int64
}

func shapes(l *Layout) []lineShape {
	var out []lineShape
	for _, line := range l.Lines() {
		out = append(out, lineShape{line.Kind(), line.Offset(), line.Size()})
	}
	return out
}

var testFn = &Function{Name: "handler", Addr: 0x1000, FrameSize: 24}

func v(name string, offset, size int64) Variable {
	return Variable{Name: name, Offset: offset, Size: size, Type: PrimitiveType(size)}
}

func TestBuildScenario(t *testing.T) {
	src := newMemSource(testFn, v("var_a", -8, 8), v("var_b", -20, 4))
	b := &Builder{Source: src, Range: Range{Low: -24, High: 0}}

	layout := b.Build(testFn)

	assert.Equal(t, []lineShape{
		{KindFill, -24, 4},
		{KindVariable, -20, 4},
		{KindFill, -16, 8},
		{KindVariable, -8, 8},
	}, shapes(layout))

	line, ok := layout.Line(1)
	require.True(t, ok)
	assert.Equal(t, "var_b", line.Name())
	assert.Equal(t, "int32_t", line.TypeName())
	assert.Equal(t, "-0x14   int32_t var_b", line.Text())
}

func TestBuildZeroVariables(t *testing.T) {
	b := &Builder{Source: newMemSource(testFn), Range: Range{Low: -16, High: 0}}

	layout := b.Build(testFn)

	assert.Equal(t, []lineShape{{KindFill, -16, 16}}, shapes(layout))
}

func TestBuildCoverage(t *testing.T) {
	testCases := []struct {
		name string
		vars []Variable
		rng  Range
	}{
		{
			name: "adjacent variables",
			vars: []Variable{v("a", -16, 8), v("b", -8, 8)},
			rng:  Range{Low: -16, High: 0},
		},
		{
			name: "gaps everywhere",
			vars: []Variable{v("a", -60, 4), v("b", -40, 2), v("c", -12, 1)},
			rng:  Range{Low: -64, High: 8},
		},
		{
			name: "arguments above the CFA",
			vars: []Variable{v("var_8", -8, 8), v("arg_0", 0, 8), v("arg_10", 16, 4)},
			rng:  Range{Low: -32, High: 32},
		},
		{
			name: "variables outside the range are ignored",
			vars: []Variable{v("low", -128, 8), v("in", -8, 4), v("high", 64, 8)},
			rng:  Range{Low: -16, High: 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &Builder{Source: newMemSource(testFn, tc.vars...), Range: tc.rng}
			layout := b.Build(testFn)

			n := 0
			for _, vv := range tc.vars {
				if tc.rng.Contains(vv.Offset) {
					n++
				}
			}
			assert.LessOrEqual(t, layout.Len(), 2*n+1)

			lines := layout.Lines()
			require.NotEmpty(t, lines)
			assert.Equal(t, tc.rng.Low, lines[0].Offset())
			assert.Equal(t, tc.rng.High, lines[len(lines)-1].End())
			for i := 1; i < len(lines); i++ {
				assert.Less(t, lines[i-1].Offset(), lines[i].Offset(), "offsets must increase")
				assert.Equal(t, lines[i-1].End(), lines[i].Offset(), "no gap between lines %d and %d", i-1, i)
			}
		})
	}
}

func TestBuildIdempotent(t *testing.T) {
	src := newMemSource(testFn, v("a", -24, 8), v("b", -12, 4), v("c", -4, 2))
	b := &Builder{Source: src}

	first := b.Build(testFn)
	second := b.Build(testFn)

	assert.Equal(t, shapes(first), shapes(second))
	assert.Equal(t, first.Range(), second.Range())
}

func TestBuildInvalidBinding(t *testing.T) {
	t.Run("nil function", func(t *testing.T) {
		b := &Builder{Source: newMemSource(testFn, v("a", -8, 8))}
		layout := b.Build(nil)
		assert.True(t, layout.Empty())
		assert.Nil(t, layout.Function())
	})

	t.Run("source failure", func(t *testing.T) {
		src := newMemSource(testFn, v("a", -8, 8))
		src.err = errors.New("analysis not ready")
		layout := (&Builder{Source: src}).Build(testFn)
		assert.True(t, layout.Empty())
		assert.Equal(t, -1, layout.IndexOf(-8))
		_, ok := layout.Line(0)
		assert.False(t, ok)
	})
}

func TestDefaultRange(t *testing.T) {
	testCases := []struct {
		name      string
		vars      []Variable
		frameSize int64
		want      Range
	}{
		{name: "empty frame", want: Range{Low: -16, High: 0}},
		{name: "frame only", frameSize: 0x30, want: Range{Low: -0x30, High: 0}},
		{name: "unaligned frame", frameSize: 0x14, want: Range{Low: -0x18, High: 0}},
		{name: "variable below frame", vars: []Variable{v("a", -0x44, 4)}, frameSize: 0x20, want: Range{Low: -0x48, High: 0}},
		{name: "argument above CFA", vars: []Variable{v("arg", 4, 4)}, frameSize: 0x10, want: Range{Low: -0x10, High: 8}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultRange(tc.vars, tc.frameSize))
		})
	}
}

func TestLayoutLookups(t *testing.T) {
	src := newMemSource(testFn, v("var_a", -8, 8), v("var_b", -20, 4))
	layout := (&Builder{Source: src, Range: Range{Low: -24, High: 0}}).Build(testFn)

	assert.Equal(t, 0, layout.IndexOf(-24))
	assert.Equal(t, 1, layout.IndexOf(-17))
	assert.Equal(t, 2, layout.IndexOf(-9))
	assert.Equal(t, 3, layout.IndexOf(-1))
	assert.Equal(t, -1, layout.IndexOf(0))
	assert.Equal(t, -1, layout.IndexOf(-25))

	assert.Equal(t, 3, layout.Preceding(100))
	assert.Equal(t, -1, layout.Preceding(-30))

	_, ok := layout.VariableAt(-20)
	assert.True(t, ok)
	_, ok = layout.VariableAt(-18)
	assert.False(t, ok)

	conflicts := layout.Overlapping(-12, 8)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "var_a", conflicts[0].Name())
	assert.Empty(t, layout.Overlapping(-16, 8))
}

func TestFillTokens(t *testing.T) {
	f := DefaultFormatter{MaxFillBytes: 4}

	short := NewFillLine(-8, 2, f.FillTokens(-8, 2))
	assert.Equal(t, "-0x8    ?? ??", short.Text())

	long := NewFillLine(-64, 32, f.FillTokens(-64, 32))
	assert.Equal(t, "-0x40   ?? ?? ?? ?? ; 0x20 bytes", long.Text())
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "var_14", DefaultName(-0x14))
	assert.Equal(t, "arg_8", DefaultName(8))
	assert.Equal(t, "arg_0", DefaultName(0))
	assert.Equal(t, Type{Name: "int64_t", Size: 8}, PrimitiveType(8))
	assert.Equal(t, Type{Name: "uint8_t[0x3]", Size: 3}, PrimitiveType(3))
	assert.Equal(t, "-0x14", FormatOffset(-20))
	assert.Equal(t, "0x0", FormatOffset(0))
}
