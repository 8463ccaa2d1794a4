package cmd

import (
	"sort"

	"stackview/internal/analysis"
	"stackview/internal/elfx"
	"stackview/internal/stack"
)

// memSource is an in-memory variable source keyed by function address.
type memSource struct {
	vars map[uint64]map[int64]stack.Variable
}

func newMemSource(fn *stack.Function, vars ...stack.Variable) *memSource {
	s := &memSource{vars: map[uint64]map[int64]stack.Variable{}}
	for _, v := range vars {
		_ = s.DefineVariable(fn, v)
	}
	return s
}

func (s *memSource) StackVariables(fn *stack.Function) ([]stack.Variable, error) {
	var out []stack.Variable
	for _, v := range s.vars[fn.Addr] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

func (s *memSource) DefineVariable(fn *stack.Function, v stack.Variable) error {
	if s.vars[fn.Addr] == nil {
		s.vars[fn.Addr] = map[int64]stack.Variable{}
	}
	s.vars[fn.Addr][v.Offset] = v
	return nil
}

func (s *memSource) UndefineVariable(fn *stack.Function, offset int64) error {
	delete(s.vars[fn.Addr], offset)
	return nil
}

var testFn = &stack.Function{Name: "main", Addr: 0x4005d0, FrameSize: 0x20}

// testWorkspace has one function whose frame holds an int64 at -0x10.
func testWorkspace() (*workspace, *memSource) {
	src := newMemSource(testFn, stack.Variable{
		Name: "var_10", Offset: -0x10, Size: 8, Type: stack.PrimitiveType(8),
	})
	ws := &workspace{
		builder: &stack.Builder{Source: src, Formatter: stack.DefaultFormatter{}},
		functions: []analysis.Function{
			{Symbol: elfx.Symbol{Name: "main", Addr: 0x4005d0, Size: 0x40}},
		},
	}
	return ws, src
}
