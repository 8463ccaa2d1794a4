package vardb

import (
	"errors"
	"fmt"
	"sort"

	"stackview/internal/stack"

	"github.com/charmbracelet/log"
)

// Overlay layers journal definitions over a read-only base source. User
// definitions win over base variables they overlap, and undefined offsets
// hide the base variable starting there.
type Overlay struct {
	Base    stack.VariableSource
	Journal *Journal
	Logger  *log.Logger
}

func (o *Overlay) StackVariables(fn *stack.Function) ([]stack.Variable, error) {
	var base []stack.Variable
	if o.Base != nil {
		var err error
		base, err = o.Base.StackVariables(fn)
		if err != nil {
			// the journal alone still describes the frame
			orDiscard(o.Logger).Debug("base source failed", "function", fn.Name, "err", err)
			base = nil
		}
	}
	defs, tombs := o.Journal.Definitions(fn.Addr)
	return merge(base, defs, tombs), nil
}

// merge returns a non-overlapping, ascending variable set.
func merge(base, defs []stack.Variable, tombs map[int64]bool) []stack.Variable {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Offset < defs[j].Offset })
	sort.Slice(base, func(i, j int) bool { return base[i].Offset < base[j].Offset })

	out := make([]stack.Variable, 0, len(base)+len(defs))
	for _, d := range defs {
		if d.Size > 0 && !overlapsAny(out, d) {
			out = append(out, d)
		}
	}
	for _, b := range base {
		if b.Size <= 0 || tombs[b.Offset] || overlapsAny(out, b) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func overlapsAny(vars []stack.Variable, v stack.Variable) bool {
	for _, o := range vars {
		if o.Overlaps(v.Offset, v.Size) {
			return true
		}
	}
	return false
}

// DefineVariable records a user definition at v.Offset, replacing any
// earlier one there.
func (o *Overlay) DefineVariable(fn *stack.Function, v stack.Variable) error {
	if v.Size <= 0 {
		return fmt.Errorf("%w: %d", stack.ErrInvalidSize, v.Size)
	}
	return o.Journal.Append(Record{
		Op:       OpDefine,
		Func:     fn.Addr,
		FuncName: fn.Name,
		Offset:   v.Offset,
		Size:     v.Size,
		Name:     v.Name,
		Type:     v.Type.Name,
		TypeSize: v.Type.Size,
	})
}

// UndefineVariable removes the variable starting at offset, whether it came
// from the journal or the base source.
func (o *Overlay) UndefineVariable(fn *stack.Function, offset int64) error {
	vars, err := o.StackVariables(fn)
	if err != nil {
		return err
	}
	found := false
	for _, v := range vars {
		if v.Offset == offset {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w %s", stack.ErrNoVariable, stack.FormatOffset(offset))
	}
	return o.Journal.Append(Record{Op: OpUndefine, Func: fn.Addr, FuncName: fn.Name, Offset: offset})
}

// Fallback tries each source in order and returns the first that knows the
// function. It is read-only.
type Fallback []stack.VariableSource

func (f Fallback) StackVariables(fn *stack.Function) ([]stack.Variable, error) {
	var errs []error
	for _, src := range f {
		vars, err := src.StackVariables(fn)
		if err == nil {
			return vars, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return nil, errors.Join(errs...)
}

func (f Fallback) DefineVariable(fn *stack.Function, v stack.Variable) error {
	return ErrReadOnly
}

func (f Fallback) UndefineVariable(fn *stack.Function, offset int64) error {
	return ErrReadOnly
}
