package vardb

import (
	"debug/dwarf"
	"fmt"
	"sort"
	"sync"

	"stackview/internal/analysis"
	"stackview/internal/stack"

	"github.com/charmbracelet/log"
)

// DWARF expression opcodes used by stack variable locations.
const (
	opReg0         = 0x50
	opBreg0        = 0x70
	opFbreg        = 0x91
	opCallFrameCFA = 0x9c

	regFP = 29
	regSP = 31
)

// FrameFunc returns the inferred frame of fn. DWARF frame bases expressed
// through X29 or SP need it to become CFA relative.
type FrameFunc func(fn *stack.Function) (*analysis.Frame, error)

// DWARFSource reads stack variables from DWARF debug info. It is read-only.
type DWARFSource struct {
	data   *dwarf.Data
	frame  FrameFunc
	logger *log.Logger

	once     sync.Once
	programs map[uint64]dwarf.Offset
	indexErr error
}

// NewDWARFSource returns a source over data. frame may be nil, in which case
// only CFA based frame bases resolve.
func NewDWARFSource(data *dwarf.Data, frame FrameFunc, logger *log.Logger) *DWARFSource {
	return &DWARFSource{data: data, frame: frame, logger: orDiscard(logger)}
}

// index maps the low PC of every subprogram to its entry.
func (s *DWARFSource) index() error {
	s.once.Do(func() {
		s.programs = map[uint64]dwarf.Offset{}
		r := s.data.Reader()
		for {
			e, err := r.Next()
			if err != nil {
				s.indexErr = fmt.Errorf("index dwarf: %w", err)
				return
			}
			if e == nil {
				break
			}
			if e.Tag != dwarf.TagSubprogram {
				continue
			}
			if low, ok := e.Val(dwarf.AttrLowpc).(uint64); ok && low != 0 {
				s.programs[low] = e.Offset
			}
		}
		s.logger.Debug("indexed dwarf subprograms", "count", len(s.programs))
	})
	return s.indexErr
}

// StackVariables returns the variables and parameters of fn located through
// DW_OP_fbreg.
func (s *DWARFSource) StackVariables(fn *stack.Function) ([]stack.Variable, error) {
	if err := s.index(); err != nil {
		return nil, err
	}
	off, ok := s.programs[fn.Addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fn.Name, ErrNoDebugInfo)
	}

	r := s.data.Reader()
	r.Seek(off)
	prog, err := r.Next()
	if err != nil || prog == nil {
		return nil, fmt.Errorf("read subprogram %s: %w", fn.Name, err)
	}

	base, err := s.frameBase(fn, prog)
	if err != nil {
		return nil, err
	}
	if !prog.Children {
		return nil, nil
	}

	var vars []stack.Variable
	for depth := 1; depth > 0; {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("read %s children: %w", fn.Name, err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if e.Children {
			depth++
		}
		if e.Tag != dwarf.TagVariable && e.Tag != dwarf.TagFormalParameter {
			continue
		}
		v, ok := s.variable(e, base)
		if ok {
			vars = append(vars, v)
		}
	}

	sort.Slice(vars, func(i, j int) bool { return vars[i].Offset < vars[j].Offset })
	return vars, nil
}

func (s *DWARFSource) variable(e *dwarf.Entry, base int64) (stack.Variable, bool) {
	f := e.AttrField(dwarf.AttrLocation)
	if f == nil || f.Class != dwarf.ClassExprLoc {
		return stack.Variable{}, false
	}
	expr, _ := f.Val.([]byte)
	off, ok := fbregOffset(expr)
	if !ok {
		return stack.Variable{}, false
	}

	name, _ := e.Val(dwarf.AttrName).(string)
	typ := stack.Type{Name: "?", Size: 1}
	if toff, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		if t, err := s.data.Type(toff); err == nil {
			typ.Name = t.String()
			if t.Size() > 0 {
				typ.Size = t.Size()
			}
		} else {
			s.logger.Debug("unresolved variable type", "name", name, "err", err)
		}
	}
	offset := base + off
	if name == "" {
		name = stack.DefaultName(offset)
	}
	return stack.Variable{Name: name, Offset: offset, Size: typ.Size, Type: typ}, true
}

// frameBase returns the CFA relative address the subprogram's frame base
// points at.
func (s *DWARFSource) frameBase(fn *stack.Function, prog *dwarf.Entry) (int64, error) {
	f := prog.AttrField(dwarf.AttrFrameBase)
	if f == nil || f.Class != dwarf.ClassExprLoc {
		return 0, fmt.Errorf("%s: unsupported frame base: %w", fn.Name, ErrNoDebugInfo)
	}
	expr, _ := f.Val.([]byte)
	reg, add, ok := parseFrameBase(expr)
	if !ok {
		return 0, fmt.Errorf("%s: unsupported frame base % x: %w", fn.Name, expr, ErrNoDebugInfo)
	}
	if reg < 0 {
		return add, nil
	}
	if s.frame == nil {
		return 0, fmt.Errorf("%s: frame base needs register tracking: %w", fn.Name, ErrNoDebugInfo)
	}
	frame, err := s.frame(fn)
	if err != nil {
		return 0, err
	}
	switch {
	case reg == regFP && frame.HasFP:
		return add - frame.FP, nil
	case reg == regSP:
		return add - frame.Size, nil
	}
	return 0, fmt.Errorf("%s: no frame pointer for frame base: %w", fn.Name, ErrNoDebugInfo)
}

func (s *DWARFSource) DefineVariable(fn *stack.Function, v stack.Variable) error {
	return ErrReadOnly
}

func (s *DWARFSource) UndefineVariable(fn *stack.Function, offset int64) error {
	return ErrReadOnly
}

// parseFrameBase decodes a frame base expression. reg is -1 for
// DW_OP_call_frame_cfa, otherwise the base register with add as its
// displacement.
func parseFrameBase(expr []byte) (reg int, add int64, ok bool) {
	if len(expr) == 0 {
		return 0, 0, false
	}
	op := expr[0]
	switch {
	case op == opCallFrameCFA && len(expr) == 1:
		return -1, 0, true
	case op >= opReg0 && op < opReg0+32 && len(expr) == 1:
		return int(op - opReg0), 0, true
	case op >= opBreg0 && op < opBreg0+32:
		v, n := sleb128(expr[1:])
		if n == 0 || 1+n != len(expr) {
			return 0, 0, false
		}
		return int(op - opBreg0), v, true
	}
	return 0, 0, false
}

// fbregOffset decodes a single DW_OP_fbreg expression.
func fbregOffset(expr []byte) (int64, bool) {
	if len(expr) < 2 || expr[0] != opFbreg {
		return 0, false
	}
	v, n := sleb128(expr[1:])
	if n == 0 || 1+n != len(expr) {
		return 0, false
	}
	return v, true
}

// sleb128 decodes a signed LEB128 value and returns it with the number of
// bytes consumed, or 0 bytes when b is truncated.
func sleb128(b []byte) (int64, int) {
	var result int64
	var shift uint
	for i, c := range b {
		if shift < 64 {
			result |= int64(c&0x7f) << shift
		}
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1
		}
	}
	return 0, 0
}
