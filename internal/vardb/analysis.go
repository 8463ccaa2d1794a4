package vardb

import (
	"fmt"
	"sync"

	"stackview/internal/analysis"
	"stackview/internal/elfx"
	"stackview/internal/stack"

	"github.com/charmbracelet/log"
)

// savedPrefix names slots holding callee-saved registers.
const savedPrefix = "__saved_"

// AnalysisSource infers stack variables from a function's loads and stores.
// Frames are scanned once per function and cached. It is read-only.
type AnalysisSource struct {
	scan   func(addr uint64) (*analysis.Frame, error)
	logger *log.Logger

	mu     sync.Mutex
	frames map[uint64]*analysis.Frame
}

// NewAnalysisSource returns a source scanning functions of img.
func NewAnalysisSource(img *elfx.Image, logger *log.Logger) *AnalysisSource {
	return &AnalysisSource{
		scan: func(addr uint64) (*analysis.Frame, error) {
			sym, ok := img.FunctionAt(addr)
			if !ok {
				return nil, fmt.Errorf("no function symbol at %#x", addr)
			}
			return analysis.ScanStackFrame(img, sym)
		},
		logger: orDiscard(logger),
		frames: map[uint64]*analysis.Frame{},
	}
}

// Frame returns the cached inferred frame of fn.
func (s *AnalysisSource) Frame(fn *stack.Function) (*analysis.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frames[fn.Addr]; ok {
		return f, nil
	}
	f, err := s.scan(fn.Addr)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", fn.Name, err)
	}
	s.logger.Debug("scanned stack frame", "function", fn.Name, "size", f.Size, "slots", len(f.Slots))
	s.frames[fn.Addr] = f
	return f, nil
}

// Function builds a stack function for f with its inferred frame size. A
// failed scan leaves the frame size at zero.
func (s *AnalysisSource) Function(f analysis.Function) *stack.Function {
	fn := &stack.Function{Name: f.DisplayName(), Addr: f.Addr}
	if frame, err := s.Frame(fn); err == nil {
		fn.FrameSize = frame.Size
	} else {
		s.logger.Debug("frame size unavailable", "function", fn.Name, "err", err)
	}
	return fn
}

func (s *AnalysisSource) StackVariables(fn *stack.Function) ([]stack.Variable, error) {
	frame, err := s.Frame(fn)
	if err != nil {
		return nil, err
	}
	vars := make([]stack.Variable, 0, len(frame.Slots))
	for _, sl := range frame.Slots {
		if sl.Size <= 0 {
			continue
		}
		v := stack.Variable{
			Name:   stack.DefaultName(sl.Offset),
			Offset: sl.Offset,
			Size:   sl.Size,
			Type:   stack.PrimitiveType(sl.Size),
		}
		if sl.Saved != "" {
			v.Name = savedPrefix + sl.Saved
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func (s *AnalysisSource) DefineVariable(fn *stack.Function, v stack.Variable) error {
	return ErrReadOnly
}

func (s *AnalysisSource) UndefineVariable(fn *stack.Function, offset int64) error {
	return ErrReadOnly
}
