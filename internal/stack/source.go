// Package stack implements the stack frame line model: it turns a function's
// stack variables into an ordered list of display lines, tracks a cursor over
// those lines and forwards user edits to the variable source.
package stack

// Type describes a variable type as reported by the variable source.
type Type struct {
	Name string
	Size int64
}

// Variable is a stack variable at a byte offset relative to the frame
// reference (the canonical frame address).
type Variable struct {
	Name   string
	Offset int64
	Size   int64
	Type   Type
}

// End returns the first offset past the variable's extent.
func (v Variable) End() int64 {
	return v.Offset + v.Size
}

// Overlaps reports whether the variable intersects [offset, offset+size).
func (v Variable) Overlaps(offset, size int64) bool {
	return v.Offset < offset+size && offset < v.End()
}

// Function identifies a function whose stack frame is displayed.
type Function struct {
	Name      string
	Addr      uint64
	FrameSize int64 // bytes below the CFA reserved by the prologue, 0 if unknown
}

// Same reports whether fn and other refer to the same function.
func (fn *Function) Same(other *Function) bool {
	if fn == nil || other == nil {
		return fn == other
	}
	return fn.Addr == other.Addr && fn.Name == other.Name
}

// VariableSource owns stack variable definitions. The line model only reads
// from it and submits definition changes; it never caches variables.
type VariableSource interface {
	// StackVariables returns the current variables of fn. Offsets are unique.
	StackVariables(fn *Function) ([]Variable, error)
	// DefineVariable creates or replaces the variable starting at v.Offset.
	DefineVariable(fn *Function, v Variable) error
	// UndefineVariable removes the variable starting at offset.
	UndefineVariable(fn *Function, offset int64) error
}

// Host is the frame hosting a view. It receives navigation requests and
// selection reports.
type Host interface {
	Navigate(fn *Function, offset int64)
	ReportSelection(fn *Function, sel Selection)
}
