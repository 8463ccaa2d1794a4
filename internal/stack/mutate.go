package stack

import (
	"fmt"
	"strings"
)

// Mutator translates user edits into variable source definitions and
// rebuilds the view after each accepted change. Conflicts are reported to the
// caller and never retried.
type Mutator struct {
	view *View
}

// NewMutator returns a mutator editing the variables shown by view.
func NewMutator(view *View) *Mutator {
	return &Mutator{view: view}
}

// CreateVariable defines a variable at [offset, offset+size). The range must
// not intersect any variable of the current layout.
func (m *Mutator) CreateVariable(offset, size int64, typ Type, name string) error {
	fn := m.view.Function()
	if fn == nil {
		return ErrNoFunction
	}
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if conflicts := m.view.Layout().Overlapping(offset, size); len(conflicts) > 0 {
		return overlapError(offset, size, conflicts[0])
	}
	if typ.Size == 0 {
		typ.Size = size
	}

	v := Variable{Name: name, Offset: offset, Size: size, Type: typ}
	if err := m.view.Source().DefineVariable(fn, v); err != nil {
		return fmt.Errorf("define %s at %s: %w", name, FormatOffset(offset), err)
	}
	m.view.logger.Info("defined stack variable", "function", fn.Name, "name", name,
		"offset", FormatOffset(offset), "size", size, "type", typ.Name)
	m.view.Refresh()
	return nil
}

// QuickCreateVariable defines a variable with a generated name and a
// primitive type of the given size.
func (m *Mutator) QuickCreateVariable(offset, size int64) error {
	return m.CreateVariable(offset, size, PrimitiveType(size), DefaultName(offset))
}

// QuickCreateAtCursor creates a variable at the cursor offset with a size
// inferred from the free bytes around it.
func (m *Mutator) QuickCreateAtCursor() error {
	off, ok := m.view.Cursor().Offset()
	if !ok {
		return ErrNoFunction
	}
	line, _ := m.view.Cursor().Line()
	if line.Kind() == KindVariable {
		return overlapError(off, line.Size(), line)
	}
	return m.QuickCreateVariable(off, InferSize(line, off))
}

// RenameVariable renames the variable starting at offset.
func (m *Mutator) RenameVariable(offset int64, name string) error {
	v, err := m.variableAt(offset)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	v.Name = name
	return m.define(v)
}

// ClearVariableName resets the variable at offset to its generated name.
func (m *Mutator) ClearVariableName(offset int64) error {
	return m.RenameVariable(offset, DefaultName(offset))
}

// RetypeVariable changes the type of the variable at offset. A type with a
// size resizes the variable, subject to the same overlap rule as creation.
func (m *Mutator) RetypeVariable(offset int64, typ Type) error {
	v, err := m.variableAt(offset)
	if err != nil {
		return err
	}
	if typ.Size > 0 && typ.Size != v.Size {
		for _, conflict := range m.view.Layout().Overlapping(offset, typ.Size) {
			if conflict.Offset() != offset {
				return overlapError(offset, typ.Size, conflict)
			}
		}
		v.Size = typ.Size
	}
	if typ.Size == 0 {
		typ.Size = v.Size
	}
	v.Type = typ
	return m.define(v)
}

// DeleteVariable removes the variable starting at offset.
func (m *Mutator) DeleteVariable(offset int64) error {
	v, err := m.variableAt(offset)
	if err != nil {
		return err
	}
	fn := m.view.Function()
	if err := m.view.Source().UndefineVariable(fn, offset); err != nil {
		return fmt.Errorf("undefine %s at %s: %w", v.Name, FormatOffset(offset), err)
	}
	m.view.logger.Info("removed stack variable", "function", fn.Name, "name", v.Name, "offset", FormatOffset(offset))
	m.view.Refresh()
	return nil
}

func (m *Mutator) variableAt(offset int64) (Variable, error) {
	if m.view.Function() == nil {
		return Variable{}, ErrNoFunction
	}
	line, ok := m.view.Layout().VariableAt(offset)
	if !ok {
		return Variable{}, fmt.Errorf("%w %s", ErrNoVariable, FormatOffset(offset))
	}
	v, _ := line.Variable()
	return v, nil
}

func (m *Mutator) define(v Variable) error {
	fn := m.view.Function()
	if err := m.view.Source().DefineVariable(fn, v); err != nil {
		return fmt.Errorf("define %s at %s: %w", v.Name, FormatOffset(v.Offset), err)
	}
	m.view.logger.Info("updated stack variable", "function", fn.Name, "name", v.Name,
		"offset", FormatOffset(v.Offset), "type", v.Type.Name)
	m.view.Refresh()
	return nil
}

// InferSize picks the largest of 8, 4, 2 and 1 bytes that is aligned at
// offset and fits in the free bytes of line from offset on.
func InferSize(line Line, offset int64) int64 {
	free := line.End() - offset
	for _, size := range []int64{8, 4, 2} {
		if offset%size == 0 && free >= size {
			return size
		}
	}
	return 1
}

func overlapError(offset, size int64, conflict Line) error {
	return fmt.Errorf("%w: [%s, %s) intersects %s [%s, %s)", ErrOverlap,
		FormatOffset(offset), FormatOffset(offset+size),
		conflict.Name(), FormatOffset(conflict.Offset()), FormatOffset(conflict.End()))
}
