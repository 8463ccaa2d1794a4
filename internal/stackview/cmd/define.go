package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stackview/internal/stack"
)

var defineCmd = &cobra.Command{
	Use:   "define <binary> <function>",
	Short: "Create, change or remove a stack variable",
	Long: `Edit one stack variable of a function without the TUI. The edit is
appended to the binary's journal, where running TUIs pick it up.

With no variable at --offset a new one is created. When a variable starts
there, --name renames it and --type retypes it.`,
	Example: `
# Quick-create a variable sized from the free bytes at -0x18
stackview define --offset -0x18 --quick ./a.out main

# Create a named 16 byte buffer
stackview define --offset -0x20 --type 'char[16]' --name buf ./a.out main

# Rename, then remove
stackview define --offset -0x20 --name path ./a.out main
stackview define --offset -0x20 --delete ./a.out main
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		edit, err := editFromFlags(cmd)
		if err != nil {
			return err
		}

		logger := newLogger(cfg, false)
		defer logger.Close()

		ws, err := openWorkspace(args[0], cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer ws.Close()

		fn, err := ws.function(args[1])
		if err != nil {
			return err
		}
		view := ws.view(fn, nil)
		if err := edit.apply(stack.NewMutator(view), view); err != nil {
			return err
		}
		return writeFrame(cmd.OutOrStdout(), view.Layout(), nil)
	},
}

func init() {
	defineCmd.Flags().StringP("offset", "o", "", "Frame offset of the variable, e.g. -0x18 (required)")
	defineCmd.Flags().StringP("size", "s", "", "Size in bytes; defaults to the type's size, resizes an existing variable")
	defineCmd.Flags().StringP("type", "t", "", "Type, e.g. int32_t, char *, uint8_t[0x10], 'struct foo:24'")
	defineCmd.Flags().StringP("name", "N", "", "Variable name")
	defineCmd.Flags().BoolP("quick", "q", false, "Create with a generated name and inferred size")
	defineCmd.Flags().Bool("clear-name", false, "Reset the variable to its generated name")
	defineCmd.Flags().BoolP("delete", "x", false, "Remove the variable")
	_ = defineCmd.MarkFlagRequired("offset")
	defineCmd.MarkFlagsMutuallyExclusive("quick", "delete", "clear-name")
}

// edit is one define invocation.
type edit struct {
	offset    int64
	size      int64
	typ       *stack.Type
	name      string
	quick     bool
	clearName bool
	remove    bool
}

func editFromFlags(cmd *cobra.Command) (edit, error) {
	var e edit
	raw, _ := cmd.Flags().GetString("offset")
	off, err := parseInt(raw)
	if err != nil {
		return e, fmt.Errorf("bad offset %q: %w", raw, err)
	}
	e.offset = off

	if raw, _ := cmd.Flags().GetString("size"); raw != "" {
		n, err := parseInt(raw)
		if err != nil || n <= 0 {
			return e, fmt.Errorf("%w: %q", stack.ErrInvalidSize, raw)
		}
		e.size = n
	}
	if raw, _ := cmd.Flags().GetString("type"); raw != "" {
		t, err := stack.ParseType(raw)
		if err != nil {
			return e, err
		}
		e.typ = &t
	}
	e.name, _ = cmd.Flags().GetString("name")
	e.quick, _ = cmd.Flags().GetBool("quick")
	e.clearName, _ = cmd.Flags().GetBool("clear-name")
	e.remove, _ = cmd.Flags().GetBool("delete")
	return e, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 0, 64)
}

func (e edit) apply(m *stack.Mutator, view *stack.View) error {
	switch {
	case e.remove:
		return m.DeleteVariable(e.offset)
	case e.clearName:
		return m.ClearVariableName(e.offset)
	case e.quick:
		if e.size > 0 {
			return m.QuickCreateVariable(e.offset, e.size)
		}
		if !view.GoTo(e.offset) {
			return fmt.Errorf("offset %s is outside the frame", stack.FormatOffset(e.offset))
		}
		return m.QuickCreateAtCursor()
	}

	if line, exists := view.Layout().VariableAt(e.offset); exists {
		if e.typ == nil && e.name == "" && e.size == 0 {
			return fmt.Errorf("variable at %s exists; pass --name, --type, --size or --delete", stack.FormatOffset(e.offset))
		}
		if e.typ != nil || e.size > 0 {
			t := stack.Type{Name: line.TypeName()}
			if e.typ != nil {
				t = *e.typ
			} else if t.Name == "" || t.Name == stack.PrimitiveType(line.Size()).Name {
				// a bare resize keeps the type unless it was only implied by the old size
				t.Name = stack.PrimitiveType(e.size).Name
			}
			if e.size > 0 {
				t.Size = e.size
			}
			if err := m.RetypeVariable(e.offset, t); err != nil {
				return err
			}
		}
		if e.name != "" {
			return m.RenameVariable(e.offset, e.name)
		}
		return nil
	}

	size := e.size
	typ := stack.Type{}
	if e.typ != nil {
		typ = *e.typ
		if size == 0 {
			size = typ.Size
		}
	}
	if size == 0 {
		return fmt.Errorf("%w: pass --size or a sized --type", stack.ErrInvalidSize)
	}
	if typ.Name == "" {
		typ = stack.PrimitiveType(size)
	}
	name := e.name
	if name == "" {
		name = stack.DefaultName(e.offset)
	}
	return m.CreateVariable(e.offset, size, typ, name)
}
