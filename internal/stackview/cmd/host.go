package cmd

import (
	"fmt"
	"strings"

	"stackview/internal/analysis"
	"stackview/internal/stack"
)

// session is the frame hosting the stack view. It collects the selection
// and turns navigation requests into the details pane.
type session struct {
	ws        *workspace
	view      *stack.View
	selection stack.Selection
	details   string
	navigated bool
}

func (s *session) ReportSelection(fn *stack.Function, sel stack.Selection) {
	s.selection = sel
}

func (s *session) Navigate(fn *stack.Function, offset int64) {
	var line stack.Line
	var ok bool
	if s.view != nil {
		if i := s.view.Layout().IndexOf(offset); i >= 0 {
			line, ok = s.view.Layout().Line(i)
		}
	}
	s.details = detailsMarkdown(fn, offset, line, ok, s.ws.refs(fn, offset))
	s.navigated = true
}

// detailsMarkdown describes the slot at offset and the instructions that
// touch it.
func detailsMarkdown(fn *stack.Function, offset int64, line stack.Line, haveLine bool, refs []analysis.Ref) string {
	var b strings.Builder
	title := stack.FormatOffset(offset)
	if haveLine && line.Kind() == stack.KindVariable {
		title = fmt.Sprintf("%s @ %s", line.Name(), stack.FormatOffset(line.Offset()))
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Function `%s` at `%#x`", fn.Name, fn.Addr)
	if fn.FrameSize > 0 {
		fmt.Fprintf(&b, ", frame `%#x` bytes", fn.FrameSize)
	}
	b.WriteString(".\n\n")

	if haveLine {
		switch line.Kind() {
		case stack.KindVariable:
			fmt.Fprintf(&b, "- **type** `%s`\n- **size** %d bytes\n- **extent** `[%s, %s)`\n\n",
				line.TypeName(), line.Size(), stack.FormatOffset(line.Offset()), stack.FormatOffset(line.End()))
		case stack.KindFill:
			fmt.Fprintf(&b, "Unclaimed bytes `[%s, %s)`, %d bytes.\n\n",
				stack.FormatOffset(line.Offset()), stack.FormatOffset(line.End()), line.Size())
		}
	}

	b.WriteString("## References\n\n")
	if len(refs) == 0 {
		b.WriteString("No instruction in the function touches this slot.\n")
		return b.String()
	}
	b.WriteString("```\n")
	for _, r := range refs {
		dir := "read "
		if r.Write {
			dir = "write"
		}
		fmt.Fprintf(&b, "%x  %s  %-4d %s\n", r.VA, dir, r.Size, r.Text)
	}
	b.WriteString("```\n")
	return b.String()
}
