package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stackview/internal/analysis"
	"stackview/internal/stack"
	"stackview/internal/stackview/config"
	"stackview/internal/ui/colorize"
)

var runCmd = &cobra.Command{
	Use:   "run <binary> <function>",
	Short: "Print the stack frame of a function",
	Long: `Print the stack frame of a function and exit. Functions may be named by
symbol, demangled name, or 0x address.`,
	Example: `
# Print a frame
stackview run ./a.out main

# Include the instructions touching each variable
stackview run --refs ./a.out 0x4005d0

# Machine readable
stackview run --json ./a.out main
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printFrame(cmd, cfg, args[0], args[1], asJSON)
	},
}

func init() {
	runCmd.Flags().BoolP("json", "j", false, "Output the frame as JSON")
	runCmd.Flags().BoolP("refs", "r", false, "List the instructions touching each variable")
}

func printFrame(cmd *cobra.Command, cfg *config.Config, binary, query string, asJSON bool) error {
	logger := newLogger(cfg, false)
	defer logger.Close()

	ws, err := openWorkspace(binary, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	fn, err := ws.function(query)
	if err != nil {
		return err
	}
	layout := ws.builder.Build(fn)

	out := cmd.OutOrStdout()
	if asJSON {
		return writeFrameJSON(out, layout)
	}
	var refs func(int64) []analysis.Ref
	if withRefs, _ := cmd.Flags().GetBool("refs"); withRefs {
		refs = func(off int64) []analysis.Ref { return ws.refs(fn, off) }
	}
	return writeFrame(out, layout, refs)
}

// writeFrame prints a header and one coloured row per line. refs, when set,
// lists the instructions under each variable line.
func writeFrame(w io.Writer, layout *stack.Layout, refs func(int64) []analysis.Ref) error {
	fn := layout.Function()
	if fn == nil {
		return stack.ErrNoFunction
	}
	rng := layout.Range()
	if _, err := fmt.Fprintf(w, "; %s @ %#x  frame %#x  [%s, %s)\n", fn.Name, fn.Addr, fn.FrameSize,
		stack.FormatOffset(rng.Low), stack.FormatOffset(rng.High)); err != nil {
		return err
	}
	if layout.Empty() {
		_, err := fmt.Fprintln(w, "; no stack variables")
		return err
	}
	for _, line := range layout.Lines() {
		if _, err := fmt.Fprintln(w, colorize.RenderTokens(line.Content(), -1)); err != nil {
			return err
		}
		if refs == nil || line.Kind() != stack.KindVariable {
			continue
		}
		for _, r := range refs(line.Offset()) {
			if _, err := fmt.Fprintf(w, "        %s\n", colorize.ColorizeInstructionLine(formatRef(r))); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatRef(r analysis.Ref) string {
	return fmt.Sprintf("%x %s", r.VA, r.Text)
}

type frameJSON struct {
	Function  string      `json:"function"`
	Address   string      `json:"address"`
	FrameSize int64       `json:"frame_size"`
	Range     stack.Range `json:"range"`
	Lines     []lineJSON  `json:"lines"`
}

type lineJSON struct {
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
	Text   string `json:"text"`
}

func writeFrameJSON(w io.Writer, layout *stack.Layout) error {
	fn := layout.Function()
	if fn == nil {
		return stack.ErrNoFunction
	}
	out := frameJSON{
		Function:  fn.Name,
		Address:   fmt.Sprintf("%#x", fn.Addr),
		FrameSize: fn.FrameSize,
		Range:     layout.Range(),
		Lines:     make([]lineJSON, 0, layout.Len()),
	}
	for _, line := range layout.Lines() {
		out.Lines = append(out.Lines, lineJSON{
			Kind:   line.Kind().String(),
			Offset: line.Offset(),
			Size:   line.Size(),
			Name:   line.Name(),
			Type:   line.TypeName(),
			Text:   line.Text(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
