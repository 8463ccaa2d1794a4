package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stackview/internal/stackview/styles"
	"stackview/internal/ui/colorize"
)

var functionsCmd = &cobra.Command{
	Use:     "functions <binary> [filter]",
	Aliases: []string{"funcs"},
	Short:   "List the function symbols of a binary",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
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

		filter := ""
		if len(args) == 2 {
			filter = strings.ToLower(args[1])
		}
		out := cmd.OutOrStdout()
		for _, fn := range ws.functions {
			name := fn.DisplayName()
			if filter != "" && !strings.Contains(strings.ToLower(name), filter) &&
				!strings.Contains(strings.ToLower(fn.Name), filter) {
				continue
			}
			addr := fmt.Sprintf("%x", fn.Addr)
			if colorize.Enabled() {
				addr = styles.Address.Render(addr)
				name = styles.Function.Render(name)
			}
			fmt.Fprintf(out, "%s  %6d  %s\n", addr, fn.Size, name)
		}
		return nil
	},
}
