package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"stackview/internal/logging"
	"stackview/internal/stackview/config"
	slogsetup "stackview/internal/stackview/log"
	"stackview/internal/ui/colorize"
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/stackview/config.yaml)")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Directory for variable journals")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colour output")
	rootCmd.PersistentFlags().Bool("no-dwarf", false, "Ignore DWARF debug info and infer frames from code")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the frame instead of starting the TUI")
	rootCmd.Flags().Bool("no-follow", false, "Do not reload when the journal changes on disk")

	rootCmd.AddCommand(runCmd, defineCmd, functionsCmd, schemaCmd)
}

var rootCmd = &cobra.Command{
	Use:   "stackview <binary> [function]",
	Short: "Browse and edit the stack frames of ARM64 functions",
	Long: `Stackview shows the stack frame of a function as one line per variable,
with the unclaimed bytes between them drawn as fill lines. Variables come
from DWARF debug info when present and are otherwise inferred from the
function's loads and stores. Edits are kept in a per-binary journal.`,
	Example: `
# Pick a function interactively
stackview ./libgame.so

# Open a function directly
stackview ./libgame.so _ZN4Game6updateEf

# Print a frame without the TUI
stackview -n ./a.out main
  `,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
		}
		if noTUI {
			if len(args) < 2 {
				return fmt.Errorf("usage: stackview --no-tui <binary> <function>")
			}
			colorize.SetEnabled(false)
			return printFrame(cmd, cfg, args[0], args[1], false)
		}
		if noFollow, _ := cmd.Flags().GetBool("no-follow"); noFollow {
			off := false
			cfg.Follow = &off
		}

		logger := newLogger(cfg, true)
		defer logger.Close()

		ws, err := openWorkspace(args[0], cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer ws.Close()

		start := ""
		if len(args) == 2 {
			start = args[1]
		}
		m := newModel(cmd.Context(), ws, start)

		program := tea.NewProgram(
			m,
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// loadConfig reads the config file and applies the persistent flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		cfg.NoColor = true
	}
	if noDWARF, _ := cmd.Flags().GetBool("no-dwarf"); noDWARF {
		cfg.NoDWARF = true
	}
	if cfg.NoColor {
		colorize.SetEnabled(false)
	}

	logFile := ""
	if cfg.Debug {
		logFile = filepath.Join(cfg.DataDir, "stackview.log")
		_ = os.MkdirAll(cfg.DataDir, 0o755)
	}
	slogsetup.Setup(logFile, cfg.Debug)
	return cfg, nil
}

// newLogger returns the component logger. The TUI variant never writes to
// the terminal.
func newLogger(cfg *config.Config, tui bool) *logging.LoggerCloser {
	var lc *logging.LoggerCloser
	if tui {
		lc = logging.NewTUILogger(cfg.DataDir)
	} else {
		lc = logging.NewLogger(cfg.DataDir)
	}
	if cfg.Debug {
		lc.SetLevel(log.DebugLevel)
	}
	return lc
}

func Execute() {
	// fang renders help and errors as styled markdown, which only makes
	// sense on a terminal
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
