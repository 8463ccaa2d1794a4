package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"stackview/internal/analysis"
	"stackview/internal/elfx"
	"stackview/internal/stack"
	"stackview/internal/stackview/config"
	"stackview/internal/vardb"
)

// workspace is one opened binary with its variable sources. Commands and the
// TUI share it.
type workspace struct {
	path      string
	img       *elfx.Image
	cfg       *config.Config
	logger    *log.Logger
	journal   *vardb.Journal
	analysis  *vardb.AnalysisSource
	source    *vardb.Overlay
	builder   *stack.Builder
	functions []analysis.Function
}

func openWorkspace(path string, cfg *config.Config, logger *log.Logger) (*workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	img, err := elfx.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	journalPath, err := vardb.JournalPath(cfg.DataDir, abs)
	if err != nil {
		img.Close()
		return nil, err
	}
	journal, err := vardb.OpenJournal(journalPath, logger)
	if err != nil {
		img.Close()
		return nil, err
	}

	ws := &workspace{
		path:     abs,
		img:      img,
		cfg:      cfg,
		logger:   logger,
		journal:  journal,
		analysis: vardb.NewAnalysisSource(img, logger),
	}

	var base vardb.Fallback
	if !cfg.NoDWARF {
		data, err := img.DWARF()
		switch {
		case err == nil:
			frame := func(fn *stack.Function) (*analysis.Frame, error) { return ws.analysis.Frame(fn) }
			base = append(base, vardb.NewDWARFSource(data, frame, logger))
		case errors.Is(err, elfx.ErrNoDWARF):
			logger.Debug("no debug info, inferring frames", "path", abs)
		default:
			logger.Warn("ignoring debug info", "path", abs, "err", err)
		}
	}
	base = append(base, ws.analysis)

	ws.source = &vardb.Overlay{Base: base, Journal: journal, Logger: logger}
	ws.builder = &stack.Builder{
		Source:    ws.source,
		Formatter: stack.DefaultFormatter{MaxFillBytes: cfg.FillBytes},
		Range:     cfg.StackRange(),
		Logger:    logger,
	}
	ws.functions = analysis.ListFunctions(img)
	logger.Debug("opened workspace", "path", abs, "functions", len(ws.functions), "journal", journalPath)
	return ws, nil
}

func (ws *workspace) Close() error {
	if ws.img == nil {
		return nil
	}
	return ws.img.Close()
}

// function resolves a name, demangled name or 0x address to a stack
// function with its frame size filled in.
func (ws *workspace) function(query string) (*stack.Function, error) {
	fn, ok := analysis.ResolveFunction(ws.img, query)
	if !ok {
		return nil, fmt.Errorf("function not found: %s", query)
	}
	return ws.analysis.Function(fn), nil
}

// refs returns the instructions touching the slot at offset, nil when the
// frame cannot be scanned.
func (ws *workspace) refs(fn *stack.Function, offset int64) []analysis.Ref {
	if ws == nil || ws.analysis == nil {
		return nil
	}
	frame, err := ws.analysis.Frame(fn)
	if err != nil {
		return nil
	}
	return frame.RefsAt(offset)
}

// view returns a view bound to fn.
func (ws *workspace) view(fn *stack.Function, host stack.Host) *stack.View {
	v := stack.NewView(ws.builder, stack.CellMetrics(), host)
	v.Bind(fn)
	return v
}
