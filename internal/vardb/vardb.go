// Package vardb provides the variable sources behind the stack view: DWARF
// debug info, frames inferred from machine code, and a per-binary journal of
// user definitions layered on top of either.
package vardb

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"
)

var (
	ErrReadOnly    = errors.New("variable source is read-only")
	ErrNoDebugInfo = errors.New("no debug info for function")
)

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard)
	}
	return l
}
