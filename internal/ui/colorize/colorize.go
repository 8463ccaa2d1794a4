// Package colorize renders stack line tokens and disassembly for the
// terminal.
package colorize

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"

	"stackview/internal/stack"
	"stackview/internal/stackview/styles"
)

const savedPrefix = "__saved_"

var disabled atomic.Bool

func init() {
	disabled.Store(os.Getenv("STACKVIEW_NO_COLOR") != "")
}

// SetEnabled turns colour output on or off for the whole process.
func SetEnabled(on bool) { disabled.Store(!on) }

// Enabled reports whether colour output is on.
func Enabled() bool { return !disabled.Load() }

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// TokenType maps a display token to the chroma type it is coloured as.
func TokenType(tok stack.Token) chroma.TokenType {
	switch tok.Kind {
	case stack.OffsetToken:
		return chroma.LiteralNumberHex
	case stack.TypeNameToken:
		return chroma.KeywordType
	case stack.VariableNameToken:
		if strings.HasPrefix(tok.Text, savedPrefix) {
			return chroma.NameVariableMagic
		}
		return chroma.NameVariable
	case stack.FillByteToken:
		return chroma.NameConstant
	case stack.CommentToken:
		return chroma.Comment
	default:
		return chroma.Text
	}
}

// RenderTokens renders one stack line. The token at index highlight, if
// any, is drawn with the cursor style instead of its own colour.
func RenderTokens(tokens []stack.Token, highlight int) string {
	if !Enabled() {
		var b strings.Builder
		for i, t := range tokens {
			if i == highlight {
				b.WriteString(styles.CursorToken.Render(t.Text))
				continue
			}
			b.WriteString(t.Text)
		}
		return b.String()
	}

	var b strings.Builder
	formatter := getTerminalFormatter()
	flush := func(run []chroma.Token) {
		if len(run) == 0 {
			return
		}
		if err := formatter.Format(&b, StackDark, chroma.Literator(run...)); err != nil {
			for _, t := range run {
				b.WriteString(t.Value)
			}
		}
	}

	var run []chroma.Token
	for i, t := range tokens {
		if i == highlight {
			flush(run)
			run = run[:0]
			b.WriteString(styles.CursorToken.Render(t.Text))
			continue
		}
		run = append(run, chroma.Token{Type: TokenType(t), Value: t.Text})
	}
	flush(run)
	return b.String()
}

// ColorizeInstructionLine colours one "address  mnemonic operands" line.
// The leading hex address is dimmed and the rest goes through the nasm
// lexer.
func ColorizeInstructionLine(line string) string {
	if !Enabled() {
		return line
	}
	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return colorizeAssembly(line)
	}
	return styles.Address.Render(addr) + " " + colorizeAssembly(rest)
}

func isHex(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "armasm", "gas"} {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func colorizeAssembly(code string) string {
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var b strings.Builder
	if err := getTerminalFormatter().Format(&b, StackDark, it); err != nil {
		return code
	}
	return b.String()
}
