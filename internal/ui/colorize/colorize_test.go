package colorize

import (
	"testing"

	"github.com/alecthomas/chroma/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackview/internal/stack"
)

func TestTokenType(t *testing.T) {
	cases := []struct {
		tok  stack.Token
		want chroma.TokenType
	}{
		{stack.Token{Kind: stack.OffsetToken, Text: "-0x10"}, chroma.LiteralNumberHex},
		{stack.Token{Kind: stack.TypeNameToken, Text: "int"}, chroma.KeywordType},
		{stack.Token{Kind: stack.VariableNameToken, Text: "var_10"}, chroma.NameVariable},
		{stack.Token{Kind: stack.VariableNameToken, Text: "__saved_x19"}, chroma.NameVariableMagic},
		{stack.Token{Kind: stack.FillByteToken, Text: "??"}, chroma.NameConstant},
		{stack.Token{Kind: stack.CommentToken, Text: "; x"}, chroma.Comment},
		{stack.Token{Kind: stack.TextToken, Text: " "}, chroma.Text},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TokenType(c.tok), c.tok.Text)
	}
}

func TestRenderTokensKeepsText(t *testing.T) {
	toks := []stack.Token{
		{Kind: stack.OffsetToken, Text: "-0x10"},
		{Kind: stack.TextToken, Text: " "},
		{Kind: stack.TypeNameToken, Text: "int"},
		{Kind: stack.TextToken, Text: " "},
		{Kind: stack.VariableNameToken, Text: "var_10"},
	}
	for _, on := range []bool{true, false} {
		SetEnabled(on)
		out := RenderTokens(toks, 2)
		require.Equal(t, "-0x10 int var_10", ansi.Strip(out), "enabled=%v", on)
	}
	SetEnabled(true)
}

func TestColorizeInstructionLineDisabled(t *testing.T) {
	SetEnabled(false)
	defer SetEnabled(true)
	line := "4005d0 stp x29, x30, [sp,#-32]!"
	assert.Equal(t, line, ColorizeInstructionLine(line))
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("4005d0"))
	assert.True(t, isHex("0xdead"))
	assert.False(t, isHex("stp"))
	assert.False(t, isHex(""))
}
