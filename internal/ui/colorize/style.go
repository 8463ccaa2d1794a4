package colorize

import (
	"github.com/alecthomas/chroma/v2"
	chromastyles "github.com/alecthomas/chroma/v2/styles"

	"stackview/internal/stackview/styles"
)

// StackDark colours stack lines and the disassembly in the references pane.
var StackDark = chromastyles.Register(chroma.MustNewStyle("stack-dark", chroma.StyleEntries{
	chroma.Text:       styles.Foreground,
	chroma.Background: "bg:" + styles.Background,
	chroma.Comment:    styles.Comment,

	chroma.KeywordType:       styles.TypeName,
	chroma.NameVariable:      styles.Variable,
	chroma.NameVariableMagic: styles.Saved,
	chroma.NameConstant:      styles.FillByte,

	// assembly
	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          "#7C9C9D",
	chroma.NameBuiltin:   "#7C9C9D",
	chroma.NameFunction:  "#FFFFFF",
	chroma.NameLabel:     "#FFD700",
	chroma.LiteralNumber: "#FF5F87",
	chroma.Operator:      styles.Foreground,
	chroma.Punctuation:   styles.Foreground,
	chroma.String:        "#EACD53",

	chroma.LiteralNumberHex: styles.Offset,
}))
