package stack

import (
	"fmt"
	"strings"
)

// Formatter renders the display tokens for variable and fill lines.
// Implementations must be pure.
type Formatter interface {
	VariableTokens(v Variable) []Token
	FillTokens(offset, size int64) []Token
}

// DefaultMaxFillBytes is the number of "??" placeholders drawn for a gap
// before the rest is summarised in a comment.
const DefaultMaxFillBytes = 8

// offsetColumn is the width the offset column is padded to.
const offsetColumn = 8

// DefaultFormatter renders lines as
//
//	-0x14   int32_t var_14
//	-0x10   ?? ?? ?? ??
type DefaultFormatter struct {
	MaxFillBytes int
}

func (f DefaultFormatter) VariableTokens(v Variable) []Token {
	off := FormatOffset(v.Offset)
	typeName := v.Type.Name
	if typeName == "" {
		typeName = PrimitiveType(v.Size).Name
	}
	return []Token{
		{Kind: OffsetToken, Text: off},
		{Kind: TextToken, Text: pad(off)},
		{Kind: TypeNameToken, Text: typeName},
		{Kind: TextToken, Text: " "},
		{Kind: VariableNameToken, Text: v.Name},
	}
}

func (f DefaultFormatter) FillTokens(offset, size int64) []Token {
	off := FormatOffset(offset)
	tokens := []Token{
		{Kind: OffsetToken, Text: off},
		{Kind: TextToken, Text: pad(off)},
	}

	limit := f.MaxFillBytes
	if limit <= 0 {
		limit = DefaultMaxFillBytes
	}
	n := min(size, int64(limit))
	for i := int64(0); i < n; i++ {
		if i > 0 {
			tokens = append(tokens, Token{Kind: TextToken, Text: " "})
		}
		tokens = append(tokens, Token{Kind: FillByteToken, Text: "??"})
	}
	if size > n {
		tokens = append(tokens, Token{Kind: CommentToken, Text: fmt.Sprintf(" ; %#x bytes", size)})
	}
	return tokens
}

// FormatOffset formats a frame offset as signed hex ("-0x14", "0x8").
func FormatOffset(off int64) string {
	if off < 0 {
		return fmt.Sprintf("-%#x", uint64(-off))
	}
	return fmt.Sprintf("%#x", uint64(off))
}

// DefaultName is the generated name for a variable at offset: var_<hex> for
// locals below the CFA, arg_<hex> for slots at or above it.
func DefaultName(offset int64) string {
	if offset < 0 {
		return fmt.Sprintf("var_%x", uint64(-offset))
	}
	return fmt.Sprintf("arg_%x", uint64(offset))
}

// PrimitiveType returns the integer type for a slot of size bytes, or a byte
// array for sizes without a primitive.
func PrimitiveType(size int64) Type {
	switch size {
	case 1:
		return Type{Name: "int8_t", Size: 1}
	case 2:
		return Type{Name: "int16_t", Size: 2}
	case 4:
		return Type{Name: "int32_t", Size: 4}
	case 8:
		return Type{Name: "int64_t", Size: 8}
	case 16:
		return Type{Name: "int128_t", Size: 16}
	}
	return Type{Name: fmt.Sprintf("uint8_t[%#x]", size), Size: size}
}

func pad(s string) string {
	if len(s) >= offsetColumn {
		return " "
	}
	return strings.Repeat(" ", offsetColumn-len(s))
}
