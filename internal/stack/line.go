package stack

import "strings"

// Kind tags a stack line.
type Kind int

const (
	KindVariable Kind = iota
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindFill:
		return "fill"
	default:
		return "unknown"
	}
}

// TokenKind is the presentation class of a display token.
type TokenKind int

const (
	TextToken TokenKind = iota
	OffsetToken
	TypeNameToken
	VariableNameToken
	FillByteToken
	CommentToken
)

// Token is a text fragment tagged with its presentation kind.
type Token struct {
	Kind TokenKind
	Text string
}

// Line is one row of the stack view. Lines are immutable; a variable line
// keeps a copy of the variable's display data, not a reference to it.
type Line struct {
	kind     Kind
	offset   int64
	size     int64
	name     string
	typeName string
	content  []Token
}

// NewVariableLine returns a line bound to v.
func NewVariableLine(v Variable, content []Token) Line {
	return Line{
		kind:     KindVariable,
		offset:   v.Offset,
		size:     v.Size,
		name:     v.Name,
		typeName: v.Type.Name,
		content:  cloneTokens(content),
	}
}

// NewFillLine returns a line for the unclaimed bytes [offset, offset+size).
func NewFillLine(offset, size int64, content []Token) Line {
	return Line{
		kind:    KindFill,
		offset:  offset,
		size:    size,
		content: cloneTokens(content),
	}
}

func (l Line) Kind() Kind       { return l.kind }
func (l Line) Offset() int64    { return l.offset }
func (l Line) Size() int64      { return l.size }
func (l Line) End() int64       { return l.offset + l.size }
func (l Line) Name() string     { return l.name }
func (l Line) TypeName() string { return l.typeName }

// Content returns a copy of the line's tokens.
func (l Line) Content() []Token {
	return cloneTokens(l.content)
}

// Text returns the concatenated token text.
func (l Line) Text() string {
	var sb strings.Builder
	for _, t := range l.content {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// Contains reports whether offset falls inside the line's extent.
func (l Line) Contains(offset int64) bool {
	return offset >= l.offset && offset < l.End()
}

// Variable rebuilds the variable a variable line was created from.
func (l Line) Variable() (Variable, bool) {
	if l.kind != KindVariable {
		return Variable{}, false
	}
	return Variable{
		Name:   l.name,
		Offset: l.offset,
		Size:   l.size,
		Type:   Type{Name: l.typeName, Size: l.size},
	}, true
}

// granule returns the byte range selected by token tok. Variable lines are a
// single granule; fill lines are split evenly across their byte tokens.
func (l Line) granule(tok int) (int64, int64) {
	if l.kind == KindVariable {
		return l.offset, l.End()
	}
	k, n := l.byteIndex(tok)
	if n == 0 || l.size <= 0 {
		return l.offset, l.End()
	}
	begin := l.offset + int64(k)*l.size/int64(n)
	end := l.offset + int64(k+1)*l.size/int64(n)
	return begin, end
}

// byteIndex returns the ordinal of the fill byte selected by tok and the
// number of byte tokens. Tokens before the first byte select the first byte,
// tokens after the last select the last.
func (l Line) byteIndex(tok int) (int, int) {
	before, total := 0, 0
	for i, t := range l.content {
		if t.Kind != FillByteToken {
			continue
		}
		if i < tok {
			before++
		}
		total++
	}
	if before >= total && total > 0 {
		before = total - 1
	}
	return before, total
}

// tokenFor returns the token index whose granule holds offset.
func (l Line) tokenFor(offset int64) int {
	if l.kind == KindVariable || !l.Contains(offset) {
		return 0
	}
	first := -1
	for i, t := range l.content {
		if t.Kind != FillByteToken {
			continue
		}
		if first < 0 {
			first = i
		}
		if b, e := l.granule(i); offset >= b && offset < e {
			return i
		}
	}
	if first < 0 {
		return 0
	}
	return first
}

func cloneTokens(in []Token) []Token {
	if in == nil {
		return nil
	}
	out := make([]Token, len(in))
	copy(out, in)
	return out
}
