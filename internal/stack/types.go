package stack

import (
	"fmt"
	"strconv"
	"strings"
)

var primitiveSizes = map[string]int64{
	"char": 1, "bool": 1, "int8_t": 1, "uint8_t": 1,
	"short": 2, "int16_t": 2, "uint16_t": 2,
	"int": 4, "float": 4, "int32_t": 4, "uint32_t": 4,
	"long": 8, "double": 8, "int64_t": 8, "uint64_t": 8, "size_t": 8, "intptr_t": 8, "uintptr_t": 8,
	"int128_t": 16, "uint128_t": 16,
}

// ParseType parses a type as typed by the user. Accepted forms are a known
// primitive ("int32_t"), a pointer ("char *"), an array of either
// ("uint8_t[0x10]"), or any name with an explicit size ("struct foo:24").
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Type{}, fmt.Errorf("%w: empty type", ErrInvalidSize)
	}

	// only a trailing number after the last colon is a size, so qualified
	// names like std::string pass through
	if i := strings.LastIndexByte(s, ':'); i > 0 && s[i-1] != ':' {
		name, size := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if isNumeric(size) {
			n, err := strconv.ParseInt(size, 0, 64)
			if err != nil || n <= 0 {
				return Type{}, fmt.Errorf("%w: %q", ErrInvalidSize, size)
			}
			return Type{Name: name, Size: n}, nil
		}
	}

	if open := strings.LastIndexByte(s, '['); open > 0 && strings.HasSuffix(s, "]") {
		elem, err := ParseType(s[:open])
		if err != nil {
			return Type{}, err
		}
		n, err := strconv.ParseInt(s[open+1:len(s)-1], 0, 64)
		if err != nil || n <= 0 {
			return Type{}, fmt.Errorf("%w: array length %q", ErrInvalidSize, s[open+1:len(s)-1])
		}
		return Type{Name: s, Size: elem.Size * n}, nil
	}

	if strings.HasSuffix(s, "*") {
		return Type{Name: s, Size: 8}, nil
	}
	if n, ok := primitiveSizes[s]; ok {
		return Type{Name: s, Size: n}, nil
	}
	// unknown names keep the variable's current size
	return Type{Name: s}, nil
}

// isNumeric reports whether s looks like an attempted size, such as "-4"
// or "0x", rather than the tail of a name.
func isNumeric(s string) bool {
	s = strings.TrimPrefix(s, "-")
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
