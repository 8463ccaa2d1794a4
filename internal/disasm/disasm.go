// Package disasm defines a common instruction representation used
// across the analysis passes and the UI.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA   uint64       // virtual address of instruction
	Text string       // formatted disassembly string
	Op   string       // mnemonic in lowercase
	Raw  [4]byte      // raw encoding
	Inst arm64asm.Inst // decoded form, zero when Bad
	Bad  bool
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Decode disassembles data as little-endian ARM64 words starting at va.
// Undecodable words are kept as ".inst" entries so addresses stay dense.
func Decode(va uint64, data []byte) Stream {
	out := make(Stream, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		in := Inst{VA: va + uint64(i)}
		copy(in.Raw[:], data[i:i+4])
		inst, err := arm64asm.Decode(data[i : i+4])
		if err != nil {
			in.Bad = true
			in.Op = ".inst"
			in.Text = fmt.Sprintf(".inst %#08x", uint32(in.Raw[0])|uint32(in.Raw[1])<<8|uint32(in.Raw[2])<<16|uint32(in.Raw[3])<<24)
		} else {
			in.Inst = inst
			in.Op = strings.ToLower(inst.Op.String())
			in.Text = strings.ToLower(inst.String())
		}
		out = append(out, in)
	}
	return out
}

// String formats the instruction as "address  mnemonic operands".
func (in Inst) String() string {
	ops := strings.TrimSpace(strings.TrimPrefix(in.Text, in.Op))
	return fmt.Sprintf("%-10x %-6s %s", in.VA, in.Op, ops)
}

// Find returns the index of the instruction at va, or -1.
func (s Stream) Find(va uint64) int {
	if len(s) == 0 || va < s[0].VA {
		return -1
	}
	i := int((va - s[0].VA) / 4)
	if i >= len(s) || s[i].VA != va {
		return -1
	}
	return i
}
