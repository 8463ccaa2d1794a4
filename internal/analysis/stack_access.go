package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"stackview/internal/disasm"
	"stackview/internal/elfx"

	"golang.org/x/arch/arm64/arm64asm"
)

// Slot is a stack location the function's code reads or writes, relative to
// the canonical frame address.
type Slot struct {
	Offset int64
	Size   int64
	Saved  string // callee-saved register spilled here by the prologue
	Reads  int
	Writes int
}

// End returns the offset one past the slot.
func (s Slot) End() int64 { return s.Offset + s.Size }

// Ref is one instruction touching a stack slot.
type Ref struct {
	VA     uint64
	Offset int64
	Size   int64
	Write  bool
	Text   string
}

// Frame is the stack frame inferred from a function's machine code. FP is
// the distance of X29 below the CFA once the frame record is set up.
type Frame struct {
	Size  int64
	FP    int64
	HasFP bool
	Slots []Slot
	Refs  []Ref
}

// RefsAt returns the references whose access covers offset.
func (f *Frame) RefsAt(offset int64) []Ref {
	var out []Ref
	for _, r := range f.Refs {
		if offset >= r.Offset && offset < r.Offset+r.Size {
			out = append(out, r)
		}
	}
	return out
}

// ScanStackFrame disassembles the function described by sym and infers its
// stack frame.
func ScanStackFrame(img *elfx.Image, sym elfx.Symbol) (*Frame, error) {
	stream, err := Disassemble(img, sym)
	if err != nil {
		return nil, err
	}
	frame := ScanInstructions(stream, sym.Size == 0)
	return &frame, nil
}

// Disassemble decodes the instructions of sym. Symbols without a size are
// read up to MaxScanInstructions.
func Disassemble(img *elfx.Image, sym elfx.Symbol) (disasm.Stream, error) {
	n := int(sym.Size)
	if n == 0 || n > MaxScanInstructions*4 {
		n = MaxScanInstructions * 4
	}
	data, ok := img.ReadBytesVA(sym.Addr, n)
	if !ok {
		// unsized symbols near the end of a segment
		for n > 4 && !ok {
			n /= 2
			data, ok = img.ReadBytesVA(sym.Addr, n)
		}
	}
	if !ok || len(data) < 4 {
		return nil, fmt.Errorf("failed to read code at %x", sym.Addr)
	}
	return disasm.Decode(sym.Addr, data), nil
}

// frameState tracks SP and X29 as distances below the CFA.
type frameState struct {
	sp      int64
	spKnown bool
	fp      int64
	fpKnown bool
}

type scanner struct {
	state    frameState
	body     frameState
	depth    int64
	prologue bool
	slots    map[int64]*Slot
	refs     []Ref
}

// ScanInstructions infers the stack frame from a decoded instruction stream.
// When stopAtRet is set the scan ends at the first RET, otherwise the state
// after a RET is reset to the deepest frame seen so later blocks of the same
// function keep resolving.
func ScanInstructions(stream disasm.Stream, stopAtRet bool) Frame {
	s := &scanner{
		state:    frameState{spKnown: true},
		prologue: true,
		slots:    map[int64]*Slot{},
	}
	for _, in := range stream {
		if in.Bad {
			continue
		}
		if in.Inst.Op == arm64asm.RET {
			if stopAtRet {
				break
			}
			s.state = s.body
			continue
		}
		s.step(in)
		if s.state.spKnown && s.state.sp >= s.depth {
			s.depth = s.state.sp
			s.body = s.state
		}
	}
	return Frame{
		Size:  s.depth,
		FP:    s.body.fp,
		HasFP: s.body.fpKnown,
		Slots: s.resolve(),
		Refs:  s.refs,
	}
}

func (s *scanner) step(in disasm.Inst) {
	inst := in.Inst
	args := inst.Args[:]

	switch inst.Op {
	case arm64asm.SUB, arm64asm.ADD:
		if s.adjust(inst) {
			return
		}
	case arm64asm.MOV:
		dst, src := argName(args[0]), argName(args[1])
		switch {
		case dst == "x29" && src == "sp" && s.state.spKnown:
			s.state.fp, s.state.fpKnown = s.state.sp, true
			return
		case dst == "sp" && src == "x29" && s.state.fpKnown:
			s.state.sp, s.state.spKnown = s.state.fp, true
			s.prologue = false
			return
		case dst == "sp":
			s.state.spKnown = false
		case dst == "x29":
			s.state.fpKnown = false
		}
	}

	if mem, idx, ok := memOperand(inst); ok {
		s.access(in, mem, idx)
		return
	}
	s.prologue = false
}

// adjust handles immediate arithmetic on SP and X29. It reports whether the
// instruction was a frame adjustment.
func (s *scanner) adjust(inst arm64asm.Inst) bool {
	dst, src := argName(inst.Args[0]), argName(inst.Args[1])
	imm, ok := parseShiftedImmediate(inst.Args[2])
	if !ok {
		if dst == "sp" {
			s.state.spKnown = false
			return true
		}
		if dst == "x29" {
			s.state.fpKnown = false
		}
		return false
	}
	if inst.Op == arm64asm.ADD {
		imm = -imm
	}

	switch {
	case dst == "sp" && src == "sp" && s.state.spKnown:
		s.state.sp += imm
		if imm < 0 {
			s.prologue = false
		}
	case dst == "sp" && src == "x29" && s.state.fpKnown:
		s.state.sp, s.state.spKnown = s.state.fp+imm, true
		s.prologue = false
	case dst == "sp":
		s.state.spKnown = false
	case dst == "x29" && src == "sp" && s.state.spKnown:
		s.state.fp, s.state.fpKnown = s.state.sp+imm, true
	case dst == "x29":
		s.state.fpKnown = false
		return false
	default:
		return false
	}
	return true
}

func (s *scanner) access(in disasm.Inst, mem arm64asm.MemImmediate, idx int) {
	inst := in.Inst
	base := strings.ToLower(mem.Base.String())
	imm := memOffset(mem)

	var cur int64
	switch {
	case base == "sp" && s.state.spKnown:
		cur = s.state.sp
	case base == "x29" && s.state.fpKnown:
		cur = s.state.fp
	default:
		if base == "sp" || base == "x29" {
			s.prologue = false
		}
		return
	}

	addr := -cur
	switch mem.Mode {
	case arm64asm.AddrOffset:
		addr += imm
	case arm64asm.AddrPreIndex:
		addr += imm
		cur -= imm
	case arm64asm.AddrPostIndex:
		cur -= imm
	default:
		return
	}
	if base == "sp" {
		s.state.sp = cur
	} else {
		s.state.fp = cur
	}

	write := isStore(inst.Op)
	regs := inst.Args[:idx]
	for i, r := range regs {
		if r == nil {
			continue
		}
		name := argName(r)
		size := accessSize(inst.Op, name)
		off := addr + int64(i)*size

		slot := s.slot(off, size)
		if write {
			slot.Writes++
			if s.prologue && isCalleeSaved(name) && slot.Saved == "" {
				slot.Saved = name
			}
		} else {
			slot.Reads++
		}
		s.refs = append(s.refs, Ref{VA: in.VA, Offset: off, Size: size, Write: write, Text: in.String()})
	}
	if !write || !s.savesCalleeRegs(regs) {
		s.prologue = false
	}
}

func (s *scanner) savesCalleeRegs(regs []arm64asm.Arg) bool {
	for _, r := range regs {
		if r != nil && !isCalleeSaved(argName(r)) {
			return false
		}
	}
	return true
}

func (s *scanner) slot(off, size int64) *Slot {
	sl, ok := s.slots[off]
	if !ok {
		sl = &Slot{Offset: off, Size: size}
		s.slots[off] = sl
	}
	if size > sl.Size {
		sl.Size = size
	}
	return sl
}

// resolve orders the slots and truncates any slot that runs into the next
// one.
func (s *scanner) resolve() []Slot {
	out := make([]Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, *sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	for i := 0; i+1 < len(out); i++ {
		if out[i].End() > out[i+1].Offset {
			out[i].Size = out[i+1].Offset - out[i].Offset
		}
	}
	return out
}

// memOperand finds the immediate-addressed memory operand of a load or
// store and the index of the argument holding it.
func memOperand(inst arm64asm.Inst) (arm64asm.MemImmediate, int, bool) {
	if !isStore(inst.Op) && !isLoad(inst.Op) {
		return arm64asm.MemImmediate{}, 0, false
	}
	for i, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(arm64asm.MemImmediate); ok {
			return mem, i, true
		}
	}
	return arm64asm.MemImmediate{}, 0, false
}

func isStore(op arm64asm.Op) bool {
	switch op {
	case arm64asm.STR, arm64asm.STRB, arm64asm.STRH, arm64asm.STP,
		arm64asm.STUR, arm64asm.STURB, arm64asm.STURH:
		return true
	}
	return false
}

func isLoad(op arm64asm.Op) bool {
	switch op {
	case arm64asm.LDR, arm64asm.LDRB, arm64asm.LDRH, arm64asm.LDRSB, arm64asm.LDRSH, arm64asm.LDRSW,
		arm64asm.LDP, arm64asm.LDUR, arm64asm.LDURB, arm64asm.LDURH:
		return true
	}
	return false
}

// accessSize returns the bytes moved per register by op.
func accessSize(op arm64asm.Op, reg string) int64 {
	switch op {
	case arm64asm.STRB, arm64asm.LDRB, arm64asm.LDRSB, arm64asm.STURB, arm64asm.LDURB:
		return 1
	case arm64asm.STRH, arm64asm.LDRH, arm64asm.LDRSH, arm64asm.STURH, arm64asm.LDURH:
		return 2
	case arm64asm.LDRSW:
		return 4
	}
	if reg == "wzr" {
		return 4
	}
	if reg == "xzr" {
		return 8
	}
	switch reg[0] {
	case 'b':
		return 1
	case 'h':
		return 2
	case 'w', 's':
		return 4
	case 'q':
		return 16
	}
	return 8
}

// isCalleeSaved reports whether reg is preserved across calls by AAPCS64.
func isCalleeSaved(reg string) bool {
	if len(reg) < 2 {
		return false
	}
	n, err := strconv.Atoi(reg[1:])
	if err != nil {
		return false
	}
	switch reg[0] {
	case 'x':
		return n >= 19 && n <= 30
	case 'd':
		return n >= 8 && n <= 15
	}
	return false
}

func argName(a arm64asm.Arg) string {
	switch a.(type) {
	case arm64asm.Reg, arm64asm.RegSP:
		return strings.ToLower(a.String())
	}
	return ""
}

// memOffset extracts the signed immediate of a memory operand from its
// printed form, e.g. "[SP,#-32]!" or "[X29],#16".
func memOffset(m arm64asm.MemImmediate) int64 {
	str := m.String()
	idx := strings.Index(str, "#")
	if idx < 0 {
		return 0
	}
	str = strings.TrimRight(str[idx+1:], "]!")
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseShiftedImmediate reads "#0x20" and "#0x1, LSL #12" style immediates.
func parseShiftedImmediate(arg arm64asm.Arg) (int64, bool) {
	switch a := arg.(type) {
	case arm64asm.Imm:
		return int64(a.Imm), true
	case arm64asm.ImmShift:
		str := strings.TrimPrefix(a.String(), "#")
		shift := uint64(0)
		if i := strings.Index(str, ", LSL #"); i >= 0 {
			s, err := strconv.ParseUint(str[i+len(", LSL #"):], 10, 8)
			if err != nil {
				return 0, false
			}
			shift, str = s, str[:i]
		}
		v, err := strconv.ParseUint(str, 0, 64)
		if err != nil {
			return 0, false
		}
		return int64(v << shift), true
	}
	return 0, false
}
