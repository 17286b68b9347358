package diag

import (
	"golang.org/x/arch/x86/x86asm"
)

// Instruction is one decoded instruction of a linear sweep.
type Instruction struct {
	Offset uint32
	Len    int
	Inst   x86asm.Inst
	// Bad marks a byte the sweep could not decode; Len is 1.
	Bad bool
}

// IsCall reports whether the instruction transfers control to a callee.
func (i Instruction) IsCall() bool {
	return !i.Bad && (i.Inst.Op == x86asm.CALL || i.Inst.Op == x86asm.LCALL)
}

// Text renders the instruction in Intel syntax.
func (i Instruction) Text(pc uint64) string {
	if i.Bad {
		return "(bad)"
	}
	return x86asm.IntelSyntax(i.Inst, pc, nil)
}

// Disassemble sweeps code linearly in 64-bit mode. Undecodable bytes are
// reported as single-byte Bad instructions and the sweep resumes after them.
func Disassemble(code []byte) []Instruction {
	var out []Instruction
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			out = append(out, Instruction{Offset: uint32(off), Len: 1, Bad: true})
			off++
			continue
		}
		out = append(out, Instruction{Offset: uint32(off), Len: inst.Len, Inst: inst})
		off += inst.Len
	}
	return out
}

// CheckCallSites returns the safe points that are not the return address of
// a CALL in code.
func CheckCallSites(code []byte, safePoints []uint32) []uint32 {
	returns := make(map[uint32]struct{})
	for _, in := range Disassemble(code) {
		if in.IsCall() {
			returns[in.Offset+uint32(in.Len)] = struct{}{}
		}
	}

	var bad []uint32
	for _, sp := range safePoints {
		if _, ok := returns[sp]; !ok {
			bad = append(bad, sp)
		}
	}
	return bad
}
