// Package arm64 provides ARM64 architecture specific disassembler code.
package arm64

import (
	"fmt"

	"github.com/retroenv/binlift/internal/arch"
	"golang.org/x/arch/arm64/arm64asm"
)

var _ arch.Architecture = &ARM64{}

// instructionSize is the fixed width of ARM64 instructions.
const instructionSize = 4

// ARM64 implements the architecture support for 64 bit ARM code.
type ARM64 struct{}

// New returns a new ARM64 architecture configuration.
func New() *ARM64 {
	return &ARM64{}
}

type instruction struct {
	inst arm64asm.Inst
}

// Name returns the mnemonic of the instruction.
func (i instruction) Name() string {
	return i.inst.Op.String()
}

// Text returns the instruction in GNU assembler syntax.
func (i instruction) Text(_ uint64) string {
	return arm64asm.GNUSyntax(i.inst)
}

// Name returns the name of the architecture.
func (a *ARM64) Name() string {
	return "arm64"
}

// Decode decodes the instruction at the start of the code bytes. On a
// decode error one instruction width is skipped to resynchronize.
func (a *ARM64) Decode(code []byte, _ uint64) (arch.Instruction, uint64, error) {
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return nil, instructionSize, fmt.Errorf("decoding instruction: %w", err)
	}
	if inst.Op == 0 {
		return nil, instructionSize, fmt.Errorf("decoding instruction: invalid encoding %#x", inst.Enc)
	}
	return instruction{inst: inst}, instructionSize, nil
}

// IsCall returns whether the instruction calls a function.
func (a *ARM64) IsCall(ins arch.Instruction) bool {
	switch op(ins) {
	case arm64asm.BL, arm64asm.BLR:
		return true
	}
	return false
}

// IsBranch returns whether the instruction branches inside the current
// function.
func (a *ARM64) IsBranch(ins arch.Instruction) bool {
	switch op(ins) {
	case arm64asm.B, arm64asm.BR, arm64asm.CBZ, arm64asm.CBNZ,
		arm64asm.TBZ, arm64asm.TBNZ:
		return true
	}
	return false
}

// IsConditionalBranch returns whether the instruction is a conditional
// branch. Conditional jumps share the B opcode with the unconditional jump
// and are told apart by their condition argument.
func (a *ARM64) IsConditionalBranch(ins arch.Instruction) bool {
	i, ok := ins.(instruction)
	if !ok {
		return false
	}

	switch i.inst.Op {
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return true
	case arm64asm.B:
		for _, arg := range i.inst.Args {
			if arg == nil {
				break
			}
			if _, ok := arg.(arm64asm.Cond); ok {
				return true
			}
		}
	}
	return false
}

// IsTerminator returns whether the instruction ends a basic block.
func (a *ARM64) IsTerminator(ins arch.Instruction) bool {
	if a.IsBranch(ins) {
		return true
	}
	switch op(ins) {
	case arm64asm.RET, arm64asm.ERET:
		return true
	}
	return false
}

// BranchTarget returns the target address of a PC relative branch or call
// instruction. Targets are relative to the address of the instruction
// itself.
func (a *ARM64) BranchTarget(ins arch.Instruction, addr, _ uint64) (uint64, bool) {
	i, ok := ins.(instruction)
	if !ok {
		return 0, false
	}

	for _, arg := range i.inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(arm64asm.PCRel); ok {
			return addr + uint64(int64(rel)), true
		}
	}
	return 0, false
}

func op(ins arch.Instruction) arm64asm.Op {
	i, ok := ins.(instruction)
	if !ok {
		return 0
	}
	return i.inst.Op
}
