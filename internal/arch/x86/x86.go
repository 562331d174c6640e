// Package x86 provides x86 architecture specific disassembler code for the
// 32 and 64 bit modes.
package x86

import (
	"fmt"

	"github.com/retroenv/binlift/internal/arch"
	"golang.org/x/arch/x86/x86asm"
)

var _ arch.Architecture = &X86{}

// X86 implements the architecture support for x86 code.
type X86 struct {
	mode int
}

// New returns a new x86 architecture configuration, bits selects the
// decoding mode and has to be 32 or 64.
func New(bits int) *X86 {
	return &X86{
		mode: bits,
	}
}

type instruction struct {
	inst x86asm.Inst
}

// Name returns the mnemonic of the instruction.
func (i instruction) Name() string {
	return i.inst.Op.String()
}

// Text returns the instruction in GNU assembler syntax.
func (i instruction) Text(addr uint64) string {
	return x86asm.GNUSyntax(i.inst, addr, nil)
}

// Name returns the name of the architecture.
func (x *X86) Name() string {
	if x.mode == 64 {
		return "x86_64"
	}
	return "x86"
}

// Decode decodes the instruction at the start of the code bytes. On a
// decode error one byte is skipped to resynchronize.
func (x *X86) Decode(code []byte, _ uint64) (arch.Instruction, uint64, error) {
	inst, err := x86asm.Decode(code, x.mode)
	if err != nil {
		return nil, 1, fmt.Errorf("decoding instruction: %w", err)
	}
	return instruction{inst: inst}, uint64(inst.Len), nil
}

// IsCall returns whether the instruction calls a function.
func (x *X86) IsCall(ins arch.Instruction) bool {
	switch op(ins) {
	case x86asm.CALL, x86asm.LCALL, x86asm.SYSCALL, x86asm.SYSENTER:
		return true
	}
	return false
}

// IsBranch returns whether the instruction branches inside the current
// function.
func (x *X86) IsBranch(ins arch.Instruction) bool {
	switch op(ins) {
	case x86asm.JMP, x86asm.LJMP:
		return true
	}
	return x.IsConditionalBranch(ins)
}

// IsConditionalBranch returns whether the instruction is a conditional
// branch.
func (x *X86) IsConditionalBranch(ins arch.Instruction) bool {
	switch op(ins) {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ,
		x86asm.JE, x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL,
		x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS,
		x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE, x86asm.XBEGIN:
		return true
	}
	return false
}

// IsTerminator returns whether the instruction ends a basic block.
func (x *X86) IsTerminator(ins arch.Instruction) bool {
	if x.IsBranch(ins) {
		return true
	}
	switch op(ins) {
	case x86asm.RET, x86asm.LRET, x86asm.SYSRET, x86asm.SYSEXIT,
		x86asm.UD1, x86asm.UD2:
		return true
	}
	return false
}

// BranchTarget returns the target address of a relative branch or call
// instruction. Targets are relative to the address of the following
// instruction.
func (x *X86) BranchTarget(ins arch.Instruction, addr, size uint64) (uint64, bool) {
	i, ok := ins.(instruction)
	if !ok {
		return 0, false
	}

	for _, arg := range i.inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(x86asm.Rel); ok {
			return addr + size + uint64(int64(rel)), true
		}
	}
	return 0, false
}

func op(ins arch.Instruction) x86asm.Op {
	i, ok := ins.(instruction)
	if !ok {
		return 0
	}
	return i.inst.Op
}
