// Package arch contains types and functions used for multi architecture support.
// It acts as a bridge between the disassembler and the architecture specific code.
package arch

// Instruction represents a single decoded machine instruction. Decoded
// records are position independent, the same raw bytes always produce the
// same record regardless of the address they were read from. Addresses are
// supplied at use time instead, this keeps records shareable across
// disassembly of different locations.
type Instruction interface {
	// Name returns the mnemonic of the instruction.
	Name() string
	// Text returns the assembler representation of the instruction as if
	// it was located at the given address.
	Text(addr uint64) string
}

// Architecture contains architecture specific information.
type Architecture interface {
	// BranchTarget returns the statically known target address of a branch
	// or call instruction located at the given address with the given byte
	// size. It returns false for targets that are not statically known,
	// for example indirect branches through a register.
	BranchTarget(ins Instruction, addr, size uint64) (uint64, bool)
	// Decode decodes the instruction at the start of the code bytes.
	// The returned size is the number of bytes the instruction occupies.
	// On a decode error the size is the number of bytes to skip to
	// resynchronize the instruction stream.
	Decode(code []byte, addr uint64) (Instruction, uint64, error)
	// IsBranch returns whether the instruction redirects control flow
	// inside the current function, conditionally or unconditionally.
	IsBranch(ins Instruction) bool
	// IsCall returns whether the instruction calls a function and resumes
	// execution after it returns.
	IsCall(ins Instruction) bool
	// IsConditionalBranch returns whether the instruction is a branch that
	// is only taken if a condition holds.
	IsConditionalBranch(ins Instruction) bool
	// IsTerminator returns whether the instruction ends a basic block,
	// like branches, returns and traps.
	IsTerminator(ins Instruction) bool
	// Name returns the name of the architecture.
	Name() string
}
