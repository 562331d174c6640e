package disasm

import (
	"errors"
	"fmt"

	"github.com/retroenv/binlift/internal/arch"
	"github.com/retroenv/binlift/internal/objfile"
)

// testInst is a decoded instruction of the test architecture.
type testInst struct {
	name      string
	target    uint64
	hasTarget bool
}

func (t testInst) Name() string {
	return t.name
}

func (t testInst) Text(_ uint64) string {
	return t.name
}

// testArch implements a tiny architecture for engine tests:
//
//	0x01 lo hi  jmp  absolute target, unconditional branch
//	0x02 lo hi  jeq  absolute target, conditional branch
//	0x03 lo hi  call absolute target
//	0x04        ret
//	0x05        nop
//
// All other bytes fail to decode with a resynchronization width of 1.
type testArch struct{}

var opcodeNames = map[byte]string{
	0x01: "jmp",
	0x02: "jeq",
	0x03: "call",
}

func (testArch) Name() string {
	return "test"
}

func (testArch) Decode(code []byte, _ uint64) (arch.Instruction, uint64, error) {
	if len(code) == 0 {
		return nil, 1, errors.New("no bytes to decode")
	}

	switch code[0] {
	case 0x01, 0x02, 0x03:
		if len(code) < 3 {
			return nil, 1, errors.New("truncated instruction")
		}
		target := uint64(code[1]) | uint64(code[2])<<8
		return testInst{name: opcodeNames[code[0]], target: target, hasTarget: true}, 3, nil
	case 0x04:
		return testInst{name: "ret"}, 1, nil
	case 0x05:
		return testInst{name: "nop"}, 1, nil
	default:
		return nil, 1, fmt.Errorf("invalid opcode %#02x", code[0])
	}
}

func (testArch) IsCall(ins arch.Instruction) bool {
	return ins.Name() == "call"
}

func (testArch) IsBranch(ins arch.Instruction) bool {
	name := ins.Name()
	return name == "jmp" || name == "jeq"
}

func (testArch) IsConditionalBranch(ins arch.Instruction) bool {
	return ins.Name() == "jeq"
}

func (testArch) IsTerminator(ins arch.Instruction) bool {
	switch ins.Name() {
	case "jmp", "jeq", "ret":
		return true
	}
	return false
}

func (testArch) BranchTarget(ins arch.Instruction, _, _ uint64) (uint64, bool) {
	t, ok := ins.(testInst)
	if !ok || !t.hasTarget {
		return 0, false
	}
	return t.target, true
}

// testBinary is an object file stand-in with identity address translation.
type testBinary struct {
	sections []objfile.Section
	entry    uint64
}

func (b testBinary) EffectiveLoadAddr(addr uint64) uint64 {
	return addr
}

func (b testBinary) Entrypoint() uint64 {
	return b.entry
}

func (b testBinary) OriginalLoadAddr(addr uint64) uint64 {
	return addr
}

func (b testBinary) Sections() []objfile.Section {
	return b.sections
}

// textSection wraps code bytes into a fully backed text section.
func textSection(name string, addr uint64, code []byte) objfile.Section {
	return objfile.Section{
		Name:    name,
		Addr:    addr,
		Size:    uint64(len(code)),
		Kind:    objfile.SectionText,
		Content: code,
	}
}

// testResolver maps addresses to symbol names for engine tests.
type testResolver struct {
	functions []uint64
	names     map[uint64]string
	externals map[uint64]string
}

func (r testResolver) ExternalNameAt(addr uint64) string {
	return r.externals[addr]
}

func (r testResolver) FunctionAddrs() []uint64 {
	return r.functions
}

func (r testResolver) FunctionName(addr uint64) string {
	if name, ok := r.names[addr]; ok {
		return name
	}
	return fmt.Sprintf("fn_%x", addr)
}
