package writer

import (
	"strings"
	"testing"

	"github.com/retroenv/retrogolib/assert"

	"github.com/retroenv/binlift/internal/module"
)

type testInst string

func (t testInst) Name() string {
	return string(t)
}

func (t testInst) Text(_ uint64) string {
	return string(t)
}

type testResolver struct{}

func (testResolver) DisplayName(name string) string {
	if name == "_Z3runv" {
		return "run()"
	}
	return name
}

func TestWriteFunctionListing(t *testing.T) {
	mod := module.New()
	mod.Entrypoint = 0x1000

	first, err := mod.CreateTextAtom(0x1000, 0x1000)
	assert.NoError(t, err)
	assert.NoError(t, first.AppendInstruction(testInst("nop"), 0x1000, 1))
	assert.NoError(t, first.AppendInstruction(testInst("jmp 0x1008"), 0x1001, 3))

	second, err := mod.CreateTextAtom(0x1008, 0x1008)
	assert.NoError(t, err)
	assert.NoError(t, second.AppendInstruction(testInst("ret"), 0x1008, 1))

	fn := mod.CreateFunction("_Z3runv", 0x1000)
	entry, err := fn.CreateBlock(first)
	assert.NoError(t, err)
	exit, err := fn.CreateBlock(second)
	assert.NoError(t, err)
	entry.AddSuccessor(exit)

	mod.CreateFunction("printf", 0x2010)

	buf := &strings.Builder{}
	assert.NoError(t, New(mod, testResolver{}, buf).Write())

	expected := `; entrypoint $1000

printf = $2010

; run()
_Z3runv:
; block $1000-$1003 -> $1008
  00001000  nop
  00001001  jmp 0x1008
; block $1008-$1008 <- $1000
  00001008  ret
`
	assert.Equal(t, expected, buf.String())
}

func TestWriteFlatListing(t *testing.T) {
	mod := module.New()

	text, err := mod.CreateTextAtom(0x1000, 0x1000)
	assert.NoError(t, err)
	text.Name = ".text"
	assert.NoError(t, text.AppendInstruction(testInst("nop"), 0x1000, 1))
	assert.NoError(t, text.AppendInstruction(testInst("ret"), 0x1001, 1))

	data := make([]byte, 18)
	for i := range data {
		data[i] = byte(i)
	}
	atom, err := mod.CreateDataAtom(0x2000, 0x2011, data)
	assert.NoError(t, err)
	atom.Name = ".rodata"

	buf := &strings.Builder{}
	assert.NoError(t, New(mod, nil, buf).Write())

	expected := `
; code .text $1000-$1001
  00001000  nop
  00001001  ret

; data .rodata $2000-$2011
.byte $00, $01, $02, $03, $04, $05, $06, $07, $08, $09, $0a, $0b, $0c, $0d, $0e, $0f
.byte $10, $11
`
	assert.Equal(t, expected, buf.String())
}

func TestWriteRawNamePassthrough(t *testing.T) {
	mod := module.New()

	atom, err := mod.CreateTextAtom(0x1000, 0x1000)
	assert.NoError(t, err)
	assert.NoError(t, atom.AppendInstruction(testInst("ret"), 0x1000, 1))

	fn := mod.CreateFunction("main", 0x1000)
	_, err = fn.CreateBlock(atom)
	assert.NoError(t, err)

	buf := &strings.Builder{}
	assert.NoError(t, New(mod, nil, buf).Write())

	// no resolver, no display name comment and no entrypoint header
	expected := `
main:
; block $1000-$1000
  00001000  ret
`
	assert.Equal(t, expected, buf.String())
}
