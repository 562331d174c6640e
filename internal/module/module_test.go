package module

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

type testInstruction struct {
	name string
}

func (t testInstruction) Name() string {
	return t.name
}

func (t testInstruction) Text(_ uint64) string {
	return t.name
}

func TestModuleAtomPartition(t *testing.T) {
	m := New()

	_, err := m.CreateDataAtom(0x2000, 0x2003, []byte{1, 2, 3, 4})
	assert.NoError(t, err)
	_, err = m.CreateTextAtom(0x1000, 0x1000)
	assert.NoError(t, err)
	_, err = m.CreateDataAtom(0x3000, 0x3000, []byte{5})
	assert.NoError(t, err)

	// overlapping ranges are rejected on both sides
	_, err = m.CreateDataAtom(0x2003, 0x2004, []byte{1, 2})
	assert.Error(t, err)
	_, err = m.CreateDataAtom(0x1ffe, 0x2000, []byte{1, 2, 3})
	assert.Error(t, err)

	atoms := m.Atoms()
	assert.Len(t, atoms, 3)
	for i := 1; i < len(atoms); i++ {
		assert.True(t, atoms[i-1].End < atoms[i].Begin)
	}

	assert.Equal(t, uint64(0x2000), m.FindAtomContaining(0x2002).Begin)
	assert.Nil(t, m.FindAtomContaining(0x2004))
	assert.Equal(t, uint64(0x2000), m.FindFirstAtomAfter(0x1000).Begin)
	assert.Equal(t, uint64(0x3000), m.FindFirstAtomAfter(0x2000).Begin)
	assert.Nil(t, m.FindFirstAtomAfter(0x3000))
}

func TestAtomAppendInstruction(t *testing.T) {
	m := New()
	atom, err := m.CreateTextAtom(0x100, 0x100)
	assert.NoError(t, err)

	ins := testInstruction{name: "nop"}
	assert.NoError(t, atom.AppendInstruction(ins, 0x100, 2))
	assert.Equal(t, uint64(0x101), atom.End)

	// instructions have to be contiguous
	assert.Error(t, atom.AppendInstruction(ins, 0x104, 1))
	assert.NoError(t, atom.AppendInstruction(ins, 0x102, 3))
	assert.Equal(t, uint64(0x104), atom.End)
	assert.Len(t, atom.Instructions(), 2)

	data, err := m.CreateDataAtom(0x200, 0x200, []byte{0})
	assert.NoError(t, err)
	assert.Error(t, data.AppendInstruction(ins, 0x200, 1))
}

func TestSplitAtom(t *testing.T) {
	m := New()
	atom, err := m.CreateTextAtom(0x100, 0x100)
	assert.NoError(t, err)

	assert.NoError(t, atom.AppendInstruction(testInstruction{name: "a"}, 0x100, 2))
	assert.NoError(t, atom.AppendInstruction(testInstruction{name: "b"}, 0x102, 3))
	assert.NoError(t, atom.AppendInstruction(testInstruction{name: "c"}, 0x105, 1))

	right, err := m.SplitAtom(atom, 0x105)
	assert.NoError(t, err)

	assert.Equal(t, uint64(0x100), atom.Begin)
	assert.Equal(t, uint64(0x104), atom.End)
	assert.Equal(t, uint64(0x105), right.Begin)
	assert.Equal(t, uint64(0x105), right.End)

	// instruction sequences partition the original
	assert.Len(t, atom.Instructions(), 2)
	assert.Len(t, right.Instructions(), 1)
	assert.Equal(t, "b", atom.Instructions()[1].Instruction.Name())
	assert.Equal(t, "c", right.Instructions()[0].Instruction.Name())

	atoms := m.Atoms()
	assert.Len(t, atoms, 2)
	assert.Equal(t, atom, atoms[0])
	assert.Equal(t, right, atoms[1])
}

func TestSplitAtomInvalid(t *testing.T) {
	m := New()
	atom, err := m.CreateTextAtom(0x100, 0x100)
	assert.NoError(t, err)
	assert.NoError(t, atom.AppendInstruction(testInstruction{name: "a"}, 0x100, 2))
	assert.NoError(t, atom.AppendInstruction(testInstruction{name: "b"}, 0x102, 2))

	_, err = m.SplitAtom(atom, 0x101) // mid-instruction
	assert.Error(t, err)
	_, err = m.SplitAtom(atom, 0x100) // split at begin
	assert.Error(t, err)
	_, err = m.SplitAtom(atom, 0x200) // outside of range
	assert.Error(t, err)

	data, err := m.CreateDataAtom(0x300, 0x301, []byte{1, 2})
	assert.NoError(t, err)
	_, err = m.SplitAtom(data, 0x301)
	assert.Error(t, err)
}

func TestFunctionBlocks(t *testing.T) {
	m := New()
	fn := m.CreateFunction("", 0x100)
	assert.Equal(t, fn, m.CreateFunction("", 0x100))
	assert.Equal(t, fn, m.FunctionAt(0x100))

	a1, err := m.CreateTextAtom(0x100, 0x100)
	assert.NoError(t, err)
	assert.NoError(t, a1.AppendInstruction(testInstruction{name: "a"}, 0x100, 4))
	a2, err := m.CreateTextAtom(0x104, 0x104)
	assert.NoError(t, err)
	assert.NoError(t, a2.AppendInstruction(testInstruction{name: "b"}, 0x104, 2))

	b1, err := fn.CreateBlock(a1)
	assert.NoError(t, err)
	b2, err := fn.CreateBlock(a2)
	assert.NoError(t, err)
	_, err = fn.CreateBlock(a1)
	assert.Error(t, err)

	b1.AddSuccessor(b2)
	b1.AddSuccessor(b2)

	assert.Equal(t, []uint64{0x104}, b1.SuccessorAddrs())
	assert.Equal(t, []uint64{0x100}, b2.PredecessorAddrs())
	assert.Len(t, b1.Successors(), 1)
	assert.Equal(t, b2, b1.Successors()[0])
	assert.Equal(t, b1, b2.Predecessors()[0])

	assert.Equal(t, b1, fn.BlockAt(0x100))
	assert.Nil(t, fn.BlockAt(0x105))
	assert.False(t, fn.External())

	ext := m.CreateFunction("printf", 0x9000)
	assert.True(t, ext.External())
}
