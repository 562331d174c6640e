package module

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var errAtomOverlap = errors.New("atom overlaps an existing atom")

// Module owns all atoms and functions recovered from one binary image.
// Atoms partition the address ranges touched by analysis and are kept
// sorted by begin address.
type Module struct {
	Entrypoint uint64

	atoms     []*Atom
	functions []*Function
	funcIndex map[uint64]*Function
}

// New creates a new empty module.
func New() *Module {
	return &Module{
		funcIndex: map[uint64]*Function{},
	}
}

// Atoms returns all atoms in begin address order.
func (m *Module) Atoms() []*Atom {
	return m.atoms
}

// Functions returns all functions in creation order.
func (m *Module) Functions() []*Function {
	return m.functions
}

// FunctionAt returns the function with the given entry address, nil if none
// exists.
func (m *Module) FunctionAt(entry uint64) *Function {
	return m.funcIndex[entry]
}

// CreateFunction creates a new function with the given name and entry
// address and registers it with the module. An existing function at the
// same entry address is returned instead of creating a duplicate.
func (m *Module) CreateFunction(name string, entry uint64) *Function {
	if fn := m.funcIndex[entry]; fn != nil {
		return fn
	}

	fn := &Function{
		Name:  name,
		Entry: entry,
		index: map[uint64]*BasicBlock{},
	}
	m.functions = append(m.functions, fn)
	m.funcIndex[entry] = fn
	return fn
}

// CreateTextAtom creates a new empty text atom covering [begin, end].
// The range grows as instructions are appended.
func (m *Module) CreateTextAtom(begin, end uint64) (*Atom, error) {
	atom := &Atom{
		Kind:  TextAtom,
		Begin: begin,
		End:   end,
	}
	if err := m.insertAtom(atom); err != nil {
		return nil, err
	}
	return atom, nil
}

// CreateDataAtom creates a new data atom covering [begin, end] backed by the
// given raw bytes.
func (m *Module) CreateDataAtom(begin, end uint64, data []byte) (*Atom, error) {
	if end < begin || uint64(len(data)) != end-begin+1 {
		return nil, fmt.Errorf("data atom range [$%x,$%x] does not match %d content bytes",
			begin, end, len(data))
	}

	atom := &Atom{
		Kind:  DataAtom,
		Begin: begin,
		End:   end,
		data:  data,
	}
	if err := m.insertAtom(atom); err != nil {
		return nil, err
	}
	return atom, nil
}

// FindAtomContaining returns the atom whose range contains the given
// address, nil if the address is not covered by any atom.
func (m *Module) FindAtomContaining(addr uint64) *Atom {
	i := sort.Search(len(m.atoms), func(i int) bool {
		return m.atoms[i].Begin > addr
	})
	if i == 0 {
		return nil
	}
	if atom := m.atoms[i-1]; atom.End >= addr {
		return atom
	}
	return nil
}

// FindFirstAtomAfter returns the first atom that begins strictly after the
// given address, nil if none exists.
func (m *Module) FindFirstAtomAfter(addr uint64) *Atom {
	i := sort.Search(len(m.atoms), func(i int) bool {
		return m.atoms[i].Begin > addr
	})
	if i == len(m.atoms) {
		return nil
	}
	return m.atoms[i]
}

// SplitAtom splits a text atom at the given address, which has to fall on an
// instruction boundary inside the atom. The original atom keeps
// [Begin, addr-1], the returned new atom covers [addr, End] and takes over
// the instructions from the split point on.
func (m *Module) SplitAtom(atom *Atom, addr uint64) (*Atom, error) {
	if atom.Kind != TextAtom {
		return nil, fmt.Errorf("%w: split at $%x", errNotTextAtom, addr)
	}
	if addr <= atom.Begin || addr > atom.End {
		return nil, fmt.Errorf("%w: $%x not inside ($%x,$%x]",
			errSplitOutOfRange, addr, atom.Begin, atom.End)
	}

	idx, ok := atom.instructionIndexAt(addr)
	if !ok {
		return nil, fmt.Errorf("%w: $%x", errSplitUnaligned, addr)
	}

	right := &Atom{
		Kind:  TextAtom,
		Name:  atom.Name,
		Begin: addr,
		End:   atom.End,
		insts: slices.Clone(atom.insts[idx:]),
	}
	atom.insts = atom.insts[:idx]
	atom.End = addr - 1

	i := sort.Search(len(m.atoms), func(i int) bool {
		return m.atoms[i].Begin >= atom.Begin
	})
	m.atoms = slices.Insert(m.atoms, i+1, right)
	return right, nil
}

// insertAtom inserts an atom into the sorted atom list, rejecting ranges
// that overlap an existing atom.
func (m *Module) insertAtom(atom *Atom) error {
	i := sort.Search(len(m.atoms), func(i int) bool {
		return m.atoms[i].Begin > atom.Begin
	})

	if i > 0 && m.atoms[i-1].End >= atom.Begin {
		return fmt.Errorf("%w: [$%x,$%x] and [$%x,$%x]", errAtomOverlap,
			atom.Begin, atom.End, m.atoms[i-1].Begin, m.atoms[i-1].End)
	}
	if i < len(m.atoms) && m.atoms[i].Begin <= atom.End {
		return fmt.Errorf("%w: [$%x,$%x] and [$%x,$%x]", errAtomOverlap,
			atom.Begin, atom.End, m.atoms[i].Begin, m.atoms[i].End)
	}

	m.atoms = slices.Insert(m.atoms, i, atom)
	return nil
}
