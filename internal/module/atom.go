// Package module contains the program model recovered from a binary image,
// atoms, functions and basic blocks.
package module

import (
	"errors"
	"fmt"
	"sort"

	"github.com/retroenv/binlift/internal/arch"
)

var (
	errNotTextAtom     = errors.New("atom is not a text atom")
	errNotContiguous   = errors.New("instruction does not continue the atom")
	errSplitOutOfRange = errors.New("split address outside of atom range")
	errSplitUnaligned  = errors.New("split address not on an instruction boundary")
)

// AtomKind distinguishes the two atom variants.
type AtomKind int

const (
	// TextAtom marks an atom backed by decoded instructions.
	TextAtom AtomKind = iota
	// DataAtom marks an atom backed by raw bytes.
	DataAtom
)

// DecodedInstruction is a decoded instruction pinned to the address it was
// disassembled at.
type DecodedInstruction struct {
	Instruction arch.Instruction
	Address     uint64
	Size        uint64
}

// Atom is a maximal contiguous run of either decoded instructions or raw
// bytes. The address range [Begin, End] is inclusive, atoms of a module
// never overlap and are only ever split, never destroyed.
type Atom struct {
	Kind  AtomKind
	Name  string
	Begin uint64
	End   uint64

	insts []DecodedInstruction
	data  []byte
}

// Instructions returns the decoded instructions of a text atom in address
// order.
func (a *Atom) Instructions() []DecodedInstruction {
	return a.insts
}

// Data returns the raw bytes of a data atom.
func (a *Atom) Data() []byte {
	return a.data
}

// AppendInstruction appends a decoded instruction to a text atom and grows
// its address range. The instruction has to directly follow the last one,
// the first instruction has to start at the atom begin address.
func (a *Atom) AppendInstruction(ins arch.Instruction, addr, size uint64) error {
	if a.Kind != TextAtom {
		return errNotTextAtom
	}

	if len(a.insts) == 0 {
		if addr != a.Begin {
			return fmt.Errorf("%w: $%x does not start atom at $%x", errNotContiguous, addr, a.Begin)
		}
	} else {
		last := a.insts[len(a.insts)-1]
		if addr != last.Address+last.Size {
			return fmt.Errorf("%w: $%x after instruction at $%x", errNotContiguous, addr, last.Address)
		}
	}

	a.insts = append(a.insts, DecodedInstruction{
		Instruction: ins,
		Address:     addr,
		Size:        size,
	})
	a.End = addr + size - 1
	return nil
}

// instructionIndexAt returns the index of the instruction beginning exactly
// at the given address.
func (a *Atom) instructionIndexAt(addr uint64) (int, bool) {
	i := sort.Search(len(a.insts), func(i int) bool {
		return a.insts[i].Address >= addr
	})
	if i == len(a.insts) || a.insts[i].Address != addr {
		return 0, false
	}
	return i, true
}
