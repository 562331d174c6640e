package module

import (
	"fmt"
	"slices"
)

// Function is a recovered function, an entry address owning the basic blocks
// discovered from it. External functions consist of a name bound to an
// address outside of the analyzed image and own no blocks. A function with
// an empty name is address anonymous.
type Function struct {
	Name  string
	Entry uint64

	blocks []*BasicBlock
	index  map[uint64]*BasicBlock
}

// Blocks returns the basic blocks of the function in creation order.
func (f *Function) Blocks() []*BasicBlock {
	return f.blocks
}

// BlockAt returns the basic block starting at the given address, nil if the
// function has no block there.
func (f *Function) BlockAt(addr uint64) *BasicBlock {
	return f.index[addr]
}

// External returns whether the function is an external function without
// blocks.
func (f *Function) External() bool {
	return len(f.blocks) == 0 && f.Name != ""
}

// CreateBlock creates a new basic block backed by the given text atom and
// registers it with the function.
func (f *Function) CreateBlock(atom *Atom) (*BasicBlock, error) {
	if atom.Kind != TextAtom {
		return nil, fmt.Errorf("%w: block at $%x", errNotTextAtom, atom.Begin)
	}
	if existing := f.index[atom.Begin]; existing != nil {
		return nil, fmt.Errorf("function already has a block at $%x", atom.Begin)
	}

	block := &BasicBlock{
		fn:   f,
		atom: atom,
	}
	f.blocks = append(f.blocks, block)
	f.index[atom.Begin] = block
	return block, nil
}

// BasicBlock is a straight run of instructions backed by exactly one text
// atom. Successor and predecessor edges are stored as block start addresses
// and resolved on demand through the owning function, blocks never own each
// other.
type BasicBlock struct {
	fn   *Function
	atom *Atom

	succs []uint64
	preds []uint64
}

// Atom returns the text atom backing the block.
func (b *BasicBlock) Atom() *Atom {
	return b.atom
}

// Begin returns the address of the first instruction of the block.
func (b *BasicBlock) Begin() uint64 {
	return b.atom.Begin
}

// End returns the address of the last byte of the block.
func (b *BasicBlock) End() uint64 {
	return b.atom.End
}

// Instructions returns the decoded instructions of the block.
func (b *BasicBlock) Instructions() []DecodedInstruction {
	return b.atom.Instructions()
}

// AddSuccessor wires an edge from the block to the given successor block,
// updating the predecessor set of the successor. Adding an existing edge
// again is a no-op.
func (b *BasicBlock) AddSuccessor(succ *BasicBlock) {
	if !slices.Contains(b.succs, succ.Begin()) {
		b.succs = append(b.succs, succ.Begin())
	}
	if !slices.Contains(succ.preds, b.Begin()) {
		succ.preds = append(succ.preds, b.Begin())
	}
}

// SuccessorAddrs returns the start addresses of all successor blocks.
func (b *BasicBlock) SuccessorAddrs() []uint64 {
	return b.succs
}

// PredecessorAddrs returns the start addresses of all predecessor blocks.
func (b *BasicBlock) PredecessorAddrs() []uint64 {
	return b.preds
}

// Successors resolves the successor blocks through the owning function.
func (b *BasicBlock) Successors() []*BasicBlock {
	return b.fn.resolveBlocks(b.succs)
}

// Predecessors resolves the predecessor blocks through the owning function.
func (b *BasicBlock) Predecessors() []*BasicBlock {
	return b.fn.resolveBlocks(b.preds)
}

func (f *Function) resolveBlocks(addrs []uint64) []*BasicBlock {
	blocks := make([]*BasicBlock, 0, len(addrs))
	for _, addr := range addrs {
		if block := f.index[addr]; block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
