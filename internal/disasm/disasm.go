// Package disasm implements a disassembly driven control flow recovery
// engine that lifts machine code into a module of atoms, functions and
// basic blocks.
package disasm

import (
	"context"
	"fmt"
	"slices"

	"github.com/retroenv/retrogolib/log"

	"github.com/retroenv/binlift/internal/arch"
	"github.com/retroenv/binlift/internal/memory"
	"github.com/retroenv/binlift/internal/module"
	"github.com/retroenv/binlift/internal/objfile"
	"github.com/retroenv/binlift/internal/options"
)

// maxInstructionWindow bounds the byte window handed to the decoder, no
// supported architecture encodes longer instructions.
const maxInstructionWindow = 16

// binary defines the minimal object file interface needed by the engine.
type binary interface {
	// EffectiveLoadAddr maps an address as recorded in the file to the
	// address space the binary is loaded at.
	EffectiveLoadAddr(addr uint64) uint64
	// Entrypoint returns the effective entrypoint address, 0 if unknown.
	Entrypoint() uint64
	// OriginalLoadAddr maps an effective load address back to the address
	// space recorded in the file.
	OriginalLoadAddr(addr uint64) uint64
	// Sections returns all sections of the binary.
	Sections() []objfile.Section
}

// symbolResolver defines the minimal symbol interface needed by the
// engine. All addresses are in the original address space of the binary.
type symbolResolver interface {
	// ExternalNameAt returns the name of the external function that the
	// import stub at the given address forwards to, or an empty string.
	ExternalNameAt(addr uint64) string
	// FunctionAddrs returns the addresses of all function symbols in
	// ascending order.
	FunctionAddrs() []uint64
	// FunctionName returns a name for the function at the given address.
	FunctionName(addr uint64) string
}

// Stats collects counters of a disassembly run.
type Stats struct {
	Decoded      int // instructions decoded by the architecture
	CacheHits    int // instructions served from the decode cache
	AtomsCreated int
	AtomsSplit   int
	TailCalls    int // branches to external functions
	Blocks       int
	Functions    int
}

// Disasm recovers code atoms, functions and basic blocks from a binary by
// following the execution flow of its machine code.
type Disasm struct {
	logger   *log.Logger
	arch     arch.Architecture
	obj      binary
	resolver symbolResolver
	options  options.Disassembler

	index    *memory.Index
	fallback *memory.Region
	cache    *instructionCache
	stats    Stats
}

// New creates a new disassembler for the given binary. The resolver can be
// nil, no function seeds or external function names are available then.
func New(logger *log.Logger, ar arch.Architecture, bin binary,
	resolver symbolResolver, opts options.Disassembler) *Disasm {

	dis := &Disasm{
		logger:   logger,
		arch:     ar,
		obj:      bin,
		resolver: resolver,
		options:  opts,
	}
	if opts.CacheEnabled {
		dis.cache = newInstructionCache(opts.CacheCapacity, opts.CachePendingLimit)
	}
	return dis
}

// SetFallbackRegion sets the region that serves addresses no text section
// covers, for example when disassembling raw memory dumps.
func (dis *Disasm) SetFallbackRegion(region *memory.Region) {
	dis.fallback = region
	if dis.index != nil {
		dis.index = memory.NewIndex(dis.index.Regions(), region)
	}
}

// Stats returns the counters collected since the disassembler was created.
func (dis *Disasm) Stats() Stats {
	return dis.stats
}

// BuildModule disassembles the binary into a module. With CFG recovery
// enabled, functions and basic blocks are discovered by following the
// execution flow from all function symbols. Without it every section is
// rendered as flat atoms.
func (dis *Disasm) BuildModule(ctx context.Context, withCFG bool) (*module.Module, error) {
	dis.setupRegions()

	mod := module.New()
	mod.Entrypoint = dis.obj.Entrypoint()

	var err error
	if withCFG {
		err = dis.buildCFG(ctx, mod)
	} else {
		err = dis.buildSectionAtoms(ctx, mod)
	}
	if err != nil {
		return nil, err
	}

	dis.stats.Functions = len(mod.Functions())
	dis.stats.Blocks = 0
	for _, fn := range mod.Functions() {
		dis.stats.Blocks += len(fn.Blocks())
	}
	return mod, nil
}

// FunctionStarts returns the effective addresses of all function symbols
// that live in a mapped region, in ascending order without duplicates.
// These addresses seed the control flow recovery.
func (dis *Disasm) FunctionStarts() []uint64 {
	dis.setupRegions()
	if dis.resolver == nil {
		return nil
	}

	var starts []uint64
	for _, addr := range dis.resolver.FunctionAddrs() {
		effective := dis.obj.EffectiveLoadAddr(addr)
		if _, err := dis.index.RegionFor(effective); err != nil {
			continue
		}
		starts = append(starts, effective)
	}
	slices.Sort(starts)
	return slices.Compact(starts)
}

// setupRegions indexes the text sections for address lookups. Sections
// without a known address or without content are not mapped. The index is
// only built once.
func (dis *Disasm) setupRegions() {
	if dis.index != nil {
		return
	}

	var regions []*memory.Region
	for _, sec := range dis.obj.Sections() {
		if sec.Kind != objfile.SectionText || sec.Addr == objfile.UnknownAddress ||
			len(sec.Content) == 0 {
			continue
		}

		base := dis.obj.EffectiveLoadAddr(sec.Addr)
		regions = append(regions, memory.NewRegion(sec.Name, base, sec.Content))
		dis.logger.Debug("Mapped text section",
			log.String("section", sec.Name),
			log.Hex("base", base),
			log.Int("size", len(sec.Content)))
	}
	dis.index = memory.NewIndex(regions, dis.fallback)
}

// buildSectionAtoms renders every section as flat atoms without following
// the control flow. Text sections are decoded linearly, runs of decodable
// instructions become text atoms and undecodable byte runs become data
// atoms. Other sections are kept as one named data atom each.
func (dis *Disasm) buildSectionAtoms(ctx context.Context, mod *module.Module) error {
	for _, sec := range dis.obj.Sections() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sec.Addr == objfile.UnknownAddress || sec.Size == 0 {
			continue
		}
		if uint64(len(sec.Content)) != sec.Size {
			dis.logger.Warn("Skipping section with incomplete content",
				log.String("section", sec.Name),
				log.Int("size", int(sec.Size)),
				log.Int("content", len(sec.Content)))
			continue
		}

		begin := dis.obj.EffectiveLoadAddr(sec.Addr)
		if sec.Kind == objfile.SectionText {
			if err := dis.buildTextAtoms(mod, sec, begin); err != nil {
				return err
			}
			continue
		}

		atom, err := mod.CreateDataAtom(begin, begin+sec.Size-1, sec.Content)
		if err != nil {
			return fmt.Errorf("creating data atom for section %s: %w", sec.Name, err)
		}
		atom.Name = sec.Name
		dis.stats.AtomsCreated++
	}
	return nil
}

// buildTextAtoms linearly decodes a text section into atoms. Undecodable
// bytes are skipped by the resynchronization width the architecture
// reports and collected into data atoms.
func (dis *Disasm) buildTextAtoms(mod *module.Module, sec objfile.Section, begin uint64) error {
	var text *module.Atom
	var invalid []byte
	var invalidStart uint64

	flushInvalid := func() error {
		if invalid == nil {
			return nil
		}
		atom, err := mod.CreateDataAtom(invalidStart, invalidStart+uint64(len(invalid))-1, invalid)
		if err != nil {
			return fmt.Errorf("creating data atom in section %s: %w", sec.Name, err)
		}
		atom.Name = sec.Name
		dis.stats.AtomsCreated++
		invalid = nil
		return nil
	}

	for index := uint64(0); index < sec.Size; {
		addr := begin + index
		ins, size, err := dis.arch.Decode(sec.Content[index:], addr)
		if err != nil {
			if size == 0 {
				size = 1
			}
			if index+size > sec.Size {
				size = sec.Size - index
			}
			if invalid == nil {
				text = nil
				invalidStart = addr
			}
			invalid = append(invalid, sec.Content[index:index+size]...)
			index += size
			continue
		}

		if err := flushInvalid(); err != nil {
			return err
		}
		dis.stats.Decoded++

		if text == nil {
			text, err = mod.CreateTextAtom(addr, addr)
			if err != nil {
				return fmt.Errorf("creating text atom in section %s: %w", sec.Name, err)
			}
			text.Name = sec.Name
			dis.stats.AtomsCreated++
		}
		if err := text.AppendInstruction(ins, addr, size); err != nil {
			return fmt.Errorf("appending instruction in section %s: %w", sec.Name, err)
		}
		index += size
	}
	return flushInvalid()
}

// decodeAt decodes the instruction at the given address, serving it from
// the cache when possible. The limit bounds how far the instruction may
// reach past the address.
func (dis *Disasm) decodeAt(region *memory.Region, addr, limit uint64) (arch.Instruction, uint64, error) {
	if dis.cache != nil {
		if ins, size, ok := dis.cache.lookup(region, addr, limit); ok {
			dis.stats.CacheHits++
			return ins, size, nil
		}
	}

	window := uint64(maxInstructionWindow)
	if window > limit {
		window = limit
	}
	ins, size, err := dis.arch.Decode(region.ByteRange(addr, window), addr)
	if err != nil {
		return nil, 0, err
	}

	dis.stats.Decoded++
	if dis.cache != nil {
		dis.cache.record(ins, region.ByteRange(addr, size))
	}
	return ins, size, nil
}
