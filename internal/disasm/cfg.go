package disasm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrogolib/set"

	"github.com/retroenv/binlift/internal/module"
)

var errNoEntryBlock = errors.New("no basic block could be created at entry address")

// bbInfo tracks the discovery state of one basic block begin address.
type bbInfo struct {
	atom   *module.Atom
	block  *module.BasicBlock
	succs  []uint64
	failed bool
}

// buildCFG recovers all functions reachable from the function symbols of
// the binary. Newly found call targets are processed in rounds until no
// unseen targets remain.
func (dis *Disasm) buildCFG(ctx context.Context, mod *module.Module) error {
	targets := dis.FunctionStarts()
	processed := set.New[uint64]()

	for len(targets) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next []uint64
		for _, addr := range targets {
			if processed.Contains(addr) {
				continue
			}
			processed.Add(addr)

			newTargets, err := dis.createFunction(ctx, mod, addr)
			if err != nil {
				return err
			}
			next = append(next, newTargets...)
		}

		slices.Sort(next)
		targets = slices.Compact(next)
	}
	return nil
}

// createFunction returns the function at the given effective address,
// creating it if needed. Addresses that resolve to an external name become
// external functions without block discovery. Call targets found in the
// function body are returned.
func (dis *Disasm) createFunction(ctx context.Context, mod *module.Module,
	addr uint64) ([]uint64, error) {

	if dis.resolver != nil {
		if name := dis.resolver.ExternalNameAt(dis.obj.OriginalLoadAddr(addr)); name != "" {
			mod.CreateFunction(name, addr)
			return nil, nil
		}
	}

	if fn := mod.FunctionAt(addr); fn != nil {
		return nil, nil
	}

	if _, err := dis.index.RegionFor(addr); err != nil {
		dis.logger.Debug("Skipping call target without mapped region",
			log.Hex("address", addr))
		return nil, nil
	}

	name := fmt.Sprintf("fn_%x", addr)
	if dis.resolver != nil {
		name = dis.resolver.FunctionName(dis.obj.OriginalLoadAddr(addr))
	}
	fn := mod.CreateFunction(name, addr)

	dis.logger.Debug("Discovering function",
		log.String("name", name),
		log.Hex("entry", addr))
	return dis.discoverBlocks(ctx, mod, fn, addr)
}

// discoverBlocks finds all basic blocks of a function by following the
// control flow from its entry address. Every block begin address is
// processed once: an existing atom is reused or split at the address, or
// fresh instructions are disassembled. Calls with statically known targets
// are collected and returned, branches to import stubs are recorded as
// tail calls instead of successor edges.
func (dis *Disasm) discoverBlocks(ctx context.Context, mod *module.Module,
	fn *module.Function, entry uint64) ([]uint64, error) {

	var callTargets []uint64
	infos := map[uint64]*bbInfo{}
	worklist := []uint64{entry}
	enqueued := set.New[uint64]()
	enqueued.Add(entry)

	enqueue := func(addr uint64) {
		if !enqueued.Contains(addr) {
			enqueued.Add(addr)
			worklist = append(worklist, addr)
		}
	}

	for wi := 0; wi < len(worklist); wi++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		begin := worklist[wi]
		info := &bbInfo{}
		infos[begin] = info

		if atom := mod.FindAtomContaining(begin); atom != nil {
			if atom.Begin == begin {
				info.atom = atom
			} else {
				right, err := mod.SplitAtom(atom, begin)
				if err != nil {
					return nil, fmt.Errorf("splitting atom at $%x: %w", begin, err)
				}
				dis.stats.AtomsSplit++

				// an in-progress block covering the split point hands its
				// successors to the new block and falls through to it
				if claimant, ok := infos[atom.Begin]; ok && claimant.atom != nil {
					info.succs = claimant.succs
					claimant.succs = []uint64{begin}
				}
				info.atom = right
			}
		} else {
			calls, err := dis.disassembleBlock(mod, info, begin)
			if err != nil {
				return nil, err
			}
			callTargets = append(callTargets, calls...)
		}

		if info.atom == nil || info.failed {
			continue
		}
		insts := info.atom.Instructions()
		if len(insts) == 0 {
			continue
		}
		last := insts[len(insts)-1]
		end := info.atom.End

		region, err := dis.index.RegionFor(info.atom.Begin)
		if err != nil {
			return nil, fmt.Errorf("finding region of block at $%x: %w", info.atom.Begin, err)
		}

		// fall through to the next address unless the block ends the
		// control flow unconditionally
		if (dis.arch.IsConditionalBranch(last.Instruction) ||
			!dis.arch.IsTerminator(last.Instruction)) && region.Contains(end+1) {
			info.succs = append(info.succs, end+1)
			enqueue(end + 1)
		}

		if dis.arch.IsBranch(last.Instruction) {
			if target, ok := dis.arch.BranchTarget(last.Instruction, last.Address, last.Size); ok {
				extName := ""
				if dis.resolver != nil {
					extName = dis.resolver.ExternalNameAt(dis.obj.OriginalLoadAddr(target))
				}
				if extName != "" {
					// a jump into an import stub leaves the function
					dis.stats.TailCalls++
					callTargets = append(callTargets, target)
				} else {
					info.succs = append(info.succs, target)
					enqueue(target)
				}
			}
		}
	}

	// materialize a block for every visited address that has an atom,
	// reusing blocks the function already tracks
	for _, begin := range worklist {
		info := infos[begin]
		if info.atom == nil {
			continue
		}
		if block := fn.BlockAt(begin); block != nil {
			info.block = block
			continue
		}
		block, err := fn.CreateBlock(info.atom)
		if err != nil {
			return nil, fmt.Errorf("creating block at $%x: %w", begin, err)
		}
		info.block = block
	}

	// wire up the edges, duplicates between inherited and recomputed
	// successor sets collapse here
	for _, begin := range worklist {
		info := infos[begin]
		if info.block == nil {
			continue
		}
		slices.Sort(info.succs)
		for _, succAddr := range slices.Compact(info.succs) {
			succ, ok := infos[succAddr]
			if !ok || succ.block == nil {
				continue
			}
			info.block.AddSuccessor(succ.block)
		}
	}

	if info := infos[entry]; info.block == nil {
		return nil, fmt.Errorf("%w: $%x", errNoEntryBlock, entry)
	}
	return callTargets, nil
}

// disassembleBlock decodes instructions starting at the given address into
// a new text atom, stopping at a terminator, a decode failure, the next
// known atom or the region end. A decode failure ends the block without
// consuming the failing bytes. Statically resolvable call targets are
// returned.
func (dis *Disasm) disassembleBlock(mod *module.Module, info *bbInfo, begin uint64) ([]uint64, error) {
	region, err := dis.index.RegionFor(begin)
	if err != nil {
		return nil, fmt.Errorf("disassembling block: %w", err)
	}

	// stop before the next atom to fall through to it
	end := region.End()
	if next := mod.FindFirstAtomAfter(begin); next != nil && next.Begin < end {
		end = next.Begin
	}

	var callTargets []uint64
	for addr := begin; addr < end; {
		ins, size, err := dis.decodeAt(region, addr, end-addr)
		if err != nil {
			dis.logger.Debug("Disassembly stopped at undecodable bytes",
				log.Hex("address", addr))
			info.failed = true
			break
		}

		if info.atom == nil {
			atom, err := mod.CreateTextAtom(addr, addr)
			if err != nil {
				return nil, fmt.Errorf("creating text atom at $%x: %w", addr, err)
			}
			dis.stats.AtomsCreated++
			info.atom = atom
		}
		if err := info.atom.AppendInstruction(ins, addr, size); err != nil {
			return nil, fmt.Errorf("appending instruction at $%x: %w", addr, err)
		}

		if target, ok := dis.arch.BranchTarget(ins, addr, size); ok && dis.arch.IsCall(ins) {
			callTargets = append(callTargets, target)
		}

		if dis.arch.IsTerminator(ins) {
			break
		}
		addr += size
	}
	return callTargets, nil
}
