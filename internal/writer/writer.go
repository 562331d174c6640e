// Package writer renders recovered modules as text listings.
package writer

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/retroenv/binlift/internal/module"
)

const dataBytesPerLine = 16

// nameResolver resolves symbol names into display names for the listing.
type nameResolver interface {
	// DisplayName returns a human readable form of a symbol name.
	DisplayName(name string) string
}

// Writer renders a module as a text listing. Modules with recovered
// functions are listed function by function, block by block, flat modules
// are listed atom by atom in address order.
type Writer struct {
	mod      *module.Module
	resolver nameResolver
	writer   io.Writer
}

// New creates a new writer for the given module. The resolver is optional,
// without it symbol names are printed as is.
func New(mod *module.Module, resolver nameResolver, writer io.Writer) *Writer {
	return &Writer{
		mod:      mod,
		resolver: resolver,
		writer:   writer,
	}
}

// Write renders the full module listing.
func (w *Writer) Write() error {
	if err := w.writeHeader(); err != nil {
		return err
	}

	if len(w.mod.Functions()) == 0 {
		return w.writeAtoms()
	}

	if err := w.writeExternals(); err != nil {
		return err
	}

	for _, fn := range w.mod.Functions() {
		if fn.External() {
			continue
		}
		if err := w.writeFunction(fn); err != nil {
			return err
		}
	}
	return nil
}

// writeHeader writes the entrypoint as comment to the output.
func (w *Writer) writeHeader() error {
	if w.mod.Entrypoint == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w.writer, "; entrypoint $%x\n", w.mod.Entrypoint); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// writeExternals writes an alias map of all external functions.
func (w *Writer) writeExternals() error {
	externals := map[string]uint64{}
	for _, fn := range w.mod.Functions() {
		if fn.External() {
			externals[fn.Name] = fn.Entry
		}
	}
	if len(externals) == 0 {
		return nil
	}

	if _, err := fmt.Fprintln(w.writer); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}

	// sort the externals by name before outputting to avoid random map order
	names := make([]string, 0, len(externals))
	for name := range externals {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w.writer, "%s = $%x\n", name, externals[name]); err != nil {
			return fmt.Errorf("writing external: %w", err)
		}
	}
	return nil
}

// writeFunction writes the function header and all basic blocks in address
// order. A demangled display name that differs from the symbol name is
// written as comment above the label.
func (w *Writer) writeFunction(fn *module.Function) error {
	display := fn.Name
	if w.resolver != nil {
		display = w.resolver.DisplayName(fn.Name)
	}

	if _, err := fmt.Fprintln(w.writer); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	if display != fn.Name {
		if _, err := fmt.Fprintf(w.writer, "; %s\n", display); err != nil {
			return fmt.Errorf("writing display name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w.writer, "%s:\n", fn.Name); err != nil {
		return fmt.Errorf("writing function label: %w", err)
	}

	blocks := slices.Clone(fn.Blocks())
	slices.SortFunc(blocks, func(a, b *module.BasicBlock) int {
		switch {
		case a.Begin() < b.Begin():
			return -1
		case a.Begin() > b.Begin():
			return 1
		}
		return 0
	})

	for _, block := range blocks {
		if err := w.writeBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// writeBlock writes the block range with its successor and predecessor
// addresses as comment, followed by one line per instruction.
func (w *Writer) writeBlock(block *module.BasicBlock) error {
	buf := &strings.Builder{}
	fmt.Fprintf(buf, "; block $%x-$%x", block.Begin(), block.End())
	if succs := block.SuccessorAddrs(); len(succs) > 0 {
		buf.WriteString(" ->")
		for _, succ := range succs {
			fmt.Fprintf(buf, " $%x", succ)
		}
	}
	if preds := block.PredecessorAddrs(); len(preds) > 0 {
		buf.WriteString(" <-")
		for _, pred := range preds {
			fmt.Fprintf(buf, " $%x", pred)
		}
	}
	if _, err := fmt.Fprintf(w.writer, "%s\n", buf.String()); err != nil {
		return fmt.Errorf("writing block header: %w", err)
	}

	for _, ins := range block.Instructions() {
		if _, err := fmt.Fprintf(w.writer, "  %08x  %s\n",
			ins.Address, ins.Instruction.Text(ins.Address)); err != nil {

			return fmt.Errorf("writing instruction: %w", err)
		}
	}
	return nil
}

// writeAtoms writes all atoms of a flat module in address order.
func (w *Writer) writeAtoms() error {
	for _, atom := range w.mod.Atoms() {
		if _, err := fmt.Fprintf(w.writer, "\n; %s $%x-$%x\n",
			atomTitle(atom), atom.Begin, atom.End); err != nil {

			return fmt.Errorf("writing atom header: %w", err)
		}

		if atom.Kind == module.TextAtom {
			for _, ins := range atom.Instructions() {
				if _, err := fmt.Fprintf(w.writer, "  %08x  %s\n",
					ins.Address, ins.Instruction.Text(ins.Address)); err != nil {

					return fmt.Errorf("writing instruction: %w", err)
				}
			}
			continue
		}

		if err := w.writeData(atom.Data()); err != nil {
			return err
		}
	}
	return nil
}

func atomTitle(atom *module.Atom) string {
	kind := "data"
	if atom.Kind == module.TextAtom {
		kind = "code"
	}
	if atom.Name == "" {
		return kind
	}
	return kind + " " + atom.Name
}

// writeData bundles writes of data bytes to print dataBytesPerLine bytes
// per line.
func (w *Writer) writeData(data []byte) error {
	remaining := len(data)
	for i := 0; remaining > 0; {
		toWrite := min(remaining, dataBytesPerLine)

		buf := &strings.Builder{}
		buf.WriteString(".byte ")
		for j := range toWrite {
			fmt.Fprintf(buf, "$%02x, ", data[i+j])
		}
		line := strings.TrimRight(buf.String(), ", ")

		if _, err := fmt.Fprintf(w.writer, "%s\n", line); err != nil {
			return fmt.Errorf("writing data line: %w", err)
		}

		i += toWrite
		remaining -= toWrite
	}
	return nil
}
