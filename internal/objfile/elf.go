package objfile

import (
	"debug/elf"
	"errors"
	"fmt"
)

type elfFile struct {
	file *elf.File

	machine  string
	entry    uint64
	sections []Section
	symbols  []Symbol
	stubs    []Stub
}

func openELF(path string) (*elfFile, error) {
	file, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parsing ELF file: %w", err)
	}

	ef := &elfFile{
		file: file,
	}

	switch file.Machine {
	case elf.EM_X86_64:
		ef.machine = "x86_64"
	case elf.EM_386:
		ef.machine = "x86"
	case elf.EM_AARCH64:
		ef.machine = "arm64"
	default:
		_ = file.Close()
		return nil, fmt.Errorf("unsupported ELF machine type %s", file.Machine)
	}

	ef.readSections()
	ef.readSymbols()
	ef.readImportStubs()

	ef.entry = file.Entry
	if ef.entry == 0 {
		ef.entry = entrySymbolScan(ef.symbols)
	}

	return ef, nil
}

func (ef *elfFile) readSections() {
	for _, sec := range ef.file.Sections {
		if sec.Type == elf.SHT_NULL {
			continue
		}

		out := Section{
			Name: sec.Name,
			Addr: sec.Addr,
			Size: sec.Size,
		}
		if sec.Flags&elf.SHF_ALLOC == 0 {
			// not part of the loaded image
			out.Addr = UnknownAddress
		}
		if sec.Flags&elf.SHF_EXECINSTR != 0 {
			out.Kind = SectionText
		}
		if sec.Type != elf.SHT_NOBITS {
			if data, err := sec.Data(); err == nil {
				out.Content = data
			}
		}

		ef.sections = append(ef.sections, out)
	}
}

func (ef *elfFile) readSymbols() {
	syms, err := ef.file.Symbols()
	if err != nil {
		// static symbol table is optional
		if !errors.Is(err, elf.ErrNoSymbols) {
			return
		}
	}

	for _, sym := range syms {
		out := Symbol{
			Name: sym.Name,
			Addr: sym.Value,
		}
		if elf.ST_TYPE(sym.Info) == elf.STT_FUNC {
			out.Kind = SymbolFunction
		}
		if sym.Section == elf.SHN_UNDEF {
			out.Addr = UnknownAddress
		}
		ef.symbols = append(ef.symbols, out)
	}
}

// readImportStubs maps PLT slots to the external function names they forward
// to, using the .rela.plt relocations against the dynamic symbol table. PLT
// slot addresses follow the standard layout of one header entry followed by
// one slot per relocation.
func (ef *elfFile) readImportStubs() {
	rela := ef.file.Section(".rela.plt")
	plt := ef.file.Section(".plt")
	if rela == nil || plt == nil {
		return
	}

	data, err := rela.Data()
	if err != nil {
		return
	}
	dynsyms, err := ef.file.DynamicSymbols()
	if err != nil {
		return
	}

	// the PLT header precedes the first slot, its size differs per machine
	const relaEntrySize = 24
	const slotSize = 16
	firstSlot := plt.Addr + slotSize
	if ef.machine == "arm64" {
		firstSlot = plt.Addr + 32
	}

	for i := 0; i+relaEntrySize <= len(data); i += relaEntrySize {
		info := ef.file.ByteOrder.Uint64(data[i+8:])
		symIndex := uint32(info >> 32)
		// relocation symbol indexes are 1-based
		if symIndex == 0 || int(symIndex) > len(dynsyms) {
			continue
		}

		ef.stubs = append(ef.stubs, Stub{
			Addr: firstSlot + uint64(i/relaEntrySize)*slotSize,
			Name: dynsyms[symIndex-1].Name,
		})
	}
}

// Close closes the underlying file.
func (ef *elfFile) Close() error {
	return ef.file.Close()
}

// EffectiveLoadAddr translates an address of the container into the address
// space used during analysis. ELF images are analyzed at their linked
// addresses, the translation is the identity.
func (ef *elfFile) EffectiveLoadAddr(addr uint64) uint64 {
	return addr
}

// OriginalLoadAddr translates an effective address back into the address
// space of the container.
func (ef *elfFile) OriginalLoadAddr(addr uint64) uint64 {
	return addr
}

// Entrypoint returns the effective address of the program entrypoint.
func (ef *elfFile) Entrypoint() uint64 {
	return ef.entry
}

// Format returns the name of the container format.
func (ef *elfFile) Format() string {
	return "elf"
}

// ImportStubs returns the PLT slots of the image with the external function
// names they forward to.
func (ef *elfFile) ImportStubs() []Stub {
	return ef.stubs
}

// Machine returns the architecture name of the machine code.
func (ef *elfFile) Machine() string {
	return ef.machine
}

// Sections returns all sections of the image.
func (ef *elfFile) Sections() []Section {
	return ef.sections
}

// StaticInitializers returns the addresses of the .init_array table.
func (ef *elfFile) StaticInitializers() ([]uint64, error) {
	return ef.readAddressTable(".init_array")
}

// StaticFinalizers returns the addresses of the .fini_array table.
func (ef *elfFile) StaticFinalizers() ([]uint64, error) {
	return ef.readAddressTable(".fini_array")
}

// Symbols returns all symbol table entries of the image.
func (ef *elfFile) Symbols() []Symbol {
	return ef.symbols
}

func (ef *elfFile) readAddressTable(name string) ([]uint64, error) {
	sec := ef.file.Section(name)
	if sec == nil {
		return nil, nil
	}
	if ef.file.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: %s", errNot64Bit, name)
	}

	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	addrs := make([]uint64, 0, len(data)/8)
	for i := 0; i+8 <= len(data); i += 8 {
		addrs = append(addrs, ef.file.ByteOrder.Uint64(data[i:]))
	}
	return addrs, nil
}
