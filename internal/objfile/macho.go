package objfile

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

const (
	vmProtExecute        = 0x4
	sectionTypeMask      = 0xff
	sectionSymbolStubs   = 0x8
	attrPureInstructions = 0x80000000
	attrSomeInstructions = 0x00000400

	// indirect symbol table entries that do not reference a symbol
	indirectSymbolSpecial = 0x40000000 | 0x80000000
)

type machoFile struct {
	file  *macho.File
	slide uint64

	machine  string
	entry    uint64
	sections []Section
	symbols  []Symbol
	stubs    []Stub
}

func openMachO(path string, slide uint64) (*machoFile, error) {
	file, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parsing Mach-O file: %w", err)
	}

	mf := &machoFile{
		file:  file,
		slide: slide,
	}

	switch file.CPU {
	case types.CPUAmd64:
		mf.machine = "x86_64"
	case types.CPUArm64:
		mf.machine = "arm64"
	default:
		_ = file.Close()
		return nil, fmt.Errorf("unsupported Mach-O CPU type %s", file.CPU)
	}

	mf.readSections()
	mf.readSymbols()
	mf.readImportStubs()
	mf.readEntrypoint()

	return mf, nil
}

func (mf *machoFile) readSections() {
	for _, sect := range mf.file.Sections {
		out := Section{
			Name: sect.Seg + "," + sect.Name,
			Addr: sect.Addr,
			Size: sect.Size,
		}

		seg := mf.file.Segment(sect.Seg)
		executable := seg != nil && seg.Prot&vmProtExecute != 0
		if executable && sect.Flags&(attrPureInstructions|attrSomeInstructions) != 0 {
			out.Kind = SectionText
		}

		if data, err := sect.Data(); err == nil {
			out.Content = data
		}

		mf.sections = append(mf.sections, out)
	}
}

func (mf *machoFile) readSymbols() {
	if mf.file.Symtab == nil {
		return
	}

	for _, sym := range mf.file.Symtab.Syms {
		if sym.Type&types.N_STAB != 0 {
			continue
		}

		out := Symbol{
			Name: sym.Name,
			Addr: sym.Value,
		}
		if sym.Type&types.N_TYPE == types.N_SECT {
			// Mach-O symbols carry no function type, treat symbols
			// defined in executable sections as functions.
			if mf.inTextSection(sym.Value) {
				out.Kind = SymbolFunction
			}
		} else {
			out.Addr = UnknownAddress
		}
		mf.symbols = append(mf.symbols, out)
	}
}

// readImportStubs maps symbol stub entries to the external function names
// they forward to, using the indirect symbol table.
func (mf *machoFile) readImportStubs() {
	if mf.file.Dysymtab == nil || mf.file.Symtab == nil {
		return
	}
	indirect := mf.file.Dysymtab.IndirectSyms

	for _, sect := range mf.file.Sections {
		if sect.Flags&sectionTypeMask != sectionSymbolStubs {
			continue
		}

		stubSize := uint64(sect.Reserved2)
		if stubSize == 0 {
			continue
		}
		first := sect.Reserved1

		count := sect.Size / stubSize
		for i := uint64(0); i < count; i++ {
			pos := uint64(first) + i
			if pos >= uint64(len(indirect)) {
				break
			}
			symIndex := indirect[pos]
			if symIndex&indirectSymbolSpecial != 0 {
				continue
			}
			if int(symIndex) >= len(mf.file.Symtab.Syms) {
				continue
			}

			mf.stubs = append(mf.stubs, Stub{
				Addr: sect.Addr + i*stubSize,
				Name: mf.file.Symtab.Syms[symIndex].Name,
			})
		}
	}
}

// readEntrypoint determines the program entrypoint from the LC_MAIN load
// command, falling back to a symbol table scan for images without one.
func (mf *machoFile) readEntrypoint() {
	for _, load := range mf.file.Loads {
		ep, ok := load.(*macho.EntryPoint)
		if !ok {
			continue
		}

		// LC_MAIN holds a file offset, translate it through the
		// segment containing it.
		for _, seg := range mf.file.Segments() {
			if seg.Filesz == 0 || ep.EntryOffset < seg.Offset || ep.EntryOffset >= seg.Offset+seg.Filesz {
				continue
			}
			mf.entry = mf.EffectiveLoadAddr(seg.Addr + ep.EntryOffset - seg.Offset)
			return
		}
	}

	if addr := entrySymbolScan(mf.symbols); addr != 0 {
		mf.entry = mf.EffectiveLoadAddr(addr)
	}
}

func (mf *machoFile) inTextSection(addr uint64) bool {
	for _, sec := range mf.sections {
		if sec.Kind == SectionText && addr >= sec.Addr && addr < sec.Addr+sec.Size {
			return true
		}
	}
	return false
}

// Close closes the underlying file.
func (mf *machoFile) Close() error {
	return mf.file.Close()
}

// EffectiveLoadAddr translates an address of the container into the address
// space used during analysis by applying the load slide.
func (mf *machoFile) EffectiveLoadAddr(addr uint64) uint64 {
	return addr + mf.slide
}

// OriginalLoadAddr translates an effective address back into the address
// space of the container.
func (mf *machoFile) OriginalLoadAddr(addr uint64) uint64 {
	return addr - mf.slide
}

// Entrypoint returns the effective address of the program entrypoint.
func (mf *machoFile) Entrypoint() uint64 {
	return mf.entry
}

// Format returns the name of the container format.
func (mf *machoFile) Format() string {
	return "macho"
}

// ImportStubs returns the symbol stubs of the image with the external
// function names they forward to.
func (mf *machoFile) ImportStubs() []Stub {
	return mf.stubs
}

// Machine returns the architecture name of the machine code.
func (mf *machoFile) Machine() string {
	return mf.machine
}

// Sections returns all sections of the image.
func (mf *machoFile) Sections() []Section {
	return mf.sections
}

// StaticFinalizers returns the addresses of the __mod_exit_func table.
func (mf *machoFile) StaticFinalizers() ([]uint64, error) {
	return mf.readAddressTable("__mod_exit_func")
}

// StaticInitializers returns the addresses of the __mod_init_func table.
func (mf *machoFile) StaticInitializers() ([]uint64, error) {
	return mf.readAddressTable("__mod_init_func")
}

// Symbols returns all symbol table entries of the image.
func (mf *machoFile) Symbols() []Symbol {
	return mf.symbols
}

func (mf *machoFile) readAddressTable(name string) ([]uint64, error) {
	for _, sect := range mf.file.Sections {
		if sect.Name != name {
			continue
		}
		if mf.file.Magic != types.Magic64 {
			return nil, fmt.Errorf("%w: %s", errNot64Bit, name)
		}

		data, err := sect.Data()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		addrs := make([]uint64, 0, len(data)/8)
		for i := 0; i+8 <= len(data); i += 8 {
			addrs = append(addrs, binary.LittleEndian.Uint64(data[i:]))
		}
		return addrs, nil
	}
	return nil, nil
}
