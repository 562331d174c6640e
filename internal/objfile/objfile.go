// Package objfile provides format independent access to the sections,
// symbols and metadata of executable binary containers.
package objfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// UnknownAddress marks a section or symbol address as not available.
// Consumers skip entries carrying it instead of failing on them.
const UnknownAddress = ^uint64(0)

var (
	errUnknownFormat = errors.New("unknown binary container format")
	errNot64Bit      = errors.New("table requires a 64 bit image")
)

// SectionKind classifies the content of a section.
type SectionKind int

const (
	// SectionData marks a section holding raw data.
	SectionData SectionKind = iota
	// SectionText marks a section holding executable code.
	SectionText
)

// Section describes one section of the binary image. Addresses are in the
// original address space of the container, before any load translation.
type Section struct {
	Name    string
	Addr    uint64
	Size    uint64
	Kind    SectionKind
	Content []byte
}

// SymbolKind classifies a symbol table entry.
type SymbolKind int

const (
	// SymbolOther marks symbols that are not functions.
	SymbolOther SymbolKind = iota
	// SymbolFunction marks symbols of function type.
	SymbolFunction
)

// Symbol describes one symbol table entry of the binary image.
type Symbol struct {
	Name string
	Addr uint64
	Kind SymbolKind
}

// Stub maps the address of an import stub, like a PLT slot or a symbol
// stub, to the name of the external function it forwards to.
type Stub struct {
	Addr uint64
	Name string
}

// File is the format independent view of an executable binary image.
type File interface {
	// Close closes the underlying file.
	Close() error
	// EffectiveLoadAddr translates an address of the container into the
	// address space used during analysis.
	EffectiveLoadAddr(addr uint64) uint64
	// Entrypoint returns the effective address of the program entrypoint,
	// 0 if it is unknown.
	Entrypoint() uint64
	// Format returns the name of the container format.
	Format() string
	// ImportStubs returns the import stubs of the image with the external
	// function names they forward to.
	ImportStubs() []Stub
	// Machine returns the architecture name of the machine code.
	Machine() string
	// OriginalLoadAddr translates an effective address back into the
	// address space of the container.
	OriginalLoadAddr(addr uint64) uint64
	// Sections returns all sections of the image.
	Sections() []Section
	// StaticFinalizers returns the addresses of the static finalizer
	// table, empty if the image has none.
	StaticFinalizers() ([]uint64, error)
	// StaticInitializers returns the addresses of the static initializer
	// table, empty if the image has none.
	StaticInitializers() ([]uint64, error)
	// Symbols returns all symbol table entries of the image.
	Symbols() []Symbol
}

// Open opens the binary at the given path, detecting the container format
// from its magic bytes. The load slide only applies to position independent
// Mach-O images.
func Open(path string, loadSlide uint64) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}

	magic := make([]byte, 4)
	_, err = f.ReadAt(magic, 0)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("reading magic of %s: %w", path, err)
	}

	switch {
	case magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F':
		return openELF(path)

	case isMachOMagic(magic):
		return openMachO(path, loadSlide)

	case binary.BigEndian.Uint32(magic) == 0xcafebabe:
		return nil, fmt.Errorf("%w: fat Mach-O binaries are not supported", errUnknownFormat)

	default:
		return nil, fmt.Errorf("%w: magic %#02x %#02x %#02x %#02x",
			errUnknownFormat, magic[0], magic[1], magic[2], magic[3])
	}
}

func isMachOMagic(magic []byte) bool {
	m := binary.LittleEndian.Uint32(magic)
	switch m {
	case 0xfeedface, 0xfeedfacf, 0xcefaedfe, 0xcffaedfe:
		return true
	}
	return false
}

// entrySymbolScan returns the address of a canonical entry symbol, used as
// fallback when the format carries no explicit entrypoint metadata.
func entrySymbolScan(symbols []Symbol) uint64 {
	for _, sym := range symbols {
		if sym.Addr == UnknownAddress {
			continue
		}
		if sym.Name == "main" || sym.Name == "_main" {
			return sym.Addr
		}
	}
	return 0
}
