// Package symbols resolves binary addresses to symbol names.
package symbols

import (
	"fmt"
	"slices"

	"github.com/ianlancetaylor/demangle"
	"github.com/retroenv/retrogolib/set"

	"github.com/retroenv/binlift/internal/objfile"
)

// Manager tracks the symbol names of a binary keyed by original load
// address. Import stubs that forward control to external libraries are
// kept separate from regular symbols so that call targets landing on a
// stub can be classified as external calls.
type Manager struct {
	names     map[uint64]string
	imports   map[uint64]string
	functions set.Set[uint64]
}

// New creates a symbol manager from the symbols and import stubs of an
// object file. The first symbol found at an address wins, later aliases
// at the same address are ignored.
func New(symbols []objfile.Symbol, stubs []objfile.Stub) *Manager {
	m := &Manager{
		names:     make(map[uint64]string),
		imports:   make(map[uint64]string),
		functions: set.New[uint64](),
	}

	for _, sym := range symbols {
		if sym.Addr == objfile.UnknownAddress || sym.Name == "" {
			continue
		}
		if _, ok := m.names[sym.Addr]; !ok {
			m.names[sym.Addr] = sym.Name
		}
		if sym.Kind == objfile.SymbolFunction {
			m.functions.Add(sym.Addr)
		}
	}

	for _, stub := range stubs {
		if stub.Addr == objfile.UnknownAddress || stub.Name == "" {
			continue
		}
		m.imports[stub.Addr] = stub.Name
	}

	return m
}

// DisplayName returns the human readable form of a symbol name,
// demangling C++ and Rust names. The raw name is returned unchanged if it
// does not demangle.
func (m *Manager) DisplayName(name string) string {
	demangled := demangle.Filter(name)
	if demangled == "" {
		return name
	}
	return demangled
}

// ExternalNameAt returns the name of the external function that the
// import stub at the given address forwards to, or an empty string if the
// address is not an import stub.
func (m *Manager) ExternalNameAt(addr uint64) string {
	return m.imports[addr]
}

// FunctionAddrs returns the addresses of all function symbols in
// ascending order.
func (m *Manager) FunctionAddrs() []uint64 {
	addrs := make([]uint64, 0, len(m.functions))
	for addr := range m.functions {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// FunctionName returns the symbol name of the function at the given
// address. Functions without a symbol get a name derived from their
// address.
func (m *Manager) FunctionName(addr uint64) string {
	if name, ok := m.names[addr]; ok {
		return name
	}
	return fmt.Sprintf("fn_%x", addr)
}

// IsFunction returns whether a function symbol exists at the given
// address.
func (m *Manager) IsFunction(addr uint64) bool {
	return m.functions.Contains(addr)
}

// Len returns the number of named addresses.
func (m *Manager) Len() int {
	return len(m.names)
}

// NameAt returns the symbol name at the given address.
func (m *Manager) NameAt(addr uint64) (string, bool) {
	name, ok := m.names[addr]
	return name, ok
}
