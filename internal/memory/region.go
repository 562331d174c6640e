// Package memory models the address space of a loaded binary image.
package memory

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnmappedAddress is returned when an address is not covered by any
// region and no fallback region exists.
var ErrUnmappedAddress = errors.New("address not mapped by any region")

// Region is a contiguous byte range [Base, Base+Extent()) of the image.
type Region struct {
	Name string
	Base uint64
	Data []byte
}

// NewRegion creates a new region backed by the given bytes.
func NewRegion(name string, base uint64, data []byte) *Region {
	return &Region{
		Name: name,
		Base: base,
		Data: data,
	}
}

// Extent returns the number of addressable bytes in the region.
func (r *Region) Extent() uint64 {
	return uint64(len(r.Data))
}

// End returns the first address after the region.
func (r *Region) End() uint64 {
	return r.Base + r.Extent()
}

// Contains returns whether the address falls inside the region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// ByteRange returns up to max bytes of content starting at the given address,
// clamped to the region end. It returns nil if the address is outside of the
// region.
func (r *Region) ByteRange(addr, max uint64) []byte {
	if !r.Contains(addr) {
		return nil
	}
	offset := addr - r.Base
	end := offset + max
	if end > r.Extent() {
		end = r.Extent()
	}
	return r.Data[offset:end]
}

// Index resolves addresses to their backing regions. Regions are kept sorted
// by base address, lookups use binary search. An optional fallback region
// covers addresses outside of all known regions.
type Index struct {
	regions  []*Region
	fallback *Region
}

// NewIndex creates a new index over the given regions. The slice is sorted by
// base address, regions must not overlap.
func NewIndex(regions []*Region, fallback *Region) *Index {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Base < regions[j].Base
	})

	return &Index{
		regions:  regions,
		fallback: fallback,
	}
}

// RegionFor returns the region containing the given address. Addresses outside
// of all regions resolve to the fallback region if one is set.
func (idx *Index) RegionFor(addr uint64) (*Region, error) {
	i := sort.Search(len(idx.regions), func(i int) bool {
		return idx.regions[i].Base > addr
	})
	if i > 0 && idx.regions[i-1].Contains(addr) {
		return idx.regions[i-1], nil
	}

	if idx.fallback != nil {
		return idx.fallback, nil
	}
	return nil, fmt.Errorf("%w: $%x", ErrUnmappedAddress, addr)
}

// Regions returns all indexed regions in base address order, without the
// fallback region.
func (idx *Index) Regions() []*Region {
	return idx.regions
}
