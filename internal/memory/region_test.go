package memory

import (
	"errors"
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

func TestRegionByteRange(t *testing.T) {
	r := NewRegion(".text", 0x1000, []byte{1, 2, 3, 4})

	assert.Equal(t, uint64(4), r.Extent())
	assert.Equal(t, uint64(0x1004), r.End())
	assert.True(t, r.Contains(0x1000))
	assert.True(t, r.Contains(0x1003))
	assert.False(t, r.Contains(0x1004))

	assert.Equal(t, []byte{2, 3}, r.ByteRange(0x1001, 2))
	assert.Equal(t, []byte{3, 4}, r.ByteRange(0x1002, 100))
	assert.Nil(t, r.ByteRange(0x2000, 1))
}

func TestIndexRegionFor(t *testing.T) {
	text := NewRegion(".text", 0x2000, make([]byte, 0x100))
	data := NewRegion(".data", 0x1000, make([]byte, 0x10))
	idx := NewIndex([]*Region{text, data}, nil)

	// regions get sorted by base address
	assert.Equal(t, ".data", idx.Regions()[0].Name)
	assert.Equal(t, ".text", idx.Regions()[1].Name)

	r, err := idx.RegionFor(0x2080)
	assert.NoError(t, err)
	assert.Equal(t, ".text", r.Name)

	r, err = idx.RegionFor(0x100f)
	assert.NoError(t, err)
	assert.Equal(t, ".data", r.Name)

	_, err = idx.RegionFor(0x1010)
	assert.True(t, errors.Is(err, ErrUnmappedAddress))
	_, err = idx.RegionFor(0)
	assert.True(t, errors.Is(err, ErrUnmappedAddress))
}

func TestIndexFallback(t *testing.T) {
	text := NewRegion(".text", 0x2000, make([]byte, 0x100))
	fallback := NewRegion("image", 0, make([]byte, 0x10000))
	idx := NewIndex([]*Region{text}, fallback)

	r, err := idx.RegionFor(0x2000)
	assert.NoError(t, err)
	assert.Equal(t, ".text", r.Name)

	r, err = idx.RegionFor(0x9000)
	assert.NoError(t, err)
	assert.Equal(t, "image", r.Name)
}
