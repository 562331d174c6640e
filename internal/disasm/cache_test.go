package disasm

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"

	"github.com/retroenv/binlift/internal/memory"
)

func TestCacheLookupPrefix(t *testing.T) {
	cache := newInstructionCache(10, 100)
	cache.record(testInst{name: "nop"}, []byte{0x05})
	cache.record(testInst{name: "jmp"}, []byte{0x01, 0x08, 0x10})
	cache.compact()

	region := memory.NewRegion(".text", 0x1000, []byte{0x05, 0x01, 0x08, 0x10, 0x04})

	t.Run("shorter key matches as prefix", func(t *testing.T) {
		ins, size, ok := cache.lookup(region, 0x1000, 5)
		assert.True(t, ok)
		assert.Equal(t, "nop", ins.Name())
		assert.Equal(t, uint64(1), size)
	})

	t.Run("exact window match", func(t *testing.T) {
		ins, size, ok := cache.lookup(region, 0x1001, 4)
		assert.True(t, ok)
		assert.Equal(t, "jmp", ins.Name())
		assert.Equal(t, uint64(3), size)
	})

	t.Run("unknown byte pattern misses", func(t *testing.T) {
		_, _, ok := cache.lookup(region, 0x1004, 1)
		assert.False(t, ok)
	})

	t.Run("limit clips too long keys", func(t *testing.T) {
		// the jmp entry needs 3 bytes, only 2 remain in the run
		_, _, ok := cache.lookup(region, 0x1001, 2)
		assert.False(t, ok)
	})
}

func TestCacheCompactionRanking(t *testing.T) {
	cache := newInstructionCache(2, 100)
	for range 3 {
		cache.record(testInst{name: "nop"}, []byte{0x05})
	}
	cache.record(testInst{name: "ret"}, []byte{0x04})
	for range 2 {
		cache.record(testInst{name: "jmp"}, []byte{0x01, 0x08, 0x10})
	}
	cache.compact()

	// only the two most frequent patterns survive
	assert.Equal(t, 2, cache.size())
	assert.Equal(t, uint64(3), cache.longestKey)

	region := memory.NewRegion(".text", 0x1000, []byte{0x05, 0x04, 0x01, 0x08, 0x10})

	ins, _, ok := cache.lookup(region, 0x1000, 5)
	assert.True(t, ok)
	assert.Equal(t, "nop", ins.Name())

	_, _, ok = cache.lookup(region, 0x1001, 4)
	assert.False(t, ok)

	ins, _, ok = cache.lookup(region, 0x1002, 3)
	assert.True(t, ok)
	assert.Equal(t, "jmp", ins.Name())

	// compacting without new recordings changes nothing
	cache.compact()
	assert.Equal(t, 2, cache.size())
	assert.Equal(t, uint64(3), cache.longestKey)
}

func TestCacheCompactionTieBreak(t *testing.T) {
	cache := newInstructionCache(1, 100)
	cache.record(testInst{name: "nop"}, []byte{0x05})
	cache.record(testInst{name: "ret"}, []byte{0x04})
	cache.compact()

	assert.Equal(t, 1, cache.size())

	region := memory.NewRegion(".text", 0x1000, []byte{0x04, 0x05})

	// equal counts keep the smaller byte pattern
	ins, _, ok := cache.lookup(region, 0x1000, 2)
	assert.True(t, ok)
	assert.Equal(t, "ret", ins.Name())

	_, _, ok = cache.lookup(region, 0x1001, 1)
	assert.False(t, ok)
}

func TestCachePendingLimitTriggersCompaction(t *testing.T) {
	cache := newInstructionCache(10, 2)
	cache.record(testInst{name: "nop"}, []byte{0x05})
	cache.record(testInst{name: "ret"}, []byte{0x04})
	assert.Equal(t, 0, cache.size())

	// the third recording exceeds the pending limit
	cache.record(testInst{name: "jmp"}, []byte{0x01, 0x08, 0x10})
	assert.Equal(t, 3, cache.size())
	assert.Empty(t, cache.tempKeys)
}
