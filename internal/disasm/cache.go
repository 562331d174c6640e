package disasm

import (
	"bytes"
	"sort"

	"github.com/retroenv/binlift/internal/arch"
	"github.com/retroenv/binlift/internal/memory"
)

const (
	defaultCacheCapacity = 2000
	defaultPendingLimit  = 5000
)

// instructionCache memoizes decoded instructions keyed by their raw bytes.
// Instruction records are position independent, so one cache entry serves
// every address holding the same encoding. Fresh decodes are staged in a
// temporary buffer and merged into the sorted cache by compaction, which
// keeps only the most frequently seen encodings.
type instructionCache struct {
	keys  [][]byte
	insts []arch.Instruction

	tempKeys  [][]byte
	tempInsts []arch.Instruction

	longestKey   int
	capacity     int
	pendingLimit int
}

type cacheEntry struct {
	key   []byte
	inst  arch.Instruction
	count int
}

func newInstructionCache(capacity, pendingLimit int) *instructionCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if pendingLimit <= 0 {
		pendingLimit = defaultPendingLimit
	}
	return &instructionCache{
		capacity:     capacity,
		pendingLimit: pendingLimit,
	}
}

// lookup returns the cached instruction whose key bytes are a prefix of
// the memory at the given address. The byte window is bounded by the limit
// so that a hit never reaches past it. The returned size is the key
// length.
func (c *instructionCache) lookup(region *memory.Region, addr, limit uint64) (arch.Instruction, uint64, bool) {
	if len(c.keys) == 0 {
		return nil, 0, false
	}

	want := uint64(c.longestKey)
	if want > limit {
		want = limit
	}
	window := region.ByteRange(addr, want)
	if len(window) == 0 {
		return nil, 0, false
	}

	i := sort.Search(len(c.keys), func(i int) bool {
		return bytes.Compare(c.keys[i], window) >= 0
	})
	// a key that prefixes the window sorts at the insertion point when it
	// matches exactly, or directly before it when it is shorter
	if i < len(c.keys) && bytes.HasPrefix(window, c.keys[i]) {
		return c.insts[i], uint64(len(c.keys[i])), true
	}
	if i > 0 && bytes.HasPrefix(window, c.keys[i-1]) {
		return c.insts[i-1], uint64(len(c.keys[i-1])), true
	}
	return nil, 0, false
}

// record stages a decoded instruction for the next compaction.
func (c *instructionCache) record(ins arch.Instruction, raw []byte) {
	c.tempKeys = append(c.tempKeys, bytes.Clone(raw))
	c.tempInsts = append(c.tempInsts, ins)
	if len(c.tempKeys) > c.pendingLimit {
		c.compact()
	}
}

// compact merges the staged decodes into the cache. Duplicate keys are
// counted and the most frequently seen encodings are kept, ties are
// resolved by key order to keep compaction deterministic. Compacting an
// already compacted cache leaves it unchanged.
func (c *instructionCache) compact() {
	total := len(c.keys) + len(c.tempKeys)
	if total == 0 {
		return
	}

	merged := make([]cacheEntry, 0, total)
	for i, key := range c.keys {
		merged = append(merged, cacheEntry{key: key, inst: c.insts[i]})
	}
	for i, key := range c.tempKeys {
		merged = append(merged, cacheEntry{key: key, inst: c.tempInsts[i]})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].key, merged[j].key) < 0
	})

	unique := make([]cacheEntry, 0, len(merged))
	for i := 0; i < len(merged); {
		j := i + 1
		for j < len(merged) && bytes.Equal(merged[j].key, merged[i].key) {
			j++
		}
		entry := merged[i]
		entry.count = j - i
		unique = append(unique, entry)
		i = j
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].count != unique[j].count {
			return unique[i].count > unique[j].count
		}
		return bytes.Compare(unique[i].key, unique[j].key) < 0
	})
	if len(unique) > c.capacity {
		unique = unique[:c.capacity]
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return bytes.Compare(unique[i].key, unique[j].key) < 0
	})

	c.keys = make([][]byte, len(unique))
	c.insts = make([]arch.Instruction, len(unique))
	c.longestKey = 0
	for i, entry := range unique {
		c.keys[i] = entry.key
		c.insts[i] = entry.inst
		if len(entry.key) > c.longestKey {
			c.longestKey = len(entry.key)
		}
	}

	c.tempKeys = c.tempKeys[:0]
	c.tempInsts = c.tempInsts[:0]
}

// size returns the number of cached instructions, not counting staged
// ones.
func (c *instructionCache) size() int {
	return len(c.keys)
}
