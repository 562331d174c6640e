// Package options contains the program options.
package options

// Program options of the disassembler.
type Program struct {
	Input  string
	Output string
	Batch  string

	Flat      bool
	NoCache   bool
	CacheSize int
	LoadSlide string

	Debug bool
	Quiet bool
}

// Disassembler defines options to control the disassembler.
type Disassembler struct {
	CacheEnabled      bool
	CacheCapacity     int // decoded instructions kept by a cache compaction
	CachePendingLimit int // staged decodes that trigger a cache compaction

	LoadSlide uint64 // offset added to all file addresses at load time
}

// NewDisassembler returns a new options instance with default options.
func NewDisassembler() Disassembler {
	return Disassembler{
		CacheEnabled:      true,
		CacheCapacity:     2000,
		CachePendingLimit: 5000,
	}
}
