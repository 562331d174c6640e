package arm64

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

func TestDecodeClassify(t *testing.T) {
	a := New()
	assert.Equal(t, "arm64", a.Name())

	tests := []struct {
		name string
		code []byte

		call      bool
		branch    bool
		cond      bool
		term      bool
		target    uint64
		hasTarget bool
	}{
		{
			name:      "b forward",
			code:      []byte{0x04, 0x00, 0x00, 0x14}, // b .+16
			branch:    true,
			term:      true,
			target:    0x1010,
			hasTarget: true,
		},
		{
			name:      "b.eq forward",
			code:      []byte{0x40, 0x00, 0x00, 0x54}, // b.eq .+8
			branch:    true,
			cond:      true,
			term:      true,
			target:    0x1008,
			hasTarget: true,
		},
		{
			name:      "bl forward",
			code:      []byte{0x02, 0x00, 0x00, 0x94}, // bl .+8
			call:      true,
			target:    0x1008,
			hasTarget: true,
		},
		{
			name:      "cbz forward",
			code:      []byte{0x40, 0x00, 0x00, 0xb4}, // cbz x0, .+8
			branch:    true,
			cond:      true,
			term:      true,
			target:    0x1008,
			hasTarget: true,
		},
		{
			name: "ret",
			code: []byte{0xc0, 0x03, 0x5f, 0xd6},
			term: true,
		},
		{
			name: "nop",
			code: []byte{0x1f, 0x20, 0x03, 0xd5},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			const addr = 0x1000

			ins, size, err := a.Decode(test.code, addr)
			assert.NoError(t, err)
			assert.Equal(t, uint64(4), size)

			assert.Equal(t, test.call, a.IsCall(ins))
			assert.Equal(t, test.branch, a.IsBranch(ins))
			assert.Equal(t, test.cond, a.IsConditionalBranch(ins))
			assert.Equal(t, test.term, a.IsTerminator(ins))

			target, ok := a.BranchTarget(ins, addr, size)
			assert.Equal(t, test.hasTarget, ok)
			if test.hasTarget {
				assert.Equal(t, test.target, target)
			}
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	a := New()

	_, _, err := a.Decode([]byte{0x04, 0x00}, 0x1000)
	assert.Error(t, err)
}
