package random

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestDeterministic(t *testing.T) {
	r1, r2 := New(301), New(301)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, r1.Next(), r2.Next())
	}
}

func TestZeroSeed(t *testing.T) {
	r := New(0)
	assert.Assert(t, r.Next() != 0)
}

func TestSkewedSize(t *testing.T) {
	r := New(7)
	small := 0
	for i := 0; i < 10000; i++ {
		n := r.SkewedSize(1000)
		assert.Assert(t, n >= 1 && n <= 1000, n)
		if n <= 32 {
			small++
		}
	}
	// six draws in ten pick at most 5 bits
	assert.Assert(t, small > 4000, small)

	assert.Equal(t, r.SkewedSize(1), 1)
}

func TestFillPrintable(t *testing.T) {
	p := make([]byte, 512)
	New(3).Fill(p)
	for _, b := range p {
		assert.Assert(t, b >= ' ' && b <= '~', b)
	}
}
