// Package random is a small deterministic Lehmer generator for workloads
// that must be reproducible from a seed.
package random

const (
	m = uint32(2147483647) // 2^31-1
	a = uint32(16807)      // bits 14, 8, 7, 5, 2, 1, 0
)

// Random is not safe for concurrent use; give every goroutine its own.
type Random struct {
	seed uint32
}

func New(s uint32) *Random {
	s &= 0x7fffffff
	if s == 0 || s == m {
		s = 1
	}
	return &Random{seed: s}
}

func (r *Random) Next() uint32 {
	product := uint64(r.seed) * uint64(a)
	r.seed = uint32(product>>31) + (uint32(product) & m)

	// The first reduction may overflow by 1 bit
	if r.seed > m {
		r.seed -= m
	}

	return r.seed
}

// Uniform returns a uniformly distributed value in [0, n). n must be
// positive.
func (r *Random) Uniform(n int) int {
	return int(r.Next() % uint32(n))
}

// OneIn returns true about once every n calls.
func (r *Random) OneIn(n int) bool {
	return r.Uniform(n) == 0
}

// Skewed returns a value in [0, 2^maxLog) with exponential bias towards
// small values.
func (r *Random) Skewed(maxLog int) int {
	return r.Uniform(1 << r.Uniform(maxLog+1))
}

// SkewedSize returns a size in [1, max] biased towards small sizes, the
// shape of most real entry streams.
func (r *Random) SkewedSize(max int) int {
	maxLog := 0
	for 1<<(maxLog+1) <= max {
		maxLog++
	}
	n := r.Skewed(maxLog) + 1
	if n > max {
		n = max
	}
	return n
}

// Fill overwrites p with printable bytes.
func (r *Random) Fill(p []byte) {
	for i := range p {
		p[i] = byte(' ' + r.Uniform(95))
	}
}
