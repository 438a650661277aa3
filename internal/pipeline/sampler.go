package pipeline

import (
	"math/rand/v2"

	"github.com/RoaringBitmap/roaring/v2"
)

// sampler keeps each row independently with probability rate.
type sampler struct {
	rate float64
	rng  *rand.Rand
}

func newSampler(rate float64, seed uint64) *sampler {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &sampler{rate: rate, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// active reports whether sampling drops anything.
func (s *sampler) active() bool { return s.rate < 1 }

// keep draws one Bernoulli trial per row of an n-row batch and returns the
// kept positions.
func (s *sampler) keep(n int) *roaring.Bitmap {
	sel := roaring.New()
	for i := 0; i < n; i++ {
		if s.rng.Float64() < s.rate {
			sel.Add(uint32(i))
		}
	}
	return sel
}
