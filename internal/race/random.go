package race

import "math/rand/v2"

// Source supplies the randomness behind lane, speed, colour and pickup choices.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// NewSource returns a deterministic PCG-backed source for seed.
func NewSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func uniform(src Source, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + src.Float64()*(hi-lo)
}
