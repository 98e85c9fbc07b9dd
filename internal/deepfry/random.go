package deepfry

import "math/rand/v2"

// newSource returns the generator behind the random operations. Tests pin
// its output, so changing it changes every random-add/random-multiply result.
func newSource(seed uint64) rand.Source {
	s := splitMix64(seed)
	return &s
}

// splitMix64 is Steele, Lea and Flood's SplitMix64 generator.
type splitMix64 uint64

func (s *splitMix64) Uint64() uint64 {
	*s += 0x9e3779b97f4a7c15
	z := uint64(*s)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// randomByte draws one byte from a generator freshly seeded with seed.
func randomByte(seed uint32) uint8 {
	r := rand.New(newSource(uint64(seed)))
	return uint8(r.Uint64() >> 56)
}
