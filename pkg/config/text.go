package config

import (
	"math/rand/v2"
	"strings"
)

// Alphabet is the safe character set for generated text and decoys. It
// leaves out I, O, 0 and 1, which are easily confused with one another.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomText draws n characters uniformly from Alphabet.
func RandomText(rng *rand.Rand, n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(Alphabet[rng.IntN(len(Alphabet))])
	}
	return b.String()
}

// RandomChar draws a single character from Alphabet.
func RandomChar(rng *rand.Rand) rune {
	return rune(Alphabet[rng.IntN(len(Alphabet))])
}

// NewRand returns the session random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
}

// Resolve returns a copy with the seed fixed. A zero seed is replaced by a
// fresh non-zero one so the session can be reproduced from its result.
// Fresh seeds stay below 2^63 to survive a TOML round trip.
func (c Config) Resolve() Config {
	for c.Seed == 0 {
		c.Seed = rand.Uint64() >> 1
	}
	return c
}
