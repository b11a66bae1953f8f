package acme

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
)

// Rng abstracts the random source used by getRandomProposal and similar
// jittered-choice operations, so test callers can inject a seeded or
// fixed-sequence source instead of the process-global generator.
type Rng interface {
	// Int63n returns a pseudo-random number in [0, n). It panics if n <= 0,
	// matching math/rand.Int63n.
	Int63n(n int64) int64
}

// DefaultRng is the default Rng, backed by a process-local math/rand
// source seeded from crypto/rand at construction time.
type DefaultRng struct {
	r *mathrand.Rand
}

// NewDefaultRng constructs a DefaultRng seeded from a cryptographically
// random seed.
func NewDefaultRng() *DefaultRng {
	return &DefaultRng{r: mathrand.New(mathrand.NewSource(cryptoSeed()))}
}

// Int63n implements Rng.
func (d *DefaultRng) Int63n(n int64) int64 { return d.r.Int63n(n) }

var _ Rng = (*DefaultRng)(nil)

// cryptoSeed reads a 64-bit seed from crypto/rand. It falls back to a fixed
// seed only if the system random source is unavailable, which in practice
// never happens on supported platforms.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}
