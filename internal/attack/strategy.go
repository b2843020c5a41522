// Package attack holds the black box evasion engine: a population based
// search over a latent vector in [0,1]^d that a manipulation strategy
// decodes into a concrete mutated binary. The engine owns fitness, history
// and best solution bookkeeping; strategies own the byte level surgery.
package attack

import (
	"math/rand"
)

// Strategy decodes latent vectors into adversarial binaries. Decode is
// called concurrently for the slots of one generation and must not touch
// shared state; all randomness is drawn up front in Prepare, which runs
// once per generation before any Decode.
type Strategy interface {
	Name() string

	// LatentLen is the latent dimension. Only valid after Init.
	LatentLen() int

	// Init inspects the original binary, sizes the latent space and
	// returns the starting point latent for the sampler.
	Init(original []byte) ([]float64, error)

	// Prepare draws any per candidate randomness for the next n decodes.
	Prepare(rng *rand.Rand, n int)

	// Decode builds the adversarial binary for one candidate slot.
	Decode(slot int, latent []float64, original []byte) ([]byte, error)

	// CommitBest records slot as the new incumbent's metadata owner.
	CommitBest(slot int)

	// BestMeta reports strategy specific metadata of the incumbent, the
	// injected section names for the section strategy, nil otherwise.
	BestMeta() []string
}

// latentByte maps one latent component to a byte value. Components outside
// [0,1] are clamped, never rejected.
func latentByte(v float64) byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(int(v * 255))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
