// Package search supplies the candidate generation side of the black box
// loop. The engine owns fitness and bookkeeping; a Sampler only proposes
// latent vectors in [0,1]^dim and hears the scores back. Crossover or
// mutation schemes beyond these two samplers can be swapped in behind the
// same interface.
package search

import (
	"math/rand"
	"sort"
)

type Sampler interface {
	Name() string
	Init(rng *rand.Rand, dim int, start []float64)
	Ask(rng *rand.Rand, n int) [][]float64
	Tell(latents [][]float64, fitness []float64)
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

func uniformVector(rng *rand.Rand, dim int) []float64 {
	latent := make([]float64, dim)
	for i := range latent {
		latent[i] = rng.Float64()
	}
	return latent
}

// RandomSampler proposes independent uniform vectors every generation.
// Useful as a baseline and in tests.
type RandomSampler struct {
	dim int
}

func NewRandomSampler() *RandomSampler {
	return &RandomSampler{}
}

func (s *RandomSampler) Name() string {
	return "random"
}

func (s *RandomSampler) Init(rng *rand.Rand, dim int, start []float64) {
	s.dim = dim
}

func (s *RandomSampler) Ask(rng *rand.Rand, n int) [][]float64 {
	latents := make([][]float64, n)
	for i := range latents {
		latents[i] = uniformVector(rng, s.dim)
	}
	return latents
}

func (s *RandomSampler) Tell(latents [][]float64, fitness []float64) {
}

type scored struct {
	latent  []float64
	fitness float64
}

// EvolutionSampler keeps a pool of the best scored candidates and proposes
// jittered copies of elites plus a share of uniform immigrants.
type EvolutionSampler struct {
	EliteRatio     float64
	Sigma          float64
	ImmigrantRatio float64

	dim   int
	start []float64
	pool  []scored
	limit int
}

func NewEvolutionSampler() *EvolutionSampler {
	return &EvolutionSampler{
		EliteRatio:     0.25,
		Sigma:          0.15,
		ImmigrantRatio: 0.1,
	}
}

func (s *EvolutionSampler) Name() string {
	return "evolution"
}

func (s *EvolutionSampler) Init(rng *rand.Rand, dim int, start []float64) {
	s.dim = dim
	s.start = append([]float64(nil), start...)
	s.pool = nil
}

func (s *EvolutionSampler) jitter(rng *rand.Rand, base []float64) []float64 {
	latent := make([]float64, s.dim)
	for i := range latent {
		latent[i] = clamp01(base[i] + rng.NormFloat64()*s.Sigma)
	}
	return latent
}

func (s *EvolutionSampler) Ask(rng *rand.Rand, n int) [][]float64 {
	if s.limit < 2*n {
		s.limit = 2 * n
	}
	latents := make([][]float64, 0, n)
	if len(s.pool) == 0 {
		// No feedback yet, half exploit the starting point, half explore.
		for i := 0; i < n; i++ {
			if i%2 == 0 && len(s.start) == s.dim {
				latents = append(latents, s.jitter(rng, s.start))
			} else {
				latents = append(latents, uniformVector(rng, s.dim))
			}
		}
		return latents
	}
	elites := int(float64(len(s.pool)) * s.EliteRatio)
	if elites < 1 {
		elites = 1
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < s.ImmigrantRatio {
			latents = append(latents, uniformVector(rng, s.dim))
			continue
		}
		parent := s.pool[rng.Intn(elites)].latent
		latents = append(latents, s.jitter(rng, parent))
	}
	return latents
}

func (s *EvolutionSampler) Tell(latents [][]float64, fitness []float64) {
	for i := range latents {
		if i >= len(fitness) {
			break
		}
		s.pool = append(s.pool, scored{latent: latents[i], fitness: fitness[i]})
	}
	sort.SliceStable(s.pool, func(i, j int) bool {
		return s.pool[i].fitness < s.pool[j].fitness
	})
	if s.limit > 0 && len(s.pool) > s.limit {
		s.pool = s.pool[:s.limit]
	}
}
