package search

import (
	"math/rand"
	"testing"
)

func askSequence(s Sampler, seed int64, dim, n, generations int) [][][]float64 {
	rng := rand.New(rand.NewSource(seed))
	s.Init(rng, dim, make([]float64, dim))
	all := make([][][]float64, 0, generations)
	for g := 0; g < generations; g++ {
		latents := s.Ask(rng, n)
		fitness := make([]float64, len(latents))
		for i := range latents {
			// Fitness favors small first components.
			fitness[i] = latents[i][0]
		}
		s.Tell(latents, fitness)
		all = append(all, latents)
	}
	return all
}

func TestSamplersStayInUnitCube(t *testing.T) {
	for _, sampler := range []Sampler{NewRandomSampler(), NewEvolutionSampler()} {
		for _, generation := range askSequence(sampler, 42, 8, 10, 5) {
			for _, latent := range generation {
				if len(latent) != 8 {
					t.Fatalf("%s proposed dim %d expected 8", sampler.Name(), len(latent))
				}
				for _, v := range latent {
					if v < 0 || v > 1 {
						t.Errorf("%s proposed component %f outside [0,1]", sampler.Name(), v)
					}
				}
			}
		}
	}
}

func TestSamplersDeterministicUnderSeed(t *testing.T) {
	for _, name := range []string{"random", "evolution"} {
		build := func() Sampler {
			if name == "random" {
				return NewRandomSampler()
			}
			return NewEvolutionSampler()
		}
		first := askSequence(build(), 7, 4, 6, 4)
		second := askSequence(build(), 7, 4, 6, 4)
		for g := range first {
			for i := range first[g] {
				for k := range first[g][i] {
					if first[g][i][k] != second[g][i][k] {
						t.Fatalf("%s not deterministic at generation %d candidate %d", name, g, i)
					}
				}
			}
		}
	}
}

func TestEvolutionSamplerExploitsElites(t *testing.T) {
	sampler := NewEvolutionSampler()
	sampler.ImmigrantRatio = 0
	sampler.Sigma = 0.01
	rng := rand.New(rand.NewSource(3))
	sampler.Init(rng, 2, []float64{0.5, 0.5})

	// Feed one clearly best candidate.
	best := []float64{0.1, 0.9}
	sampler.Tell([][]float64{best, {0.8, 0.2}, {0.9, 0.9}}, []float64{0.01, 5, 9})

	for _, latent := range sampler.Ask(rng, 8) {
		if latent[0] > 0.2 || latent[1] < 0.8 {
			t.Errorf("Proposal %v strayed from the only elite %v", latent, best)
		}
	}
}

func TestEvolutionSamplerPoolIsBounded(t *testing.T) {
	sampler := NewEvolutionSampler()
	rng := rand.New(rand.NewSource(5))
	sampler.Init(rng, 3, nil)
	for g := 0; g < 20; g++ {
		latents := sampler.Ask(rng, 10)
		fitness := make([]float64, len(latents))
		for i := range fitness {
			fitness[i] = float64(i)
		}
		sampler.Tell(latents, fitness)
	}
	if len(sampler.pool) > 20 {
		t.Errorf("Pool grew to %d expected at most 20", len(sampler.pool))
	}
}
