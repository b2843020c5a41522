package attack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/internal/log"
	"github.com/latortuga71/GoEvade/internal/oracle"
	"github.com/latortuga71/GoEvade/internal/search"
	"github.com/latortuga71/GoEvade/pkg/pebuild"
)

type LossKind string

const (
	// LossL1 folds the raw confidence into the fitness.
	LossL1 LossKind = "l1"
	// LossLog uses -log(1-confidence), punishing high confidence harder.
	LossLog LossKind = "log"
)

const (
	// hardLabelSentinel is the fitness of candidates the detector still
	// flags in hard label mode. Any genuinely evasive candidate scores
	// far below it.
	hardLabelSentinel = 1e9
	// rebuildFitness ranks candidates whose section rebuild failed below
	// everything else, sentinel included, without aborting the run.
	rebuildFitness = 1e12
)

type Config struct {
	PopulationSize     int
	Iterations         int
	PenaltyRegularizer float64
	Seed               int64
	Debug              bool
	HardLabel          bool
	Threshold          float64
	Loss               LossKind
	Workers            int
}

// Individual is one evaluated candidate. Binary is only retained for the
// incumbent best, every other buffer dies with its generation.
type Individual struct {
	Latent     []float64
	Binary     []byte
	Confidence float64
	Fitness    float64
	Size       int
	Generation int
}

// Problem drives the black box search. It owns the seeded random generator,
// the per generation history and the incumbent best. Generation 0 is the
// unperturbed baseline, generations 1..Iterations come from the sampler.
type Problem struct {
	RunId    string
	Config   Config
	Strategy Strategy
	Sampler  search.Sampler

	scorer   oracle.Scorer
	rng      *rand.Rand
	original []byte
	start    []float64

	best        *Individual
	confHistory []float64
	fitHistory  []float64
	sizeHistory []int
	generation  int
	evaded      bool
	startedAt   time.Time
	finishedAt  time.Time
}

func NewProblem(cfg Config, strategy Strategy, sampler search.Sampler, scorer oracle.Scorer) (*Problem, error) {
	if strategy == nil {
		return nil, fmt.Errorf("attack: nil strategy")
	}
	if sampler == nil {
		return nil, fmt.Errorf("attack: nil sampler")
	}
	if scorer == nil {
		return nil, fmt.Errorf("attack: nil scorer")
	}
	if cfg.PopulationSize < 1 {
		return nil, fmt.Errorf("attack: population size must be at least 1")
	}
	if cfg.Iterations < 1 {
		return nil, fmt.Errorf("attack: iteration budget must be at least 1")
	}
	if cfg.PenaltyRegularizer < 0 {
		return nil, fmt.Errorf("attack: penalty regularizer must not be negative")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("attack: threshold %f outside [0,1]", cfg.Threshold)
	}
	if cfg.HardLabel && cfg.Threshold == 0 {
		return nil, fmt.Errorf("attack: hard label mode needs a positive threshold")
	}
	switch cfg.Loss {
	case "":
		cfg.Loss = LossL1
	case LossL1, LossLog:
	default:
		return nil, fmt.Errorf("attack: unknown loss kind %q", cfg.Loss)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Problem{
		RunId:    data.GenerateUUID(),
		Config:   cfg,
		Strategy: strategy,
		Sampler:  sampler,
		scorer:   oracle.NewRetryScorer(scorer),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (p *Problem) loss(confidence float64) float64 {
	if p.Config.Loss == LossLog {
		margin := 1 - confidence
		if margin < 1e-12 {
			margin = 1e-12
		}
		return -math.Log(margin)
	}
	return confidence
}

// fitness folds confidence and relative size growth into one minimization
// target. Hard label mode replaces the value with the sentinel as long as
// the detector still flags the candidate.
func (p *Problem) fitness(confidence float64, size int) float64 {
	if p.Config.HardLabel && confidence >= p.Config.Threshold {
		return hardLabelSentinel
	}
	growth := float64(size-len(p.original)) / float64(len(p.original))
	return p.loss(confidence) + p.Config.PenaltyRegularizer*growth
}

// InitStartingPoint binds the problem to one input binary. The strategy
// inspects the file, fixes its latent dimension and returns the starting
// vector; the unperturbed input is then scored as generation 0 of the
// history. Calling it again resets the run.
func (p *Problem) InitStartingPoint(ctx context.Context, original []byte) ([]float64, error) {
	if len(original) == 0 {
		return nil, fmt.Errorf("attack: empty input binary")
	}
	start, err := p.Strategy.Init(original)
	if err != nil {
		return nil, err
	}
	p.original = append([]byte(nil), original...)
	p.start = start
	p.best = nil
	p.generation = 0
	p.evaded = false
	p.confHistory = nil
	p.fitHistory = nil
	p.sizeHistory = nil
	p.startedAt = time.Now()
	p.finishedAt = time.Time{}
	p.Sampler.Init(p.rng, len(start), start)
	confidence, err := p.scorer.Score(ctx, p.original)
	if err != nil {
		return nil, err
	}
	p.confHistory = append(p.confHistory, confidence)
	p.fitHistory = append(p.fitHistory, p.fitness(confidence, len(p.original)))
	p.sizeHistory = append(p.sizeHistory, len(p.original))
	log.Log.Info().Str("service", "Engine").Msgf("Run %s baseline confidence %.6f over %d bytes, %s strategy, %d latent dimensions", p.RunId, confidence, len(p.original), p.Strategy.Name(), len(start))
	return start, nil
}

// Evaluate decodes and scores one generation of latent vectors in parallel.
// Every candidate is independent, so decode plus oracle call run on the
// worker pool; a failed section rebuild yields the worst fitness instead of
// an error, any other failure aborts the generation.
func (p *Problem) Evaluate(ctx context.Context, latents [][]float64) ([]Individual, error) {
	if p.original == nil {
		return nil, fmt.Errorf("attack: evaluate before starting point initialization")
	}
	generation := p.generation + 1
	individuals := make([]Individual, len(latents))
	errs := make([]error, len(latents))
	workers := pool.New()
	if p.Config.Workers > 0 {
		workers = workers.WithMaxGoroutines(p.Config.Workers)
	}
	for i := range latents {
		slot := i
		latent := latents[i]
		workers.Go(func() {
			adversarial, err := p.Strategy.Decode(slot, latent, p.original)
			if err != nil {
				if errors.Is(err, pebuild.ErrRebuild) {
					individuals[slot] = Individual{
						Latent:     latent,
						Confidence: 1,
						Fitness:    rebuildFitness,
						Size:       len(p.original),
						Generation: generation,
					}
					return
				}
				errs[slot] = err
				return
			}
			confidence, err := p.scorer.Score(ctx, adversarial)
			if err != nil {
				errs[slot] = err
				return
			}
			individuals[slot] = Individual{
				Latent:     latent,
				Binary:     adversarial,
				Confidence: confidence,
				Fitness:    p.fitness(confidence, len(adversarial)),
				Size:       len(adversarial),
				Generation: generation,
			}
		})
	}
	workers.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return individuals, nil
}

// Step runs one generation. Sampling and name draws happen up front on the
// caller's goroutine, evaluation fans out, then history and the incumbent
// are updated in a single commit once the whole generation is scored.
func (p *Problem) Step(ctx context.Context) error {
	if p.original == nil {
		return fmt.Errorf("attack: step before starting point initialization")
	}
	generation := p.generation + 1
	latents := p.Sampler.Ask(p.rng, p.Config.PopulationSize)
	p.Strategy.Prepare(p.rng, len(latents))
	individuals, err := p.Evaluate(ctx, latents)
	if err != nil {
		return err
	}
	fitness := make([]float64, len(individuals))
	bestSlot := 0
	minConfidence := individuals[0].Confidence
	for i := range individuals {
		fitness[i] = individuals[i].Fitness
		if individuals[i].Fitness < individuals[bestSlot].Fitness {
			bestSlot = i
		}
		if individuals[i].Confidence < minConfidence {
			minConfidence = individuals[i].Confidence
		}
	}
	p.Sampler.Tell(latents, fitness)
	generationBest := individuals[bestSlot]
	p.confHistory = append(p.confHistory, generationBest.Confidence)
	p.fitHistory = append(p.fitHistory, generationBest.Fitness)
	p.sizeHistory = append(p.sizeHistory, generationBest.Size)
	// Ties keep the incumbent, so the earliest generation wins.
	if p.best == nil || generationBest.Fitness < p.best.Fitness {
		keep := generationBest
		keep.Latent = append([]float64(nil), generationBest.Latent...)
		p.best = &keep
		p.Strategy.CommitBest(bestSlot)
		log.Log.Info().Str("service", "Engine").Msgf("Generation %d new incumbent, fitness %.6f confidence %.6f size %d", generation, keep.Fitness, keep.Confidence, keep.Size)
	}
	p.generation = generation
	if p.Config.Threshold > 0 && minConfidence < p.Config.Threshold {
		p.evaded = true
	}
	if p.Config.Debug {
		log.Log.Debug().Str("service", "Engine").Msgf("Generation %d done, best fitness %.6f min confidence %.6f", generation, generationBest.Fitness, minConfidence)
	}
	return nil
}

// Run steps through the iteration budget. The evasion check runs at
// generation boundaries only and stops the loop once any candidate of the
// just finished generation scored below the threshold, provided a positive
// threshold is configured.
func (p *Problem) Run(ctx context.Context) error {
	if p.original == nil {
		return fmt.Errorf("attack: run before starting point initialization")
	}
	for p.generation < p.Config.Iterations {
		if err := ctx.Err(); err != nil {
			p.finishedAt = time.Now()
			return err
		}
		if err := p.Step(ctx); err != nil {
			p.finishedAt = time.Now()
			return err
		}
		if p.evaded {
			log.Log.Info().Str("service", "Engine").Msgf("Confidence fell below %.3f at generation %d, stopping early", p.Config.Threshold, p.generation)
			break
		}
	}
	p.finishedAt = time.Now()
	return nil
}

// Best returns the incumbent, nil until the first generation committed.
// Generation 0 never becomes the incumbent.
func (p *Problem) Best() *Individual {
	return p.best
}

func (p *Problem) Evaded() bool {
	return p.evaded
}

func (p *Problem) Generation() int {
	return p.generation
}

// ExportResults snapshots the run into a serializable report. The history
// arrays are parallel, index 0 being the unperturbed baseline.
func (p *Problem) ExportResults() *data.RunReport {
	report := &data.RunReport{
		RunId:             p.RunId,
		Strategy:          p.Strategy.Name(),
		OriginalSize:      len(p.original),
		AdversarialSize:   len(p.original),
		Generations:       p.generation,
		ConfidenceHistory: append([]float64(nil), p.confHistory...),
		FitnessHistory:    append([]float64(nil), p.fitHistory...),
		SizeHistory:       append([]int(nil), p.sizeHistory...),
		Evaded:            p.evaded,
		StartedAt:         p.startedAt,
		FinishedAt:        p.finishedAt,
	}
	if p.best != nil {
		report.AdversarialSize = p.best.Size
		report.BestGeneration = p.best.Generation
		report.BestConfidence = p.best.Confidence
		report.BestFitness = p.best.Fitness
		report.BestSectionNames = p.Strategy.BestMeta()
	}
	return report
}
