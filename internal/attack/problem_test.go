package attack

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/internal/oracle"
	"github.com/latortuga71/GoEvade/internal/search"
	"github.com/latortuga71/GoEvade/internal/testpe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func constScorer(confidence float64) oracle.Func {
	return func(ctx context.Context, binary []byte) (float64, error) {
		return confidence, nil
	}
}

// meanTailScorer scores a candidate by the mean value of the bytes past the
// original length, so low padding bytes look benign.
func meanTailScorer(originalLen int) oracle.Func {
	return func(ctx context.Context, binary []byte) (float64, error) {
		tail := binary[originalLen:]
		if len(tail) == 0 {
			return 1.0, nil
		}
		sum := 0
		for _, b := range tail {
			sum += int(b)
		}
		return float64(sum) / float64(len(tail)*255), nil
	}
}

func TestNewProblemValidation(t *testing.T) {
	strategy, err := NewPadding(4)
	require.NoError(t, err)
	sampler := search.NewRandomSampler()
	scorer := constScorer(0.5)

	good := Config{PopulationSize: 4, Iterations: 2}
	p, err := NewProblem(good, strategy, sampler, scorer)
	require.NoError(t, err)
	require.Equal(t, LossL1, p.Config.Loss)
	require.NotZero(t, p.Config.Seed)
	require.NotEmpty(t, p.RunId)

	bad := []Config{
		{PopulationSize: 0, Iterations: 2},
		{PopulationSize: 4, Iterations: 0},
		{PopulationSize: 4, Iterations: 2, PenaltyRegularizer: -1},
		{PopulationSize: 4, Iterations: 2, Threshold: 1.5},
		{PopulationSize: 4, Iterations: 2, HardLabel: true},
		{PopulationSize: 4, Iterations: 2, Loss: "huber"},
	}
	for i, cfg := range bad {
		if _, err := NewProblem(cfg, strategy, sampler, scorer); err == nil {
			t.Errorf("config %d should fail validation", i)
		}
	}
	_, err = NewProblem(good, nil, sampler, scorer)
	require.Error(t, err)
	_, err = NewProblem(good, strategy, nil, scorer)
	require.Error(t, err)
	_, err = NewProblem(good, strategy, sampler, nil)
	require.Error(t, err)
}

func TestHardLabelFitness(t *testing.T) {
	strategy, err := NewPadding(4)
	require.NoError(t, err)
	cfg := Config{PopulationSize: 2, Iterations: 1, HardLabel: true, Threshold: 0.5, Seed: 1}
	p, err := NewProblem(cfg, strategy, search.NewRandomSampler(), constScorer(0.9))
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), []byte("MZ some malware body"))
	require.NoError(t, err)

	require.EqualValues(t, hardLabelSentinel, p.fitHistory[0])
	require.EqualValues(t, hardLabelSentinel, p.fitness(0.9, len(p.original)))
	require.EqualValues(t, hardLabelSentinel, p.fitness(0.5, len(p.original)))
	require.InDelta(t, 0.3, p.fitness(0.3, len(p.original)), 1e-12)
}

func TestSoftFitnessPenalizesGrowth(t *testing.T) {
	strategy, err := NewPadding(4)
	require.NoError(t, err)
	cfg := Config{PopulationSize: 2, Iterations: 1, PenaltyRegularizer: 0.5, Seed: 1}
	p, err := NewProblem(cfg, strategy, search.NewRandomSampler(), constScorer(0.4))
	require.NoError(t, err)
	original := append([]byte("MZ"), make([]byte, 98)...)
	_, err = p.InitStartingPoint(context.Background(), original)
	require.NoError(t, err)

	require.InDelta(t, 0.4, p.fitness(0.4, 100), 1e-12)
	require.InDelta(t, 0.4+0.5*0.5, p.fitness(0.4, 150), 1e-12)
}

func TestLogLossTransformsConfidence(t *testing.T) {
	strategy, err := NewPadding(4)
	require.NoError(t, err)
	cfg := Config{PopulationSize: 2, Iterations: 1, Loss: LossLog, Seed: 1}
	p, err := NewProblem(cfg, strategy, search.NewRandomSampler(), constScorer(0.4))
	require.NoError(t, err)
	original := append([]byte("MZ"), make([]byte, 98)...)
	_, err = p.InitStartingPoint(context.Background(), original)
	require.NoError(t, err)

	require.InDelta(t, -math.Log(1-0.4), p.fitness(0.4, 100), 1e-12)
	require.InDelta(t, -math.Log(1e-12), p.fitness(1.0, 100), 1e-9)
}

func TestRunKeepsIncumbentMonotone(t *testing.T) {
	strategy, err := NewPadding(8)
	require.NoError(t, err)
	original := append([]byte("MZ"), make([]byte, 62)...)
	cfg := Config{PopulationSize: 6, Iterations: 5, Seed: 42}
	p, err := NewProblem(cfg, strategy, search.NewEvolutionSampler(), meanTailScorer(len(original)))
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), original)
	require.NoError(t, err)
	require.Nil(t, p.Best())

	prev := math.Inf(1)
	for g := 0; g < cfg.Iterations; g++ {
		require.NoError(t, p.Step(context.Background()))
		best := p.Best()
		require.NotNil(t, best)
		require.LessOrEqual(t, best.Fitness, prev)
		prev = best.Fitness
	}

	report := p.ExportResults()
	require.Len(t, report.ConfidenceHistory, 6)
	require.Len(t, report.FitnessHistory, 6)
	require.Len(t, report.SizeHistory, 6)
	require.EqualValues(t, 1.0, report.ConfidenceHistory[0])
	require.Equal(t, len(original), report.SizeHistory[0])
	require.Equal(t, len(original)+8, report.SizeHistory[1])

	// The incumbent is the argmin of the history past index 0, first hit wins.
	bestGen := 1
	for g := 2; g < len(report.FitnessHistory); g++ {
		if report.FitnessHistory[g] < report.FitnessHistory[bestGen] {
			bestGen = g
		}
	}
	require.Equal(t, bestGen, report.BestGeneration)
	require.Equal(t, report.FitnessHistory[bestGen], report.BestFitness)
	require.Equal(t, len(original)+8, report.AdversarialSize)
	require.NotNil(t, p.Best().Binary)
}

func TestRunStopsEarlyOnEvasion(t *testing.T) {
	strategy, err := NewPadding(4)
	require.NoError(t, err)
	cfg := Config{PopulationSize: 3, Iterations: 10, Threshold: 0.5, Seed: 7}
	p, err := NewProblem(cfg, strategy, search.NewRandomSampler(), constScorer(0.05))
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), []byte("MZ body"))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	require.True(t, p.Evaded())
	require.Equal(t, 1, p.Generation())
	report := p.ExportResults()
	require.True(t, report.Evaded)
	require.Equal(t, 1, report.Generations)
	require.Len(t, report.ConfidenceHistory, 2)
	require.False(t, report.FinishedAt.IsZero())
	require.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRebuildFailureGetsWorstFitness(t *testing.T) {
	c := &corpus.SectionCorpus{Entries: []corpus.Entry{{Content: make([]byte, 48), Name: ".data", Source: "a.exe"}}}
	strategy, err := NewSections(c, Registered)
	require.NoError(t, err)
	cfg := Config{PopulationSize: 1, Iterations: 2, Seed: 5}
	p, err := NewProblem(cfg, strategy, search.NewRandomSampler(), constScorer(0.8))
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), testpe.Minimal())
	require.NoError(t, err)

	// Colliding with an existing section makes every rebuild fail.
	strategy.bestNames = []string{".text"}
	strategy.Prepare(rand.New(rand.NewSource(1)), 1)
	individuals, err := p.Evaluate(context.Background(), [][]float64{{1.0}})
	require.NoError(t, err)
	require.Len(t, individuals, 1)
	require.EqualValues(t, rebuildFitness, individuals[0].Fitness)
	require.EqualValues(t, 1, individuals[0].Confidence)
	require.Nil(t, individuals[0].Binary)
}

func TestOracleErrorLeavesHistoryIntact(t *testing.T) {
	strategy, err := NewPadding(2)
	require.NoError(t, err)
	fail := false
	scorer := oracle.Func(func(ctx context.Context, binary []byte) (float64, error) {
		if fail {
			return 0, fmt.Errorf("scorer down")
		}
		return 0.6, nil
	})
	p, err := NewProblem(Config{PopulationSize: 2, Iterations: 3, Seed: 9}, strategy, search.NewRandomSampler(), scorer)
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), []byte("MZ body"))
	require.NoError(t, err)
	require.Equal(t, []float64{0.6}, p.confHistory)

	fail = true
	require.Error(t, p.Step(context.Background()))
	require.Equal(t, 0, p.Generation())
	require.Len(t, p.fitHistory, 1)
	require.Nil(t, p.Best())
}

func TestOracleRetryAbsorbsOneFailure(t *testing.T) {
	strategy, err := NewPadding(2)
	require.NoError(t, err)
	calls := 0
	scorer := oracle.Func(func(ctx context.Context, binary []byte) (float64, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("transient")
		}
		return 0.6, nil
	})
	p, err := NewProblem(Config{PopulationSize: 1, Iterations: 1, Seed: 9}, strategy, search.NewRandomSampler(), scorer)
	require.NoError(t, err)
	start, err := p.InitStartingPoint(context.Background(), []byte("MZ body"))
	require.NoError(t, err)
	require.Len(t, start, 2)
	require.Equal(t, 2, calls)
	require.Equal(t, []float64{0.6}, p.confHistory)
}

func TestRunDeterministicUnderSeed(t *testing.T) {
	run := func() *data.RunReport {
		strategy, err := NewPadding(6)
		require.NoError(t, err)
		original := append([]byte("MZ"), make([]byte, 62)...)
		cfg := Config{PopulationSize: 4, Iterations: 4, PenaltyRegularizer: 0.1, Seed: 1234, Workers: 3}
		p, err := NewProblem(cfg, strategy, search.NewEvolutionSampler(), meanTailScorer(len(original)))
		require.NoError(t, err)
		_, err = p.InitStartingPoint(context.Background(), original)
		require.NoError(t, err)
		require.NoError(t, p.Run(context.Background()))
		return p.ExportResults()
	}
	a := run()
	b := run()
	require.Equal(t, a.ConfidenceHistory, b.ConfidenceHistory)
	require.Equal(t, a.FitnessHistory, b.FitnessHistory)
	require.Equal(t, a.SizeHistory, b.SizeHistory)
	require.Equal(t, a.BestGeneration, b.BestGeneration)
	require.NotEqual(t, a.RunId, b.RunId)
}

func TestOperationsBeforeInitFail(t *testing.T) {
	strategy, err := NewPadding(2)
	require.NoError(t, err)
	p, err := NewProblem(Config{PopulationSize: 1, Iterations: 1, Seed: 1}, strategy, search.NewRandomSampler(), constScorer(0.5))
	require.NoError(t, err)
	require.Error(t, p.Step(context.Background()))
	require.Error(t, p.Run(context.Background()))
	_, err = p.Evaluate(context.Background(), [][]float64{{0.5, 0.5}})
	require.Error(t, err)
	_, err = p.InitStartingPoint(context.Background(), nil)
	require.Error(t, err)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	strategy, err := NewPadding(2)
	require.NoError(t, err)
	p, err := NewProblem(Config{PopulationSize: 2, Iterations: 50, Seed: 2}, strategy, search.NewRandomSampler(), constScorer(0.9))
	require.NoError(t, err)
	_, err = p.InitStartingPoint(context.Background(), []byte("MZ body"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)
}
