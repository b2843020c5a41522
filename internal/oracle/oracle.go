// Package oracle abstracts the black box detector. The engine only ever
// sees a confidence in [0,1]; the implementations here cover a REST scoring
// service, a websocket scoring service, an external scanner command and any
// in-process model with a Score method.
package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/latortuga71/GoEvade/internal/log"
)

type Scorer interface {
	Score(ctx context.Context, binary []byte) (float64, error)
}

// Func adapts a plain function to the Scorer interface.
type Func func(ctx context.Context, binary []byte) (float64, error)

func (f Func) Score(ctx context.Context, binary []byte) (float64, error) {
	return f(ctx, binary)
}

func checkConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return fmt.Errorf("oracle: confidence %f outside [0,1]", confidence)
	}
	return nil
}

// RetryScorer retries a failed scoring call exactly once before giving up.
type RetryScorer struct {
	Inner Scorer
}

func NewRetryScorer(inner Scorer) *RetryScorer {
	return &RetryScorer{Inner: inner}
}

func (r *RetryScorer) Score(ctx context.Context, binary []byte) (float64, error) {
	confidence, err := r.Inner.Score(ctx, binary)
	if err == nil {
		return confidence, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}
	log.Log.Warn().Str("service", "Oracle").Msgf("Scoring call failed, retrying once: %v", err)
	confidence, err = r.Inner.Score(ctx, binary)
	if err != nil {
		return 0, fmt.Errorf("oracle: retry failed: %w", err)
	}
	return confidence, nil
}
