package attack

import (
	"fmt"
	"math/rand"
)

// Padding appends a run of optimizer chosen bytes after the end of the
// file. Trailing data is ignored by the loader so the result is always well
// formed.
type Padding struct {
	byteCount int
}

func NewPadding(byteCount int) (*Padding, error) {
	if byteCount <= 0 {
		return nil, fmt.Errorf("attack: padding byte count must be > 0")
	}
	return &Padding{byteCount: byteCount}, nil
}

func (p *Padding) Name() string {
	return "padding"
}

func (p *Padding) LatentLen() int {
	return p.byteCount
}

func (p *Padding) Init(original []byte) ([]float64, error) {
	return make([]float64, p.byteCount), nil
}

func (p *Padding) Prepare(rng *rand.Rand, n int) {
}

func (p *Padding) Decode(slot int, latent []float64, original []byte) ([]byte, error) {
	out := make([]byte, 0, len(original)+p.byteCount)
	out = append(out, original...)
	for i := 0; i < p.byteCount && i < len(latent); i++ {
		out = append(out, latentByte(latent[i]))
	}
	return out, nil
}

func (p *Padding) CommitBest(slot int) {
}

func (p *Padding) BestMeta() []string {
	return nil
}
