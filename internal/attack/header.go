package attack

import (
	"fmt"
	"math/rand"

	"github.com/latortuga71/GoEvade/internal/log"
	"github.com/latortuga71/GoEvade/pkg/pebuild"
)

// Header rewrites bytes of the DOS stub in place. The two magic bytes at
// offsets 0 and 1 are never touched; the base target range is [2,60). With
// OptimizeAllDOS the range extends past the e_lfanew field up to the NT
// headers, [64, e_lfanew), when the pointer is sane. A pointer past the end
// of the file falls back to the base range rather than aborting the run.
type Header struct {
	OptimizeAllDOS bool

	indexes []int
}

func NewHeader(optimizeAllDOS bool) *Header {
	return &Header{OptimizeAllDOS: optimizeAllDOS}
}

func (h *Header) Name() string {
	return "header"
}

func (h *Header) LatentLen() int {
	return len(h.indexes)
}

func (h *Header) Init(original []byte) ([]float64, error) {
	if len(original) < pebuild.DOSHeaderSize {
		return nil, fmt.Errorf("%w: file smaller than dos header", pebuild.ErrInvalidFormat)
	}
	h.indexes = h.indexes[:0]
	for i := 2; i < 60; i++ {
		h.indexes = append(h.indexes, i)
	}
	if h.OptimizeAllDOS {
		pointer, err := pebuild.ELfanew(original)
		if err != nil {
			return nil, err
		}
		if pointer > pebuild.DOSHeaderSize && int(pointer) <= len(original) {
			for i := pebuild.DOSHeaderSize; i < int(pointer); i++ {
				h.indexes = append(h.indexes, i)
			}
		} else if pointer > pebuild.DOSHeaderSize {
			log.Log.Warn().Str("service", "Evasion").Msgf("e_lfanew 0x%x past end of file, keeping base dos range", pointer)
		}
	}
	start := make([]float64, len(h.indexes))
	for i, idx := range h.indexes {
		start[i] = float64(original[idx]) / 255.0
	}
	return start, nil
}

// IndexesToPerturb returns a copy of the byte offsets targeted by Decode.
func (h *Header) IndexesToPerturb() []int {
	return append([]int(nil), h.indexes...)
}

func (h *Header) Prepare(rng *rand.Rand, n int) {
}

func (h *Header) Decode(slot int, latent []float64, original []byte) ([]byte, error) {
	out := make([]byte, len(original))
	copy(out, original)
	for i, idx := range h.indexes {
		if i >= len(latent) {
			break
		}
		out[idx] = latentByte(latent[i])
	}
	return out, nil
}

func (h *Header) CommitBest(slot int) {
}

func (h *Header) BestMeta() []string {
	return nil
}
