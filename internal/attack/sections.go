package attack

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/pkg/pebuild"
)

type InjectionMode int

const (
	// RawAppend concatenates the chosen prefixes after the end of the
	// file without touching the section table.
	RawAppend InjectionMode = iota
	// Registered adds one real section per prefix and rebuilds the image.
	Registered
)

func (m InjectionMode) String() string {
	if m == Registered {
		return "sections-registered"
	}
	return "sections-append"
}

const sectionNameLen = 8

var nameAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Sections splices prefixes of benign corpus sections into the target. One
// latent component per corpus entry selects how much of that entry to take.
// Injected section names are random eight letter strings until an incumbent
// exists, after which every candidate reuses the incumbent's names.
type Sections struct {
	Mode InjectionMode

	corpus *corpus.SectionCorpus

	// names holds the per candidate name lists of the current generation;
	// nameLog keeps every generation's lists in order.
	names     [][]string
	nameLog   [][][]string
	bestNames []string
}

func NewSections(c *corpus.SectionCorpus, mode InjectionMode) (*Sections, error) {
	if c == nil || c.Len() == 0 {
		return nil, fmt.Errorf("%w: section strategy needs a non empty corpus", corpus.ErrCorpusExhausted)
	}
	return &Sections{Mode: mode, corpus: c}, nil
}

func (s *Sections) Name() string {
	return s.Mode.String()
}

func (s *Sections) LatentLen() int {
	return s.corpus.Len()
}

func (s *Sections) Init(original []byte) ([]float64, error) {
	if s.Mode == Registered {
		if _, err := pebuild.Parse(original); err != nil {
			return nil, err
		}
	}
	return make([]float64, s.corpus.Len()), nil
}

func randomSectionName(rng *rand.Rand) string {
	name := make([]byte, sectionNameLen)
	for i := range name {
		name[i] = nameAlphabet[rng.Intn(len(nameAlphabet))]
	}
	return string(name)
}

// Prepare draws the name list for every candidate of the coming generation.
// Draws happen here, sequentially, so Decode stays deterministic under
// parallel evaluation. Once an incumbent exists its names are reused and no
// randomness is consumed.
func (s *Sections) Prepare(rng *rand.Rand, n int) {
	if s.Mode == RawAppend {
		return
	}
	s.names = make([][]string, n)
	for candidate := 0; candidate < n; candidate++ {
		if s.bestNames != nil {
			s.names[candidate] = append([]string(nil), s.bestNames...)
			continue
		}
		list := make([]string, s.corpus.Len())
		for i := range list {
			list[i] = randomSectionName(rng)
		}
		s.names[candidate] = list
	}
	s.nameLog = append(s.nameLog, s.names)
}

// take is the prefix length of entry content selected by latent component t.
func take(contentLen int, t float64) int {
	return int(math.Round(float64(contentLen) * clamp01(t)))
}

func (s *Sections) Decode(slot int, latent []float64, original []byte) ([]byte, error) {
	if s.Mode == RawAppend {
		out := make([]byte, len(original))
		copy(out, original)
		for i := range s.corpus.Entries {
			if i >= len(latent) {
				break
			}
			n := take(len(s.corpus.Entries[i].Content), latent[i])
			out = append(out, s.corpus.Entries[i].Content[:n]...)
		}
		return out, nil
	}
	if slot >= len(s.names) {
		return nil, fmt.Errorf("attack: decode slot %d without prepared names", slot)
	}
	adds := make([]pebuild.NewSection, 0, s.corpus.Len())
	for i := range s.corpus.Entries {
		if i >= len(latent) {
			break
		}
		n := take(len(s.corpus.Entries[i].Content), latent[i])
		if n == 0 {
			continue
		}
		adds = append(adds, pebuild.NewSection{
			Name:    s.names[slot][i],
			Content: s.corpus.Entries[i].Content[:n],
		})
	}
	return pebuild.AddSections(original, adds)
}

func (s *Sections) CommitBest(slot int) {
	if slot < 0 || slot >= len(s.names) {
		return
	}
	s.bestNames = append([]string(nil), s.names[slot]...)
}

func (s *Sections) BestMeta() []string {
	return append([]string(nil), s.bestNames...)
}

// NameLog exposes the per generation name arena, one list per candidate in
// generation order.
func (s *Sections) NameLog() [][][]string {
	return s.nameLog
}
