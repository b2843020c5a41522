// Package detector is a small self contained malware scoring model. It
// exists so the evasion engine can be exercised end to end without a third
// party detector: the score server wraps it, and the tests use it as a live
// oracle. It is a fixed weight logistic model over cheap byte level and
// structural features, not a serious classifier.
package detector

import (
	"context"
	"math"

	"github.com/latortuga71/GoEvade/pkg/pebuild"
)

const tailWindow = 4096

// Features is the vector the model scores.
type Features struct {
	SizeBytes    int     `json:"size_bytes"`
	Entropy      float64 `json:"entropy"`
	TailEntropy  float64 `json:"tail_entropy"`
	ExecRatio    float64 `json:"exec_ratio"`
	SectionCount int     `json:"section_count"`
	ParseFailed  bool    `json:"parse_failed"`
}

type Model struct {
	Threshold float64

	bias       float64
	wEntropy   float64
	wTail      float64
	wExecRatio float64
	wParseFail float64
}

func NewModel(threshold float64) *Model {
	return &Model{
		Threshold:  threshold,
		bias:       -4.0,
		wEntropy:   0.55,
		wTail:      0.35,
		wExecRatio: 1.2,
		wParseFail: 2.0,
	}
}

// Entropy is the Shannon entropy of raw in bits per byte.
func Entropy(raw []byte) float64 {
	if len(raw) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range raw {
		counts[b]++
	}
	total := float64(len(raw))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func (m *Model) Analyze(raw []byte) Features {
	features := Features{
		SizeBytes: len(raw),
		Entropy:   Entropy(raw),
	}
	tail := raw
	if len(tail) > tailWindow {
		tail = tail[len(tail)-tailWindow:]
	}
	features.TailEntropy = Entropy(tail)
	f, err := pebuild.Parse(raw)
	if err != nil {
		features.ParseFailed = true
		return features
	}
	features.SectionCount = len(f.Sections)
	if len(f.Sections) > 0 {
		executable := 0
		for i := range f.Sections {
			if f.Sections[i].Characteristics&pebuild.IMAGE_SCN_MEM_EXECUTE != 0 {
				executable++
			}
		}
		features.ExecRatio = float64(executable) / float64(len(f.Sections))
	}
	return features
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func (m *Model) Predict(features Features) float64 {
	z := m.bias
	z += m.wEntropy * features.Entropy
	z += m.wTail * features.TailEntropy
	z += m.wExecRatio * features.ExecRatio
	if features.ParseFailed {
		z += m.wParseFail
	}
	return sigmoid(z)
}

// Score satisfies the oracle interface so the model can stand in for a
// remote detector.
func (m *Model) Score(ctx context.Context, raw []byte) (float64, error) {
	return m.Predict(m.Analyze(raw)), nil
}

func (m *Model) Malicious(confidence float64) bool {
	return confidence >= m.Threshold
}
