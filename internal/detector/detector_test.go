package detector

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/latortuga71/GoEvade/internal/testpe"
)

type entropyTest struct {
	input    []byte
	expected float64
}

var entropyTests = []entropyTest{
	{nil, 0},
	{[]byte{0, 0, 0, 0}, 0},
	{[]byte{0xAA, 0xAA, 0xAA, 0xAA}, 0},
	{[]byte{0, 1}, 1},
	{[]byte{0, 1, 2, 3}, 2},
}

func TestEntropy(t *testing.T) {
	for _, test := range entropyTests {
		got := Entropy(test.input)
		if got != test.expected {
			t.Errorf("Entropy(%v) = %f expected %f", test.input, got, test.expected)
		}
	}
}

func TestEntropyFullRange(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	if got := Entropy(all); got != 8 {
		t.Errorf("Entropy over uniform byte range = %f expected 8", got)
	}
}

func TestScoreBounds(t *testing.T) {
	model := NewModel(0.5)
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 8192)
	rng.Read(random)
	inputs := [][]byte{nil, make([]byte, 1024), random, testpe.Minimal()}
	for _, input := range inputs {
		score, err := model.Score(context.Background(), input)
		if err != nil {
			t.Fatalf("Score failed %v", err)
		}
		if score < 0 || score > 1 {
			t.Errorf("Score %f out of [0,1]", score)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	model := NewModel(0.5)
	raw := testpe.Minimal()
	first, _ := model.Score(context.Background(), raw)
	second, _ := model.Score(context.Background(), raw)
	if first != second {
		t.Errorf("Score not deterministic: %f then %f", first, second)
	}
}

func TestZeroPaddingLowersScore(t *testing.T) {
	model := NewModel(0.5)
	rng := rand.New(rand.NewSource(7))
	noisy := make([]byte, 0x300)
	rng.Read(noisy)
	raw := testpe.Build(
		testpe.Section{Name: ".text", Content: noisy},
		testpe.Section{Name: ".data", Content: noisy},
	)
	padded := append(append([]byte{}, raw...), make([]byte, 64*1024)...)
	base, _ := model.Score(context.Background(), raw)
	after, _ := model.Score(context.Background(), padded)
	if after >= base {
		t.Errorf("Zero padding should lower the score, got %f -> %f", base, after)
	}
}

func TestAnalyzeStructural(t *testing.T) {
	model := NewModel(0.5)
	features := model.Analyze(testpe.Minimal())
	if features.ParseFailed {
		t.Fatalf("ParseFailed on a valid image")
	}
	if features.SectionCount != 2 {
		t.Errorf("SectionCount %d expected 2", features.SectionCount)
	}
	if features.ExecRatio != 0.5 {
		t.Errorf("ExecRatio %f expected 0.5", features.ExecRatio)
	}
	junk := model.Analyze(bytes.Repeat([]byte{0x90}, 128))
	if !junk.ParseFailed {
		t.Errorf("ParseFailed false for junk input")
	}
}

func TestMalicious(t *testing.T) {
	model := NewModel(0.5)
	if !model.Malicious(0.5) {
		t.Errorf("Score at threshold should be malicious")
	}
	if model.Malicious(0.49) {
		t.Errorf("Score under threshold should not be malicious")
	}
}
