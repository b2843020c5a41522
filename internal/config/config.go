// Package config loads YAML run profiles and builds the attack pieces they
// describe. A profile fully specifies one evasion run: which oracle to query,
// which strategy and sampler to drive, where the section corpus comes from
// and where the outputs land.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/latortuga71/GoEvade/internal/attack"
	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/internal/detector"
	"github.com/latortuga71/GoEvade/internal/oracle"
	"github.com/latortuga71/GoEvade/internal/search"
)

type OracleConfig struct {
	Kind           string `yaml:"kind"`
	Endpoint       string `yaml:"endpoint"`
	Command        string `yaml:"command"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AttackConfig struct {
	Strategy       string  `yaml:"strategy"`
	Sampler        string  `yaml:"sampler"`
	Population     int     `yaml:"population"`
	Iterations     int     `yaml:"iterations"`
	Penalty        float64 `yaml:"penalty"`
	Seed           int64   `yaml:"seed"`
	Threshold      float64 `yaml:"threshold"`
	HardLabel      bool    `yaml:"hard_label"`
	Loss           string  `yaml:"loss"`
	Workers        int     `yaml:"workers"`
	PaddingBytes   int     `yaml:"padding_bytes"`
	OptimizeAllDOS bool    `yaml:"optimize_all_dos"`
	Mode           string  `yaml:"mode"`
}

type CorpusConfig struct {
	Folder     string   `yaml:"folder"`
	Manifest   string   `yaml:"manifest"`
	Sections   []string `yaml:"sections"`
	MinSize    int      `yaml:"min_size"`
	MaxEntries int      `yaml:"max_entries"`
}

type OutputConfig struct {
	Binary string `yaml:"binary"`
	Report string `yaml:"report"`
}

type Profile struct {
	Oracle OracleConfig `yaml:"oracle"`
	Attack AttackConfig `yaml:"attack"`
	Corpus CorpusConfig `yaml:"corpus"`
	Output OutputConfig `yaml:"output"`
}

func Default() *Profile {
	return &Profile{
		Oracle: OracleConfig{
			Kind:           "demo",
			TimeoutSeconds: 60,
		},
		Attack: AttackConfig{
			Strategy:     "padding",
			Sampler:      "evolution",
			Population:   16,
			Iterations:   50,
			Threshold:    0.5,
			Loss:         "l1",
			PaddingBytes: 1024,
			Mode:         "append",
		},
		Corpus: CorpusConfig{
			Sections: []string{".data"},
		},
		Output: OutputConfig{
			Binary: "adversarial.bin",
			Report: "report.json",
		},
	}
}

// Load reads a YAML profile over the defaults and validates it.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	profile := Default()
	if err := yaml.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the enumerated fields. Numeric bounds are enforced by
// attack.NewProblem so the engine stays the single authority on them.
func (p *Profile) Validate() error {
	switch p.Oracle.Kind {
	case "http", "ws":
		if p.Oracle.Endpoint == "" {
			return fmt.Errorf("config: oracle kind %s needs an endpoint", p.Oracle.Kind)
		}
	case "exec":
		if p.Oracle.Command == "" {
			return fmt.Errorf("config: exec oracle needs a command")
		}
	case "demo":
	default:
		return fmt.Errorf("config: unknown oracle kind %q", p.Oracle.Kind)
	}
	switch p.Attack.Strategy {
	case "padding", "header", "sections":
	default:
		return fmt.Errorf("config: unknown strategy %q", p.Attack.Strategy)
	}
	switch p.Attack.Sampler {
	case "random", "evolution":
	default:
		return fmt.Errorf("config: unknown sampler %q", p.Attack.Sampler)
	}
	switch p.Attack.Mode {
	case "append", "registered":
	default:
		return fmt.Errorf("config: unknown section mode %q", p.Attack.Mode)
	}
	if p.Attack.Strategy == "sections" && p.Corpus.Folder == "" && p.Corpus.Manifest == "" {
		return fmt.Errorf("config: sections strategy needs a corpus folder or manifest")
	}
	return nil
}

// NewScorer builds the oracle the profile points at.
func (p *Profile) NewScorer() (oracle.Scorer, error) {
	switch p.Oracle.Kind {
	case "http":
		return oracle.NewHTTPScorer(p.Oracle.Endpoint, p.Oracle.Secret, time.Duration(p.Oracle.TimeoutSeconds)*time.Second), nil
	case "ws":
		return oracle.NewWSScorer(p.Oracle.Endpoint, p.Oracle.Secret), nil
	case "exec":
		return oracle.NewExecScorer(p.Oracle.Command)
	case "demo":
		return detector.NewModel(p.Attack.Threshold), nil
	default:
		return nil, fmt.Errorf("config: unknown oracle kind %q", p.Oracle.Kind)
	}
}

// LoadCorpus materializes the section corpus named by the profile. A folder
// plus manifest harvests with the manifest as cache, a folder alone harvests
// fresh, a manifest alone re-reads the recorded sections.
func (p *Profile) LoadCorpus() (*corpus.SectionCorpus, error) {
	opts := corpus.HarvestOptions{
		SectionNames:  p.Corpus.Sections,
		MinSectionLen: p.Corpus.MinSize,
		MaxEntries:    p.Corpus.MaxEntries,
	}
	switch {
	case p.Corpus.Folder != "" && p.Corpus.Manifest != "":
		return corpus.HarvestFolderCached(p.Corpus.Folder, p.Corpus.Manifest, opts)
	case p.Corpus.Folder != "":
		return corpus.HarvestFolder(p.Corpus.Folder, opts)
	case p.Corpus.Manifest != "":
		return corpus.FromManifest(p.Corpus.Manifest)
	default:
		return nil, fmt.Errorf("config: no corpus folder or manifest configured")
	}
}

// NewStrategy builds the manipulation strategy. The corpus argument is only
// consulted for the sections strategy and may be nil otherwise.
func (p *Profile) NewStrategy(c *corpus.SectionCorpus) (attack.Strategy, error) {
	switch p.Attack.Strategy {
	case "padding":
		return attack.NewPadding(p.Attack.PaddingBytes)
	case "header":
		return attack.NewHeader(p.Attack.OptimizeAllDOS), nil
	case "sections":
		mode := attack.RawAppend
		if p.Attack.Mode == "registered" {
			mode = attack.Registered
		}
		return attack.NewSections(c, mode)
	default:
		return nil, fmt.Errorf("config: unknown strategy %q", p.Attack.Strategy)
	}
}

func (p *Profile) NewSampler() search.Sampler {
	if p.Attack.Sampler == "random" {
		return search.NewRandomSampler()
	}
	return search.NewEvolutionSampler()
}

func (p *Profile) EngineConfig(debug bool) attack.Config {
	return attack.Config{
		PopulationSize:     p.Attack.Population,
		Iterations:         p.Attack.Iterations,
		PenaltyRegularizer: p.Attack.Penalty,
		Seed:               p.Attack.Seed,
		Debug:              debug,
		HardLabel:          p.Attack.HardLabel,
		Threshold:          p.Attack.Threshold,
		Loss:               attack.LossKind(p.Attack.Loss),
		Workers:            p.Attack.Workers,
	}
}
