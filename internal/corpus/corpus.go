// Package corpus loads benign section contents that the section injection
// strategy splices into a target binary. A corpus is harvested from a folder
// of goodware once and can be cached as a manifest of (section, file) pairs
// so later runs rebuild the exact same population.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrCorpusExhausted = errors.New("corpus: not enough sections harvested")

// Entry is one benign section, kept with its provenance.
type Entry struct {
	Content []byte
	Name    string
	Source  string
}

type SectionCorpus struct {
	Entries []Entry
}

func (c *SectionCorpus) Len() int {
	return len(c.Entries)
}

func (c *SectionCorpus) TotalBytes() int {
	total := 0
	for i := range c.Entries {
		total += len(c.Entries[i].Content)
	}
	return total
}

// ManifestEntry records where an entry came from so the corpus can be
// rebuilt without rescanning the whole folder.
type ManifestEntry struct {
	SectionName string `json:"section_name"`
	SourceFile  string `json:"source_file"`
}

func (c *SectionCorpus) Manifest() []ManifestEntry {
	entries := make([]ManifestEntry, 0, len(c.Entries))
	for i := range c.Entries {
		entries = append(entries, ManifestEntry{SectionName: c.Entries[i].Name, SourceFile: c.Entries[i].Source})
	}
	return entries
}

// SaveManifest writes the manifest atomically, temp file then rename, so a
// crashed harvest never leaves a half written cache behind.
func SaveManifest(path string, entries []ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", " ")
	if err != nil {
		return fmt.Errorf("corpus: marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("corpus: write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("corpus: rename manifest: %w", err)
	}
	return nil
}

func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read manifest: %w", err)
	}
	entries := make([]ManifestEntry, 0)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corpus: parse manifest: %w", err)
	}
	return entries, nil
}
