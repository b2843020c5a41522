package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Binject/debug/pe"
	"github.com/latortuga71/GoEvade/internal/log"
)

// HarvestOptions control which sections get pulled out of the goodware
// folder. Zero values mean: .data sections only, no size floor, no cap.
type HarvestOptions struct {
	SectionNames  []string
	MinSectionLen int
	MaxEntries    int
	MinEntries    int
}

func (o *HarvestOptions) sections() []string {
	if len(o.SectionNames) == 0 {
		return []string{".data"}
	}
	return o.SectionNames
}

func wantSection(name string, wanted []string) bool {
	for _, w := range wanted {
		if name == w {
			return true
		}
	}
	return false
}

// extractSections pulls the raw content of every wanted section out of one
// PE image.
func extractSections(raw []byte, wanted []string, minLen int) ([]Entry, error) {
	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	entries := make([]Entry, 0)
	for _, section := range pf.Sections {
		if !wantSection(section.Name, wanted) {
			continue
		}
		content, err := section.Data()
		if err != nil {
			continue
		}
		if len(content) <= minLen {
			continue
		}
		entries = append(entries, Entry{Content: content, Name: section.Name})
	}
	return entries, nil
}

// HarvestFolder scans a flat folder of benign binaries and collects the
// wanted sections in directory order. Non PE files are skipped. Fails with
// ErrCorpusExhausted when fewer than MinEntries sections survive the
// filters.
func HarvestFolder(folder string, opts HarvestOptions) (*SectionCorpus, error) {
	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("corpus: read folder: %w", err)
	}
	wanted := opts.sections()
	result := &SectionCorpus{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		if opts.MaxEntries > 0 && len(result.Entries) >= opts.MaxEntries {
			break
		}
		path := filepath.Join(folder, dirEntry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Log.Warn().Str("service", "Harvester").Msgf("Skipping unreadable file %s: %v", path, err)
			continue
		}
		found, err := extractSections(raw, wanted, opts.MinSectionLen)
		if err != nil {
			log.Log.Debug().Str("service", "Harvester").Msgf("Skipping non pe file %s", path)
			continue
		}
		for i := range found {
			if opts.MaxEntries > 0 && len(result.Entries) >= opts.MaxEntries {
				break
			}
			found[i].Source = path
			result.Entries = append(result.Entries, found[i])
		}
	}
	if result.Len() == 0 || result.Len() < opts.MinEntries {
		return nil, fmt.Errorf("%w: got %d from %s", ErrCorpusExhausted, result.Len(), folder)
	}
	return result, nil
}

// FromManifest rebuilds a corpus by re-reading every (section, file) pair
// recorded in a manifest, preserving the recorded order.
func FromManifest(path string) (*SectionCorpus, error) {
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, fmt.Errorf("%w: empty manifest %s", ErrCorpusExhausted, path)
	}
	result := &SectionCorpus{Entries: make([]Entry, 0, len(manifest))}
	for _, m := range manifest {
		raw, err := os.ReadFile(m.SourceFile)
		if err != nil {
			return nil, fmt.Errorf("corpus: manifest source %s: %w", m.SourceFile, err)
		}
		pf, err := pe.NewFile(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("corpus: manifest source %s: %w", m.SourceFile, err)
		}
		section := pf.Section(m.SectionName)
		if section == nil {
			pf.Close()
			return nil, fmt.Errorf("corpus: section %q not found in %s", m.SectionName, m.SourceFile)
		}
		content, err := section.Data()
		pf.Close()
		if err != nil {
			return nil, fmt.Errorf("corpus: section %q in %s: %w", m.SectionName, m.SourceFile, err)
		}
		result.Entries = append(result.Entries, Entry{Content: content, Name: m.SectionName, Source: m.SourceFile})
	}
	return result, nil
}

// HarvestFolderCached loads the corpus from a manifest when one exists,
// falling back to a fresh harvest that then writes the manifest.
func HarvestFolderCached(folder, cachePath string, opts HarvestOptions) (*SectionCorpus, error) {
	if cachePath != "" {
		if _, err := os.Stat(cachePath); err == nil {
			result, err := FromManifest(cachePath)
			if err == nil {
				log.Log.Debug().Str("service", "Harvester").Msgf("Loaded %d sections from cache %s", result.Len(), cachePath)
				return result, nil
			}
			log.Log.Warn().Str("service", "Harvester").Msgf("Stale corpus cache %s, reharvesting: %v", cachePath, err)
		}
	}
	result, err := HarvestFolder(folder, opts)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := SaveManifest(cachePath, result.Manifest()); err != nil {
			return nil, err
		}
	}
	return result, nil
}
