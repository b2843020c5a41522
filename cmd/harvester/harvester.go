package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/internal/log"
)

func main() {
	parser := argparse.NewParser("harvester", "Harvest benign PE sections into a reusable corpus manifest.")
	folder := parser.String("f", "folder", &argparse.Options{Required: true, Help: "Folder of benign PE files to harvest"})
	manifest := parser.String("m", "manifest", &argparse.Options{Help: "Manifest path to cache the harvest under"})
	sections := parser.StringList("s", "section", &argparse.Options{Help: "Section name to harvest, repeatable. Defaults to .data"})
	minSize := parser.Int("", "min-size", &argparse.Options{Help: "Skip harvested sections smaller than this many bytes"})
	maxEntries := parser.Int("", "max-entries", &argparse.Options{Help: "Stop harvesting after this many sections"})
	debug := parser.Flag("d", "debug", &argparse.Options{Help: "Sets log level to debug"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	log.SetLevelInfo()
	if *debug {
		log.SetLevelDebug()
	}
	opts := corpus.HarvestOptions{
		SectionNames:  *sections,
		MinSectionLen: *minSize,
		MaxEntries:    *maxEntries,
	}
	var harvested *corpus.SectionCorpus
	if *manifest != "" {
		harvested, err = corpus.HarvestFolderCached(*folder, *manifest, opts)
	} else {
		harvested, err = corpus.HarvestFolder(*folder, opts)
	}
	if err != nil {
		log.Log.Fatal().Msgf("Harvest failed: %s", err.Error())
	}
	for _, entry := range harvested.Manifest() {
		log.Log.Debug().Msgf("Harvested %s from %s", entry.SectionName, entry.SourceFile)
	}
	log.Log.Info().Msgf("Harvested %d sections totaling %d bytes.", harvested.Len(), harvested.TotalBytes())
	if *manifest != "" {
		log.Log.Info().Msgf("Manifest cached at %s.", *manifest)
	}
}
