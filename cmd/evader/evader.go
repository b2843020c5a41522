package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
	"github.com/latortuga71/GoEvade/internal/attack"
	"github.com/latortuga71/GoEvade/internal/config"
	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/internal/log"
)

func main() {
	parser := argparse.NewParser("evader", "Search for a detector evading variant of a PE binary.")
	binaryPath := parser.String("b", "binary", &argparse.Options{Required: true, Help: "Path to the PE binary to perturb"})
	profilePath := parser.String("p", "profile", &argparse.Options{Help: "YAML run profile. Defaults cover a local demo run"})
	oracleKind := parser.Selector("k", "oracle", []string{"demo", "http", "ws", "exec"}, &argparse.Options{Help: "Override the profile oracle kind"})
	endpoint := parser.String("e", "endpoint", &argparse.Options{Help: "Override the oracle endpoint"})
	secret := parser.String("", "secret", &argparse.Options{Help: "Shared secret for remote oracles"})
	strategyName := parser.Selector("s", "strategy", []string{"padding", "header", "sections"}, &argparse.Options{Help: "Override the profile strategy"})
	iterations := parser.Int("i", "iterations", &argparse.Options{Help: "Override the iteration budget"})
	population := parser.Int("n", "population", &argparse.Options{Help: "Override the population size"})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Seed for deterministic runs"})
	outPath := parser.String("o", "out", &argparse.Options{Help: "Where to write the best adversarial binary"})
	reportPath := parser.String("r", "report", &argparse.Options{Help: "Where to write the JSON run report"})
	debug := parser.Flag("d", "debug", &argparse.Options{Help: "Sets log level to debug"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	log.UseConsoleWriter()
	log.SetLevelInfo()
	if *debug {
		log.SetLevelDebug()
	}
	profile := config.Default()
	if *profilePath != "" {
		loaded, err := config.Load(*profilePath)
		if err != nil {
			log.Log.Fatal().Msgf("%s", err.Error())
		}
		profile = loaded
	}
	if *oracleKind != "" {
		profile.Oracle.Kind = *oracleKind
	}
	if *endpoint != "" {
		profile.Oracle.Endpoint = *endpoint
	}
	if *secret != "" {
		profile.Oracle.Secret = *secret
	}
	if *strategyName != "" {
		profile.Attack.Strategy = *strategyName
	}
	if *iterations > 0 {
		profile.Attack.Iterations = *iterations
	}
	if *population > 0 {
		profile.Attack.Population = *population
	}
	if *seed != 0 {
		profile.Attack.Seed = int64(*seed)
	}
	if *outPath != "" {
		profile.Output.Binary = *outPath
	}
	if *reportPath != "" {
		profile.Output.Report = *reportPath
	}
	if err := profile.Validate(); err != nil {
		log.Log.Fatal().Msgf("%s", err.Error())
	}
	original, err := os.ReadFile(*binaryPath)
	if err != nil {
		log.Log.Fatal().Msgf("Failed to read %s: %s", *binaryPath, err.Error())
	}
	scorer, err := profile.NewScorer()
	if err != nil {
		log.Log.Fatal().Msgf("%s", err.Error())
	}
	if closer, ok := scorer.(io.Closer); ok {
		defer closer.Close()
	}
	var sectionCorpus *corpus.SectionCorpus
	if profile.Attack.Strategy == "sections" {
		sectionCorpus, err = profile.LoadCorpus()
		if err != nil {
			log.Log.Fatal().Msgf("%s", err.Error())
		}
		log.Log.Info().Msgf("Loaded corpus of %d sections totaling %d bytes.", sectionCorpus.Len(), sectionCorpus.TotalBytes())
	}
	strategy, err := profile.NewStrategy(sectionCorpus)
	if err != nil {
		log.Log.Fatal().Msgf("%s", err.Error())
	}
	problem, err := attack.NewProblem(profile.EngineConfig(*debug), strategy, profile.NewSampler(), scorer)
	if err != nil {
		log.Log.Fatal().Msgf("%s", err.Error())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if _, err := problem.InitStartingPoint(ctx, original); err != nil {
		log.Log.Fatal().Msgf("Failed to score the original binary: %s", err.Error())
	}
	log.Log.Info().Msgf("Starting run %s against %s with strategy %s.", problem.RunId, *binaryPath, strategy.Name())
	if err := problem.Run(ctx); err != nil {
		log.Log.Error().Msgf("Run stopped early: %s", err.Error())
	}
	report := problem.ExportResults()
	if best := problem.Best(); best != nil && best.Binary != nil {
		if err := os.WriteFile(profile.Output.Binary, best.Binary, 0644); err != nil {
			log.Log.Error().Msgf("Failed to write adversarial binary: %s", err.Error())
		} else {
			log.Log.Info().Msgf("Wrote adversarial binary to %s (%d bytes).", profile.Output.Binary, len(best.Binary))
		}
	} else {
		log.Log.Info().Msg("No candidate beat the baseline, no adversarial binary written.")
	}
	if err := os.WriteFile(profile.Output.Report, report.ToBytes(), 0644); err != nil {
		log.Log.Error().Msgf("Failed to write run report: %s", err.Error())
	} else {
		log.Log.Info().Msgf("Wrote run report to %s.", profile.Output.Report)
	}
	if report.Evaded {
		log.Log.Info().Msgf("Evasion succeeded after %d generations. Best confidence %f at generation %d.", report.Generations, report.BestConfidence, report.BestGeneration)
	} else {
		log.Log.Info().Msgf("Budget exhausted after %d generations without evasion. Best confidence %f.", report.Generations, report.BestConfidence)
	}
}
