package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/latortuga71/GoEvade/internal/attack"
	"github.com/latortuga71/GoEvade/internal/config"
	"github.com/latortuga71/GoEvade/internal/corpus"
	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/pkg/pebuild"
)

var Profile *config.Profile
var TargetPath string
var TargetBinary []byte
var SectionCorpus *corpus.SectionCorpus
var LastReport *data.RunReport
var LastBest *attack.Individual

func init() {
	Profile = config.Default()
}

func promptLine(c *ishell.Context, prompt string) string {
	c.Print(prompt)
	return strings.TrimSpace(c.ReadLine())
}

func promptInt(c *ishell.Context, prompt string, current int) int {
	line := promptLine(c, fmt.Sprintf("%s [%d]: ", prompt, current))
	if line == "" {
		return current
	}
	value, err := strconv.Atoi(line)
	if err != nil {
		c.Printf("Keeping %d: %s\n", current, err.Error())
		return current
	}
	return value
}

func promptFloat(c *ishell.Context, prompt string, current float64) float64 {
	line := promptLine(c, fmt.Sprintf("%s [%f]: ", prompt, current))
	if line == "" {
		return current
	}
	value, err := strconv.ParseFloat(line, 64)
	if err != nil {
		c.Printf("Keeping %f: %s\n", current, err.Error())
		return current
	}
	return value
}

func runProblem(c *ishell.Context) {
	if TargetBinary == nil {
		c.Println("No target set. Run target first.")
		return
	}
	if err := Profile.Validate(); err != nil {
		c.Printf("%s", err.Error())
		return
	}
	if Profile.Attack.Strategy == "sections" && SectionCorpus == nil {
		loaded, err := Profile.LoadCorpus()
		if err != nil {
			c.Printf("%s", err.Error())
			return
		}
		SectionCorpus = loaded
		c.Printf("Loaded corpus of %d sections totaling %d bytes.\n", SectionCorpus.Len(), SectionCorpus.TotalBytes())
	}
	scorer, err := Profile.NewScorer()
	if err != nil {
		c.Printf("%s", err.Error())
		return
	}
	strategy, err := Profile.NewStrategy(SectionCorpus)
	if err != nil {
		c.Printf("%s", err.Error())
		return
	}
	problem, err := attack.NewProblem(Profile.EngineConfig(false), strategy, Profile.NewSampler(), scorer)
	if err != nil {
		c.Printf("%s", err.Error())
		return
	}
	if _, err := problem.InitStartingPoint(context.Background(), TargetBinary); err != nil {
		c.Printf("Failed to score the original binary: %s", err.Error())
		return
	}
	c.Printf("Running %d generations of %d candidates against %s.\n", Profile.Attack.Iterations, Profile.Attack.Population, TargetPath)
	if err := problem.Run(context.Background()); err != nil {
		c.Printf("Run stopped early: %s\n", err.Error())
	}
	if closer, ok := scorer.(io.Closer); ok {
		closer.Close()
	}
	LastReport = problem.ExportResults()
	LastBest = problem.Best()
	if LastReport.Evaded {
		c.Printf("Evaded after %d generations. Best confidence %f at generation %d.\n", LastReport.Generations, LastReport.BestConfidence, LastReport.BestGeneration)
		return
	}
	c.Printf("No evasion after %d generations. Best confidence %f.\n", LastReport.Generations, LastReport.BestConfidence)
}

func ConsoleMainLoop() {
	shell := ishell.New()
	shell.Println("GoEvade")
	shell.SetPrompt(">>> ")
	shell.AddCmd(&ishell.Cmd{
		Name: "target",
		Help: "set the binary to perturb",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			path := promptLine(c, "Enter binary path: ")
			raw, err := os.ReadFile(path)
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			TargetPath = path
			TargetBinary = raw
			c.Printf("Loaded %s (%d bytes).\n", path, len(raw))
			if !pebuild.DosHeaderCheck(raw) {
				c.Println("Warning: file has no MZ header.")
				return
			}
			parsed, err := pebuild.Parse(raw)
			if err != nil {
				c.Printf("Warning: %s\n", err.Error())
				return
			}
			c.Printf("Sections: %s\n", strings.Join(parsed.SectionNames(), " "))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "show_profile",
		Help: "show the active profile",
		Func: func(c *ishell.Context) {
			clean, err := json.MarshalIndent(Profile, "", " ")
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			c.Println(string(clean))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "load_profile",
		Help: "load a YAML profile",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			path := promptLine(c, "Enter profile path: ")
			loaded, err := config.Load(path)
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			Profile = loaded
			SectionCorpus = nil
			c.Printf("Loaded profile %s.\n", path)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "strategy",
		Help: "choose the manipulation strategy",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			choice := c.MultiChoice([]string{"padding", "header", "sections"}, "Choose a strategy")
			switch choice {
			case 0:
				Profile.Attack.Strategy = "padding"
				Profile.Attack.PaddingBytes = promptInt(c, "Padding byte budget", Profile.Attack.PaddingBytes)
			case 1:
				Profile.Attack.Strategy = "header"
				dos := c.MultiChoice([]string{"base DOS range", "all DOS bytes"}, "Choose the header range")
				Profile.Attack.OptimizeAllDOS = dos == 1
			case 2:
				Profile.Attack.Strategy = "sections"
				mode := c.MultiChoice([]string{"append", "registered"}, "Choose the injection mode")
				Profile.Attack.Mode = "append"
				if mode == 1 {
					Profile.Attack.Mode = "registered"
				}
			}
			c.Printf("Strategy set to %s.\n", Profile.Attack.Strategy)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "oracle",
		Help: "configure the detector oracle",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			choice := c.MultiChoice([]string{"demo", "http", "ws", "exec"}, "Choose an oracle")
			switch choice {
			case 0:
				Profile.Oracle.Kind = "demo"
			case 1:
				Profile.Oracle.Kind = "http"
				Profile.Oracle.Endpoint = promptLine(c, "Enter endpoint: ")
				Profile.Oracle.Secret = promptLine(c, "Enter shared secret (blank for none): ")
			case 2:
				Profile.Oracle.Kind = "ws"
				Profile.Oracle.Endpoint = promptLine(c, "Enter endpoint: ")
				Profile.Oracle.Secret = promptLine(c, "Enter shared secret (blank for none): ")
			case 3:
				Profile.Oracle.Kind = "exec"
				Profile.Oracle.Command = promptLine(c, "Enter command: ")
			}
			c.Printf("Oracle set to %s.\n", Profile.Oracle.Kind)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "corpus",
		Help: "harvest a benign section corpus",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			Profile.Corpus.Folder = promptLine(c, "Enter folder of benign PE files: ")
			Profile.Corpus.Manifest = promptLine(c, "Enter manifest path (blank to skip caching): ")
			loaded, err := Profile.LoadCorpus()
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			SectionCorpus = loaded
			c.Printf("Loaded corpus of %d sections totaling %d bytes.\n", SectionCorpus.Len(), SectionCorpus.TotalBytes())
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "engine",
		Help: "tune the search engine",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			sampler := c.MultiChoice([]string{"evolution", "random"}, "Choose a sampler")
			Profile.Attack.Sampler = "evolution"
			if sampler == 1 {
				Profile.Attack.Sampler = "random"
			}
			Profile.Attack.Iterations = promptInt(c, "Iterations", Profile.Attack.Iterations)
			Profile.Attack.Population = promptInt(c, "Population", Profile.Attack.Population)
			Profile.Attack.Threshold = promptFloat(c, "Threshold", Profile.Attack.Threshold)
			Profile.Attack.Penalty = promptFloat(c, "Size penalty", Profile.Attack.Penalty)
			Profile.Attack.Seed = int64(promptInt(c, "Seed (0 draws one)", int(Profile.Attack.Seed)))
			Profile.Attack.Workers = promptInt(c, "Workers (0 means unbounded)", Profile.Attack.Workers)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "score",
		Help: "score the target once",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			if TargetBinary == nil {
				c.Println("No target set. Run target first.")
				return
			}
			scorer, err := Profile.NewScorer()
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			confidence, err := scorer.Score(context.Background(), TargetBinary)
			if closer, ok := scorer.(io.Closer); ok {
				closer.Close()
			}
			if err != nil {
				c.Printf("%s", err.Error())
				return
			}
			c.Printf("Confidence %f for %s.\n", confidence, TargetPath)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "run",
		Help: "run the attack against the target",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			runProblem(c)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "history",
		Help: "show the last run generation by generation",
		Func: func(c *ishell.Context) {
			if LastReport == nil {
				c.Println("No run yet.")
				return
			}
			c.Println("generation confidence fitness size")
			for i := range LastReport.ConfidenceHistory {
				c.Printf("%10d %10.6f %12.4f %9d\n", i, LastReport.ConfidenceHistory[i], LastReport.FitnessHistory[i], LastReport.SizeHistory[i])
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "save",
		Help: "save the last run outputs",
		Func: func(c *ishell.Context) {
			defer c.ShowPrompt(true)
			c.ShowPrompt(false)
			if LastReport == nil {
				c.Println("No run yet.")
				return
			}
			reportPath := promptLine(c, fmt.Sprintf("Enter report path [%s]: ", Profile.Output.Report))
			if reportPath == "" {
				reportPath = Profile.Output.Report
			}
			if err := os.WriteFile(reportPath, LastReport.ToBytes(), 0644); err != nil {
				c.Printf("%s", err.Error())
				return
			}
			c.Printf("Wrote report to %s.\n", reportPath)
			if LastBest == nil || LastBest.Binary == nil {
				c.Println("No adversarial binary to save.")
				return
			}
			binaryPath := promptLine(c, fmt.Sprintf("Enter binary path [%s]: ", Profile.Output.Binary))
			if binaryPath == "" {
				binaryPath = Profile.Output.Binary
			}
			if err := os.WriteFile(binaryPath, LastBest.Binary, 0644); err != nil {
				c.Printf("%s", err.Error())
				return
			}
			c.Printf("Wrote adversarial binary to %s (%d bytes).\n", binaryPath, len(LastBest.Binary))
		},
	})
	shell.Run()
}
