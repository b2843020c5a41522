package oracle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// ExecScorer shells out to an external scanner for every score. The command
// line is split with shell quoting rules; a "{}" argument is replaced by the
// path of a temp file holding the candidate binary, otherwise the path is
// appended as the final argument. The command must print a confidence in
// [0,1] on stdout.
type ExecScorer struct {
	argv []string
}

func NewExecScorer(command string) (*ExecScorer, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse scanner command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("oracle: empty scanner command")
	}
	return &ExecScorer{argv: argv}, nil
}

func (s *ExecScorer) Score(ctx context.Context, binary []byte) (float64, error) {
	tmp, err := os.CreateTemp("", "goevade-sample-*.bin")
	if err != nil {
		return 0, fmt.Errorf("oracle: temp sample: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(binary); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("oracle: write sample: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("oracle: close sample: %w", err)
	}

	argv := make([]string, 0, len(s.argv)+1)
	substituted := false
	for _, arg := range s.argv {
		if arg == "{}" {
			argv = append(argv, tmp.Name())
			substituted = true
			continue
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, tmp.Name())
	}

	output, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return 0, fmt.Errorf("oracle: scanner command: %w", err)
	}
	confidence, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("oracle: parse scanner output %q: %w", strings.TrimSpace(string(output)), err)
	}
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	return confidence, nil
}
