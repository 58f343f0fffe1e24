// Package hydrascrape is the embedding API: run a URL batch through
// the hybrid fetch pipeline without going through the CLI.
//
// Example usage:
//
//	result, err := hydrascrape.Run(ctx, urls, hydrascrape.Options{
//	    DataDir: "./data",
//	    RunID:   "nightly",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("success rate: %.2f\n", result.Summary.SuccessRate)
package hydrascrape

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/runner"
)

// Options configures an embedded batch run. Zero values fall back to
// the same defaults the CLI uses.
type Options struct {
	// ConfigPath optionally points at a YAML config file; env variables
	// still apply on top.
	ConfigPath string

	// DataDir overrides where records, checkpoints, and sessions live.
	DataDir string

	// RunID names the run's output files; empty generates a timestamp id.
	// Reusing an id resumes from its checkpoints.
	RunID string

	// MaxURLs caps the input; 0 processes everything.
	MaxURLs int

	// TargetSuccess stops launching jobs after this many successes.
	TargetSuccess int

	// HTTPOnly disables the browser fallback.
	HTTPOnly bool

	// Logger receives structured logs; nil discards them.
	Logger *slog.Logger
}

// Result re-exports the batch outcome.
type Result = runner.BatchResult

// Run processes the URLs and returns the summary. The error is
// types.ErrRunAborted when the guardrail cut the run short; the result
// then still carries the partial summary.
func Run(ctx context.Context, urls []string, opts Options) (*Result, error) {
	return runWithInputs(ctx, runner.InputsFromURLs(urls), opts)
}

// RunFile loads the input file (.txt or .csv, where a second CSV
// column can flag dynamic pages) and runs the batch.
func RunFile(ctx context.Context, inputPath string, opts Options) (*Result, error) {
	inputs, err := runner.LoadURLs(inputPath)
	if err != nil {
		return nil, err
	}
	return runWithInputs(ctx, inputs, opts)
}

func runWithInputs(ctx context.Context, inputs []runner.Input, opts Options) (*Result, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	config.Clamp(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := opts.RunID
	if id == "" {
		id = "run_" + time.Now().UTC().Format("20060102_150405")
	}

	br, err := runner.NewBatchRunner(cfg, runner.Options{
		RunID:         id,
		MaxURLs:       opts.MaxURLs,
		TargetSuccess: opts.TargetSuccess,
		HTTPOnly:      opts.HTTPOnly,
	}, logger)
	if err != nil {
		return nil, err
	}
	return br.Run(ctx, inputs)
}
