// Command hydrascrape runs large URL batches through the hybrid
// HTTP-first, browser-fallback fetch pipeline and writes per-URL JSONL
// records plus a run summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/runner"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

var (
	cfgFile       string
	verbose       bool
	inputPath     string
	runID         string
	dataDir       string
	maxURLs       int
	targetSuccess int
	httpOnly      bool
	stealthMode   string
	sessionID     string
	shardSize     int
	proxyConfig   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hydrascrape",
		Short: "Hybrid batch scraper — fast HTTP with a stealth browser fallback",
		Long: `hydrascrape fetches large URL batches (thousands of URLs) the cheap
way first: a plain HTTP GET with rotated headers. Pages that fail,
time out, come back suspiciously thin, or demand JavaScript are
retried through a stealth-hardened headless browser.

Every URL produces exactly one JSONL record; a run summary with
success rates, method shares, and latency percentiles is written at
the end. Shard checkpoints make interrupted runs resumable.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a URL batch",
		Long: `Load the input URL list, split it into shards, and fetch every URL.
Rerunning with the same --run-id resumes from the shard checkpoints
instead of refetching completed work.`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "URL list file (.txt or single-column .csv); defaults to <data-dir>/urls.txt")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier for output and checkpoint files (default: timestamp)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "output directory for records, summary, checkpoints, sessions")
	cmd.Flags().IntVar(&maxURLs, "max-urls", 0, "cap the number of input URLs (0 = all)")
	cmd.Flags().IntVar(&targetSuccess, "target-success", 0, "stop once this many URLs succeed (0 = run everything)")
	cmd.Flags().BoolVar(&httpOnly, "http-only", false, "disable the browser fallback")
	cmd.Flags().StringVar(&stealthMode, "stealth-mode", "", "stealth intensity: minimal, moderate, aggressive")
	cmd.Flags().StringVar(&sessionID, "session", "", "sticky session id (persists cookies and device profile)")
	cmd.Flags().IntVar(&shardSize, "shard-size", 0, "URLs per shard (clamped to [50,5000])")
	cmd.Flags().StringVar(&proxyConfig, "proxy-config", "", "path to the proxy credentials JSON")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	config.Clamp(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	input := inputPath
	if input == "" {
		input = cfg.URLsPath()
	}
	inputs, err := runner.LoadURLs(input)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: %s is empty", types.ErrMissingInput, input)
	}

	id := runID
	if id == "" {
		id = "run_" + time.Now().UTC().Format("20060102_150405")
	}

	logger.Info("run starting",
		"run_id", id,
		"input", input,
		"urls", len(inputs),
		"env", cfg.Env,
		"http_only", httpOnly,
		"stealth_mode", cfg.Stealth.Mode,
	)

	br, err := runner.NewBatchRunner(cfg, runner.Options{
		RunID:         id,
		MaxURLs:       maxURLs,
		TargetSuccess: targetSuccess,
		HTTPOnly:      httpOnly,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := br.Run(ctx, inputs)
	if result != nil {
		printSummary(result)
	}
	if err != nil {
		if errors.Is(err, types.ErrRunAborted) {
			return fmt.Errorf("run aborted: %s", result.Summary.AbortedNote)
		}
		return err
	}
	return nil
}

// printSummary writes the summary JSON to stdout; logs go to stderr so
// the two streams stay separable.
func printSummary(result *runner.BatchResult) {
	out, err := json.MarshalIndent(result.Summary, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "records: %s\nsummary: %s\n", result.StatsPath, result.SummaryPath)
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hydrascrape %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting the
// effective configuration after env and file merging.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			applyCLIOverrides(cfg)
			config.Clamp(cfg)

			fmt.Printf("Env:                %s\n", cfg.Env)
			fmt.Printf("Data Dir:           %s\n", cfg.DataDir)
			fmt.Printf("\nHTTP:\n")
			fmt.Printf("  Timeout:          %s\n", cfg.HTTP.Timeout())
			fmt.Printf("  Concurrency:      %d\n", cfg.HTTP.MaxConcurrency)
			fmt.Printf("  Max Body:         %d bytes\n", cfg.HTTP.MaxBodyBytes)
			fmt.Printf("  Max Redirects:    %d\n", cfg.HTTP.MaxRedirects)
			fmt.Printf("  Max Retries:      %d\n", cfg.HTTP.MaxRetries)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:         %v\n", cfg.Browser.Headless)
			fmt.Printf("  Concurrency:      %d\n", cfg.Browser.MaxConcurrency)
			fmt.Printf("  Nav Timeout:      %s\n", cfg.Browser.NavTimeout())
			fmt.Printf("  Recycle After:    %d contexts\n", cfg.Browser.RecycleContexts)
			fmt.Printf("\nShard Size:         %d\n", cfg.Shard.Size)
			fmt.Printf("\nStealth:\n")
			fmt.Printf("  Mode:             %s\n", cfg.Stealth.Mode)
			fmt.Printf("  Session:          %s\n", orNone(cfg.Stealth.SessionID))
			fmt.Printf("  Network Profile:  %s\n", orNone(cfg.Stealth.NetworkProfile))
			fmt.Printf("\nProxy Config:       %s\n", orNone(cfg.Proxy.ConfigPath))
			fmt.Printf("Logging:            %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
}

// setupLogger builds the root structured logger. Logs go to stderr;
// stdout is reserved for the summary JSON.
func setupLogger(lc config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if stealthMode != "" {
		cfg.Stealth.Mode = strings.ToLower(stealthMode)
	}
	if sessionID != "" {
		cfg.Stealth.SessionID = sessionID
	}
	if shardSize > 0 {
		cfg.Shard.Size = shardSize
	}
	if proxyConfig != "" {
		cfg.Proxy.ConfigPath = proxyConfig
	}
}

// orNone returns "(none)" for an empty string, for config display.
func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
