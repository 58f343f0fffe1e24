package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/fetch"
	"github.com/hydrascrape/hydrascrape/internal/metrics"
	"github.com/hydrascrape/hydrascrape/internal/proxy"
	"github.com/hydrascrape/hydrascrape/internal/robots"
	"github.com/hydrascrape/hydrascrape/internal/router"
	"github.com/hydrascrape/hydrascrape/internal/schedule"
	"github.com/hydrascrape/hydrascrape/internal/stealth"
	"github.com/hydrascrape/hydrascrape/internal/store"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

// guardrailBadRate is the per-shard CAPTCHA+error+timeout share that
// trips the batch guardrail.
const guardrailBadRate = 0.4

// searchEngineHosts get a per-host limit of 1; they are the quickest to
// escalate from rate limiting to blocking.
var searchEngineHosts = []string{
	"www.google.com",
	"google.com",
	"www.bing.com",
	"bing.com",
	"duckduckgo.com",
	"search.yahoo.com",
	"www.baidu.com",
	"yandex.com",
}

// Options are the per-invocation knobs on top of the config.
type Options struct {
	RunID string

	// MaxURLs caps the input; 0 means no cap.
	MaxURLs int

	// TargetSuccess stops launching new jobs once this many successes
	// are recorded; 0 means run everything.
	TargetSuccess int

	// HTTPOnly disables the browser fallback entirely.
	HTTPOnly bool
}

// BatchResult is what a finished (or aborted) batch hands back.
type BatchResult struct {
	Summary     *types.RunSummary
	SummaryPath string
	StatsPath   string
}

// BatchRunner owns the collaborators shared by every shard of a run.
type BatchRunner struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	sched    *schedule.Scheduler
	proxyCfg *proxy.Config
	httpF    *fetch.HTTPFetcher
	robots   *robots.Cache
	sessions *stealth.SessionStore
	results  *store.ResultStore
	cps      *store.CheckpointStore

	successes atomic.Int64
}

// NewBatchRunner wires the shared collaborators: scheduler, proxy,
// HTTP fetcher with its robots cache, session store, and the result
// and checkpoint stores. Browser fetchers are created per shard.
func NewBatchRunner(cfg *config.Config, opts Options, logger *slog.Logger) (*BatchRunner, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("%w: run id required", types.ErrMissingInput)
	}

	var proxyCfg *proxy.Config
	if cfg.Proxy.ConfigPath != "" {
		pc, err := proxy.LoadFile(cfg.Proxy.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load proxy config: %w", err)
		}
		proxyCfg = pc
		logger.Info("proxy configured", "proxy", proxyCfg.String())
	}

	perHost := make(map[string]int, len(searchEngineHosts))
	for _, host := range searchEngineHosts {
		perHost[host] = 1
	}
	sched := schedule.New(schedule.Config{
		GlobalLimit:   cfg.HTTP.MaxConcurrency,
		PerHostLimits: perHost,
	}, logger)

	httpF, err := fetch.NewHTTPFetcher(&cfg.HTTP, proxyCfg, nil, sched, logger)
	if err != nil {
		return nil, fmt.Errorf("build http fetcher: %w", err)
	}
	rc := robots.New(httpF.Client(), fetch.RobotsUserAgent(), logger)
	httpF.SetRobots(rc)

	sessions, err := stealth.NewSessionStore(cfg.SessionsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	suffix := ""
	if stealth.Mode(cfg.Stealth.Mode).AtLeast(stealth.ModeModerate) && !opts.HTTPOnly {
		suffix = "_stealth"
	}
	results, err := store.NewResultStore(cfg.DataDir, opts.RunID, suffix, logger)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	cps, err := store.NewCheckpointStore(cfg.CheckpointsDir(), logger)
	if err != nil {
		results.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	return &BatchRunner{
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With("component", "batch_runner", "run_id", opts.RunID),
		sched:    sched,
		proxyCfg: proxyCfg,
		httpF:    httpF,
		robots:   rc,
		sessions: sessions,
		results:  results,
		cps:      cps,
	}, nil
}

// Run processes every shard of the input, then aggregates and writes
// the summary. A guardrail watches per-shard block rates: one bad
// shard halves global concurrency, two in a row abort the batch with
// a partial summary.
func (b *BatchRunner) Run(ctx context.Context, inputs []Input) (*BatchResult, error) {
	defer b.httpF.Close()
	defer b.results.Close()

	if b.opts.MaxURLs > 0 && len(inputs) > b.opts.MaxURLs {
		b.logger.Info("input capped", "given", len(inputs), "max_urls", b.opts.MaxURLs)
		inputs = inputs[:b.opts.MaxURLs]
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no urls to process", types.ErrMissingInput)
	}

	shards := SplitShards(inputs, b.cfg.Shard.Size)
	b.logger.Info("batch starting",
		"urls", len(inputs),
		"shards", len(shards),
		"shard_size", b.cfg.Shard.Size,
		"global_concurrency", b.sched.GlobalLimit(),
	)

	consecutiveBad := 0
	aborted := false
	abortedNote := ""

	for shardID, jobs := range shards {
		if ctx.Err() != nil {
			aborted = true
			abortedNote = "run cancelled"
			break
		}
		if b.targetReached() {
			b.logger.Info("target successes reached, stopping",
				"target", b.opts.TargetSuccess)
			break
		}

		records, err := b.runShard(ctx, shardID, jobs)
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}

		badRate := metrics.BadRate(records)
		if badRate > guardrailBadRate {
			consecutiveBad++
			if consecutiveBad >= 2 {
				aborted = true
				abortedNote = fmt.Sprintf(
					"aborted after shard %d: block rate %.0f%% in two consecutive shards",
					shardID, badRate*100)
				b.logger.Error("guardrail abort", "shard_id", shardID, "bad_rate", badRate)
				break
			}
			newLimit := b.sched.HalveGlobal()
			b.logger.Warn("guardrail tripped, halving global concurrency",
				"shard_id", shardID,
				"bad_rate", badRate,
				"global_concurrency", newLimit,
			)
		} else {
			consecutiveBad = 0
		}
	}

	return b.finish(len(inputs), aborted, abortedNote)
}

// runShard spins up a fresh browser for the shard, runs it, and tears
// the browser down. A browser that fails to launch degrades the shard
// to HTTP-only instead of failing the run.
func (b *BatchRunner) runShard(ctx context.Context, shardID int, jobs []types.Job) ([]types.URLRecord, error) {
	var browserF fetch.Fetcher
	var closeBrowser func()

	if !b.opts.HTTPOnly {
		stealthCfg := b.stealthConfig()
		bf, err := fetch.NewBrowserFetcher(
			&b.cfg.Browser, stealthCfg, b.sessions, b.proxyCfg,
			b.robots, b.sched, b.cfg.HTTP.MaxBodyBytes, b.logger,
		)
		if err != nil {
			b.logger.Warn("browser unavailable, shard runs http-only",
				"shard_id", shardID, "error", err)
		} else {
			browserF = bf
			closeBrowser = func() {
				if err := bf.Close(); err != nil {
					b.logger.Warn("browser close failed", "error", err)
				}
			}
		}
	}
	if closeBrowser != nil {
		defer closeBrowser()
	}

	rt := router.New(b.httpF, browserF, b.sched, b.logger)
	sr := &ShardRunner{
		RunID:       b.opts.RunID,
		Router:      rt,
		Results:     b.results,
		Checkpoints: b.cps,
		Concurrency: b.cfg.HTTP.MaxConcurrency,
		Logger:      b.logger,
		Stop:        b.stopFunc(),
	}
	records, err := sr.Run(ctx, shardID, jobs)

	for _, rec := range records {
		if rec.Status == types.StatusSuccess {
			b.successes.Add(1)
		}
	}
	return records, err
}

func (b *BatchRunner) stealthConfig() stealth.Config {
	cfg := stealth.Config{
		Mode:           stealth.Mode(b.cfg.Stealth.Mode),
		SessionID:      b.cfg.Stealth.SessionID,
		NetworkProfile: b.cfg.Stealth.NetworkProfile,
		BlockStyles:    b.cfg.Browser.BlockStyles,
	}
	if b.proxyCfg != nil {
		cfg.Region = b.proxyCfg.Region
	}
	return cfg
}

func (b *BatchRunner) targetReached() bool {
	return b.opts.TargetSuccess > 0 &&
		b.successes.Load() >= int64(b.opts.TargetSuccess)
}

func (b *BatchRunner) stopFunc() func() bool {
	if b.opts.TargetSuccess == 0 {
		return nil
	}
	return b.targetReached
}

// finish aggregates everything written so far and persists the
// summary, marking it partial when the run was aborted.
func (b *BatchRunner) finish(totalURLs int, aborted bool, note string) (*BatchResult, error) {
	records, err := b.results.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read records for summary: %w", err)
	}

	summary := metrics.ComputeRunSummary(records, totalURLs)
	summary.Aborted = aborted
	summary.AbortedNote = note

	path, err := b.results.WriteSummary(b.opts.RunID, summary)
	if err != nil {
		return nil, err
	}

	b.logger.Info("batch finished",
		"stats_rows", summary.StatsRows,
		"success_rate", summary.SuccessRate,
		"httpx_share", summary.HTTPShare,
		"aborted", aborted,
	)
	result := &BatchResult{
		Summary:     summary,
		SummaryPath: path,
		StatsPath:   b.results.StatsPath(),
	}
	if aborted {
		return result, types.ErrRunAborted
	}
	return result, nil
}
