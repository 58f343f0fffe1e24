package runner

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hydrascrape/hydrascrape/internal/router"
	"github.com/hydrascrape/hydrascrape/internal/store"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

// ShardRunner processes one shard's jobs with bounded fan-out,
// appending a record and advancing the checkpoint after every URL.
// A single URL can never fail the shard; the router guarantees a
// record for every job.
type ShardRunner struct {
	RunID       string
	Router      *router.Router
	Results     *store.ResultStore
	Checkpoints *store.CheckpointStore
	Concurrency int
	Logger      *slog.Logger

	// Stop, when set, is consulted before each job is launched; once it
	// returns true no further jobs start. Used for the target-success
	// early exit. Jobs already in flight finish normally.
	Stop func() bool
}

// Run executes the shard, honoring any prior checkpoint: completed
// shards are skipped outright, interrupted ones refetch only the URLs
// with no persisted record, wherever they sit in the shard. Returns
// the records produced in this invocation.
func (r *ShardRunner) Run(ctx context.Context, shardID int, jobs []types.Job) ([]types.URLRecord, error) {
	logger := r.Logger.With("component", "shard_runner", "shard_id", shardID)

	cp, err := r.Checkpoints.Load(r.RunID, shardID)
	if err != nil {
		return nil, err
	}
	pending := jobs
	done := 0
	if cp != nil {
		switch cp.Status {
		case types.ShardCompleted:
			logger.Info("shard already completed, skipping", "urls_total", cp.URLsTotal)
			return nil, nil
		case types.ShardInProgress, types.ShardFailed:
			// The stats file, not the checkpoint counter, decides what
			// still needs fetching: an interrupted run finishes jobs out
			// of order, so the counter cannot say which ones landed.
			pending, done, err = r.pendingJobs(shardID, jobs)
			if err != nil {
				return nil, err
			}
			if done > 0 {
				logger.Info("resuming shard", "urls_done", done, "urls_total", len(jobs))
			}
		}
	}

	cp = &types.ShardCheckpoint{
		RunID:     r.RunID,
		ShardID:   shardID,
		URLsTotal: len(jobs),
		URLsDone:  done,
		Status:    types.ShardInProgress,
	}
	if err := r.saveCheckpoint(cp); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		records []types.URLRecord
		stopped bool
	)
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, job := range pending {
		if gctx.Err() != nil {
			break
		}
		if r.Stop != nil && r.Stop() {
			stopped = true
			break
		}
		job := job
		g.Go(func() error {
			rec := r.Router.RouteAndFetch(gctx, job)

			mu.Lock()
			defer mu.Unlock()
			if err := r.Results.Append(rec); err != nil {
				return err
			}
			records = append(records, rec)
			cp.URLsDone++
			if err := r.saveCheckpoint(cp); err != nil {
				logger.Warn("checkpoint write failed", "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cp.Status = types.ShardFailed
		r.saveCheckpoint(cp)
		return records, err
	}

	if stopped || ctx.Err() != nil {
		// Leave the checkpoint in_progress so a rerun picks up here.
		r.saveCheckpoint(cp)
		logger.Info("shard stopped early", "urls_done", cp.URLsDone)
		return records, ctx.Err()
	}

	cp.Status = types.ShardCompleted
	if err := r.saveCheckpoint(cp); err != nil {
		return records, err
	}
	logger.Info("shard completed", "urls_done", cp.URLsDone)
	return records, nil
}

// saveCheckpoint flushes buffered records before persisting the
// counter. The checkpoint must never claim more than what is on disk:
// a crash may then refetch a URL, but it can never lose one.
func (r *ShardRunner) saveCheckpoint(cp *types.ShardCheckpoint) error {
	if err := r.Results.Flush(); err != nil {
		return err
	}
	return r.Checkpoints.Save(cp)
}

// pendingJobs diffs the shard's jobs against the records already on
// disk, matching by URL (a multiset, in case a URL repeats within the
// shard). Returns the jobs still to fetch and how many are done.
func (r *ShardRunner) pendingJobs(shardID int, jobs []types.Job) ([]types.Job, int, error) {
	persisted, err := r.Results.ReadAll()
	if err != nil {
		return nil, 0, err
	}
	recorded := make(map[string]int)
	for _, rec := range persisted {
		if rec.ShardIndex == shardID {
			recorded[rec.URL]++
		}
	}

	pending := make([]types.Job, 0, len(jobs))
	done := 0
	for _, job := range jobs {
		if recorded[job.URL] > 0 {
			recorded[job.URL]--
			done++
			continue
		}
		pending = append(pending, job)
	}
	return pending, done, nil
}
