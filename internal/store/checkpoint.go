package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// CheckpointStore journals shard progress so an interrupted run can
// resume without re-fetching completed shards. One JSON file per shard
// per run, always written atomically.
type CheckpointStore struct {
	dir    string
	logger *slog.Logger
}

// NewCheckpointStore roots the store at dir, creating it if needed.
func NewCheckpointStore(dir string, logger *slog.Logger) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir, logger: logger.With("component", "checkpoint_store")}, nil
}

// Path returns the checkpoint file location for a shard.
func (c *CheckpointStore) Path(runID string, shardID int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_shard_%d.json", runID, shardID))
}

// Load reads a shard's checkpoint. Missing or corrupt files return
// (nil, nil): the shard simply runs from scratch.
func (c *CheckpointStore) Load(runID string, shardID int) (*types.ShardCheckpoint, error) {
	raw, err := os.ReadFile(c.Path(runID, shardID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp types.ShardCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		c.logger.Warn("checkpoint corrupt, restarting shard",
			"run_id", runID,
			"shard_id", shardID,
		)
		return nil, nil
	}
	return &cp, nil
}

// Save writes the checkpoint atomically, stamping last_updated_at.
func (c *CheckpointStore) Save(cp *types.ShardCheckpoint) error {
	cp.LastUpdatedAt = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return atomicWrite(c.Path(cp.RunID, cp.ShardID), raw)
}
