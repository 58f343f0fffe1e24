// Package store persists run artifacts: the per-URL JSONL stats file,
// the run summary, and shard checkpoints. All full-file writes are
// tmp-then-rename so a crash never leaves a partial JSON behind.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// defaultFlushEvery bounds how many records can be lost to a crash.
const defaultFlushEvery = 100

// ResultStore appends URL records to the run's JSONL file and writes
// the summary. Append is safe for concurrent use; records land one
// JSON object per line.
type ResultStore struct {
	dir        string
	statsPath  string
	flushEvery int
	logger     *slog.Logger

	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	unsynced int
}

// NewResultStore opens (or creates) the stats file for a run under
// dir. The suffix distinguishes run variants sharing a directory, e.g.
// "_stealth"; usually empty.
func NewResultStore(dir, runID, suffix string, logger *slog.Logger) (*ResultStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	statsPath := filepath.Join(dir, fmt.Sprintf("%s_stats%s.jsonl", runID, suffix))

	file, err := os.OpenFile(statsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	return &ResultStore{
		dir:        dir,
		statsPath:  statsPath,
		flushEvery: defaultFlushEvery,
		logger:     logger.With("component", "result_store"),
		file:       file,
		buf:        bufio.NewWriterSize(file, 1<<16),
	}, nil
}

// StatsPath returns the JSONL path for this run.
func (s *ResultStore) StatsPath() string { return s.statsPath }

// Append writes one record as a JSONL line, flushing every N records.
func (s *ResultStore) Append(rec types.URLRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.buf.Write(line); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	s.unsynced++
	if s.unsynced >= s.flushEvery {
		s.unsynced = 0
		return s.buf.Flush()
	}
	return nil
}

// Flush forces buffered records to disk.
func (s *ResultStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsynced = 0
	return s.buf.Flush()
}

// ReadAll loads every record written so far, flushing first. Used by
// the metrics aggregation at end of run.
func (s *ResultStore) ReadAll() ([]types.URLRecord, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return ReadRecords(s.statsPath)
}

// Close flushes and closes the stats file.
func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// WriteSummary writes the run summary atomically next to the stats
// file and returns its path.
func (s *ResultStore) WriteSummary(runID string, summary *types.RunSummary) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_summary.json", runID))
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	if err := atomicWrite(path, raw); err != nil {
		return "", err
	}
	s.logger.Info("run summary written", "path", path)
	return path, nil
}

// ReadRecords parses a JSONL stats file. Unparseable lines are skipped
// rather than failing the whole read; a crash mid-line must not make
// the run's data unusable.
func ReadRecords(path string) ([]types.URLRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	defer f.Close()

	var records []types.URLRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.URLRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// atomicWrite writes data to a temp file in the target's directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	return nil
}
