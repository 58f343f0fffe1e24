// Package runner drives a batch: input loading, sharding, per-shard
// fan-out with checkpointing, and the batch-level guardrail.
package runner

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// Input is one loaded URL, optionally flagged as JavaScript-heavy so
// the router skips the HTTP stage for it.
type Input struct {
	URL     string
	Dynamic bool
}

// InputsFromURLs wraps plain URLs as inputs without hints.
func InputsFromURLs(urls []string) []Input {
	inputs := make([]Input, len(urls))
	for i, u := range urls {
		inputs[i] = Input{URL: u}
	}
	return inputs
}

// LoadURLs reads the input file: one URL per line, or a CSV (optionally
// with a "url" header) when the file ends in .csv. A second CSV column
// marks dynamic pages ("1", "true", "yes", "dynamic"). Blank lines are
// skipped; surrounding whitespace and a leading BOM are stripped. No
// validation happens here; bad URLs still get a record downstream.
func LoadURLs(path string) ([]Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return readCSV(f)
	}
	return readLines(f)
}

func readLines(f *os.File) ([]Input, error) {
	var inputs []Input
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if line == "" {
			continue
		}
		inputs = append(inputs, Input{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return inputs, nil
}

func readCSV(f *os.File) ([]Input, error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv input: %w", err)
	}

	var inputs []Input
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\ufeff")
			if strings.EqualFold(cell, "url") {
				continue
			}
		}
		if cell == "" {
			continue
		}
		in := Input{URL: cell}
		if len(row) > 1 {
			in.Dynamic = isDynamicMarker(row[1])
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func isDynamicMarker(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "1", "true", "yes", "y", "dynamic":
		return true
	}
	return false
}

// SplitShards turns the inputs into jobs grouped by shard, stamping
// each job with its shard coordinates.
func SplitShards(inputs []Input, shardSize int) [][]types.Job {
	if shardSize < 1 {
		shardSize = 1
	}
	var shards [][]types.Job
	for start := 0; start < len(inputs); start += shardSize {
		end := start + shardSize
		if end > len(inputs) {
			end = len(inputs)
		}
		shard := make([]types.Job, 0, end-start)
		for i, in := range inputs[start:end] {
			shard = append(shard, types.Job{
				URL:          in.URL,
				ShardIndex:   len(shards),
				IndexInShard: i,
				DynamicHint:  in.Dynamic,
			})
		}
		shards = append(shards, shard)
	}
	return shards
}
