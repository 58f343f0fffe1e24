package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

func batchConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.TimeoutSeconds = 5
	cfg.HTTP.MaxConcurrency = 8
	cfg.HTTP.MaxRetries = 0
	cfg.Shard.Size = 3
	return cfg
}

func pageHandler(t *testing.T) http.Handler {
	t.Helper()
	body := "<html><body>" + strings.Repeat("plenty of content here ", 100) + "</body></html>"
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/blocked/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func serverInputs(base, path string, n int) []Input {
	inputs := make([]Input, n)
	for i := range inputs {
		inputs[i] = Input{URL: fmt.Sprintf("%s/%s/%d", base, path, i)}
	}
	return inputs
}

func TestBatchHappyPath(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t))
	defer srv.Close()

	cfg := batchConfig(t)
	br, err := NewBatchRunner(cfg, Options{RunID: "happy", HTTPOnly: true}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	result, err := br.Run(context.Background(), serverInputs(srv.URL, "page", 7))
	if err != nil {
		t.Fatal(err)
	}

	s := result.Summary
	if s.TotalURLs != 7 || s.StatsRows != 7 {
		t.Fatalf("totals = %d/%d", s.TotalURLs, s.StatsRows)
	}
	if s.SuccessRate != 1.0 {
		t.Errorf("success_rate = %v", s.SuccessRate)
	}
	if s.HTTPShare != 1.0 || s.BrowserShare != 0 {
		t.Errorf("shares = %v/%v", s.HTTPShare, s.BrowserShare)
	}
	if s.Aborted {
		t.Error("clean run marked aborted")
	}
	if _, err := os.Stat(result.SummaryPath); err != nil {
		t.Errorf("summary file missing: %v", err)
	}
	if _, err := os.Stat(result.StatsPath); err != nil {
		t.Errorf("stats file missing: %v", err)
	}
}

func TestBatchMaxURLs(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t))
	defer srv.Close()

	cfg := batchConfig(t)
	br, err := NewBatchRunner(cfg, Options{RunID: "capped", HTTPOnly: true, MaxURLs: 4}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	result, err := br.Run(context.Background(), serverInputs(srv.URL, "page", 20))
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.TotalURLs != 4 || result.Summary.StatsRows != 4 {
		t.Errorf("totals = %d/%d, want 4/4",
			result.Summary.TotalURLs, result.Summary.StatsRows)
	}
}

func TestBatchTargetSuccessStopsEarly(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t))
	defer srv.Close()

	cfg := batchConfig(t)
	cfg.HTTP.MaxConcurrency = 8
	br, err := NewBatchRunner(cfg, Options{RunID: "target", HTTPOnly: true, TargetSuccess: 3}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	result, err := br.Run(context.Background(), serverInputs(srv.URL, "page", 30))
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.StatsRows >= 30 {
		t.Errorf("processed all %d URLs despite target", result.Summary.StatsRows)
	}
	if result.Summary.StatsRows < 3 {
		t.Errorf("stopped before reaching target: %d rows", result.Summary.StatsRows)
	}
}

func TestBatchGuardrailAborts(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t))
	defer srv.Close()

	cfg := batchConfig(t)
	br, err := NewBatchRunner(cfg, Options{RunID: "guard", HTTPOnly: true}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	before := br.sched.GlobalLimit()
	// Three shards of pure 503s: shard 0 halves concurrency, shard 1
	// aborts, shard 2 never runs.
	result, err := br.Run(context.Background(), serverInputs(srv.URL, "blocked", 9))
	if !errors.Is(err, types.ErrRunAborted) {
		t.Fatalf("err = %v, want ErrRunAborted", err)
	}
	if result == nil {
		t.Fatal("aborted run must still produce a partial summary")
	}
	if !result.Summary.Aborted || result.Summary.AbortedNote == "" {
		t.Errorf("summary = %+v, want aborted with note", result.Summary)
	}
	if result.Summary.StatsRows != 6 {
		t.Errorf("stats_rows = %d, want 6 (third shard never ran)", result.Summary.StatsRows)
	}
	if br.sched.GlobalLimit() >= before {
		t.Errorf("global limit not halved: %d -> %d", before, br.sched.GlobalLimit())
	}
}

func TestBatchEmptyInputFails(t *testing.T) {
	cfg := batchConfig(t)
	br, err := NewBatchRunner(cfg, Options{RunID: "empty", HTTPOnly: true}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := br.Run(context.Background(), nil); !errors.Is(err, types.ErrMissingInput) {
		t.Errorf("err = %v, want ErrMissingInput", err)
	}
}

func TestNewBatchRunnerRequiresRunID(t *testing.T) {
	cfg := batchConfig(t)
	if _, err := NewBatchRunner(cfg, Options{HTTPOnly: true}, testLogger()); err == nil {
		t.Fatal("missing run id must fail")
	}
}
