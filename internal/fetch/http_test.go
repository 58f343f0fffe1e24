package fetch

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/robots"
	"github.com/hydrascrape/hydrascrape/internal/schedule"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScheduler() *schedule.Scheduler {
	return schedule.New(schedule.Config{GlobalLimit: 16}, testLogger())
}

func newTestFetcher(t *testing.T, cfg *config.HTTPConfig) *HTTPFetcher {
	t.Helper()
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def.HTTP
	}
	f, err := NewHTTPFetcher(cfg, nil, nil, testScheduler(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func fetchOne(t *testing.T, f *HTTPFetcher, url string) *types.FetchRecord {
	t.Helper()
	rec, err := f.Fetch(context.Background(), types.Job{URL: url})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	return rec
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body>"+strings.Repeat("content ", 200)+"</body></html>")
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL+"/page")

	if rec.Status != types.StatusSuccess {
		t.Fatalf("status = %s, want success", rec.Status)
	}
	if rec.Method != types.MethodHTTP || rec.Stage != types.StagePrimary {
		t.Errorf("method/stage = %s/%s", rec.Method, rec.Stage)
	}
	if rec.HTTPStatus != 200 {
		t.Errorf("http status = %d", rec.HTTPStatus)
	}
	if rec.Body == "" {
		t.Error("HTML body should be retained")
	}
	if rec.ContentLength != int64(len(rec.Body)) {
		t.Errorf("content length %d != body length %d", rec.ContentLength, len(rec.Body))
	}
	if rec.LatencyMS < 0 {
		t.Errorf("latency = %d", rec.LatencyMS)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusHTTPError {
		t.Fatalf("status = %s, want http_error", rec.Status)
	}
	if rec.HTTPStatus != 410 {
		t.Errorf("http status = %d, want 410", rec.HTTPStatus)
	}
	if rec.Retries != 0 {
		t.Errorf("410 must not be retried, got %d retries", rec.Retries)
	}
}

func TestFetchRetriesTransient5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>"+strings.Repeat("x", 2000)+"</html>")
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusSuccess {
		t.Fatalf("status = %s, want success after retry", rec.Status)
	}
	if rec.Retries != 1 {
		t.Errorf("retries = %d, want 1", rec.Retries)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	def := config.DefaultConfig()
	cfg := def.HTTP
	cfg.TimeoutSeconds = 5
	cfg.MaxRetries = 0
	f := newTestFetcher(t, &cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	rec, err := f.Fetch(ctx, types.Job{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusTimeout {
		t.Fatalf("status = %s, want timeout", rec.Status)
	}
	if rec.ErrorKind != "Timeout" {
		t.Errorf("error kind = %q, want Timeout", rec.ErrorKind)
	}
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, strings.Repeat("a", 5000))
	}))
	defer srv.Close()

	def := config.DefaultConfig()
	cfg := def.HTTP
	cfg.MaxBodyBytes = 1024
	f := newTestFetcher(t, &cfg)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusTooLarge {
		t.Fatalf("status = %s, want too_large", rec.Status)
	}
	if rec.Body != "" {
		t.Error("oversized body must be discarded")
	}
}

func TestFetchCaptchaDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><div class="g-recaptcha" data-sitekey="k"></div>`+strings.Repeat("pad ", 400)+`</html>`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusCaptchaDetected {
		t.Fatalf("status = %s, want captcha_detected", rec.Status)
	}
	if !rec.CaptchaDetected {
		t.Error("captcha flag not set")
	}
	if rec.BlockVendor != "recaptcha" {
		t.Errorf("block vendor = %q", rec.BlockVendor)
	}
}

func TestFetchCaptchaDetectedNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Cf-Ray", "8d2f-TEST")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "error code: 1020")
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusCaptchaDetected {
		t.Fatalf("status = %s, want captcha_detected (blocks are not always HTML)", rec.Status)
	}
	if rec.BlockVendor != "cloudflare_block" {
		t.Errorf("block vendor = %q", rec.BlockVendor)
	}
	if rec.Body != "" {
		t.Error("non-HTML body must still not be retained")
	}
}

func TestFetchRobotsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			io.WriteString(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		io.WriteString(w, "should not be reached")
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rc := robots.New(f.Client(), RobotsUserAgent(), testLogger())
	f.SetRobots(rc)

	rec := fetchOne(t, f, srv.URL+"/private/page")
	if rec.Status != types.StatusRobotsBlocked {
		t.Fatalf("status = %s, want robots_blocked", rec.Status)
	}
	if !rec.RobotsDisallow {
		t.Error("robots flag not set")
	}
	if rec.HTTPStatus != 0 {
		t.Error("no request should have been made to the blocked path")
	}
}

func TestFetchGzipDecoded(t *testing.T) {
	body := "<html><body>" + strings.Repeat("compressed content ", 100) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, body)
		gz.Close()
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusSuccess {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Body != body {
		t.Error("gzip body not decoded to original content")
	}
	if rec.Encoding != "utf-8" {
		t.Errorf("encoding = %q", rec.Encoding)
	}
}

func TestFetchNonHTMLBodyNotRetained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusSuccess {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Body != "" {
		t.Error("non-HTML body must not be retained")
	}
	if rec.ContentLength == 0 {
		t.Error("content length should still be recorded")
	}
}

func TestFetchTransportErrorRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	def := config.DefaultConfig()
	cfg := def.HTTP
	cfg.MaxRetries = 0
	f := newTestFetcher(t, &cfg)
	rec := fetchOne(t, f, srv.URL)

	if rec.Status != types.StatusHTTPError {
		t.Fatalf("status = %s, want http_error", rec.Status)
	}
	if rec.ErrorKind == "" || rec.ErrorMessage == "" {
		t.Error("transport failures must record kind and message")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("3"); d != 3*time.Second {
		t.Errorf("seconds form = %v", d)
	}
	if d := parseRetryAfter("600"); d != 120*time.Second {
		t.Errorf("cap = %v, want 2m", d)
	}
	if d := parseRetryAfter(""); d != backoffBase {
		t.Errorf("empty = %v", d)
	}
	if d := parseRetryAfter("garbage"); d != backoffBase {
		t.Errorf("garbage = %v", d)
	}
}
