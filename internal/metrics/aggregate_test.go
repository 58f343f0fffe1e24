package metrics

import (
	"testing"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

func rec(method types.Method, status types.Status, latencyMS int64, contentLen int64) types.URLRecord {
	r := types.URLRecord{
		URL:           "https://example.com/x",
		Host:          "example.com",
		Method:        method,
		Status:        status,
		ContentLength: contentLen,
	}
	if latencyMS > 0 {
		l := latencyMS
		r.LatencyMS = &l
	}
	return r
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	tests := []struct {
		p    float64
		want int64
	}{
		{0, 10},
		{50, 60}, // nearest-rank rounds 4.5 up
		{95, 100},
		{100, 100},
	}
	for _, tt := range tests {
		got := Percentile(values, tt.p)
		if got == nil || *got != tt.want {
			t.Errorf("Percentile(%v) = %v, want %d", tt.p, got, tt.want)
		}
	}

	if Percentile(nil, 50) != nil {
		t.Error("empty input must yield nil, not zero")
	}

	single := Percentile([]int64{42}, 95)
	if single == nil || *single != 42 {
		t.Errorf("single sample p95 = %v, want 42", single)
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	values := []int64{30, 10, 20}
	Percentile(values, 50)
	if values[0] != 30 || values[1] != 10 || values[2] != 20 {
		t.Errorf("input reordered: %v", values)
	}
}

func TestComputeRunSummaryRates(t *testing.T) {
	records := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 5000),
		rec(types.MethodHTTP, types.StatusSuccess, 200, 7000),
		rec(types.MethodHTTP, types.StatusHTTPError, 150, 0),
		rec(types.MethodBrowser, types.StatusSuccess, 2000, 90000),
		rec(types.MethodBrowser, types.StatusTimeout, 0, 0),
		rec(types.MethodHTTP, types.StatusCaptchaDetected, 80, 0),
		rec(types.MethodHTTP, types.StatusRobotsBlocked, 0, 0),
		rec(types.MethodHTTP, types.StatusOtherError, 0, 0),
	}
	s := ComputeRunSummary(records, 10)

	if s.TotalURLs != 10 || s.StatsRows != 8 {
		t.Fatalf("totals = %d/%d", s.TotalURLs, s.StatsRows)
	}
	// Rates are over the input size, not the rows written.
	if s.SuccessRate != 0.3 {
		t.Errorf("success_rate = %v, want 0.3", s.SuccessRate)
	}
	if s.HTTPErrorRate != 0.1 || s.TimeoutRate != 0.1 || s.CaptchaRate != 0.1 || s.RobotsBlockRate != 0.1 {
		t.Errorf("rates = %v %v %v %v", s.HTTPErrorRate, s.TimeoutRate, s.CaptchaRate, s.RobotsBlockRate)
	}
	// Shares are over the rows.
	if s.HTTPShare != 0.75 || s.BrowserShare != 0.25 {
		t.Errorf("shares = %v/%v, want 0.75/0.25", s.HTTPShare, s.BrowserShare)
	}
}

func TestComputeRunSummaryInvalidURLInNeitherShare(t *testing.T) {
	records := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 2048),
		rec(types.MethodHTTP, types.StatusInvalidURL, 0, 0),
	}
	s := ComputeRunSummary(records, 2)

	if s.HTTPShare != 0.5 {
		t.Errorf("httpx_share = %v, want 0.5 (invalid_url made no network attempt)", s.HTTPShare)
	}
	if s.BrowserShare != 0 {
		t.Errorf("browser_share = %v, want 0", s.BrowserShare)
	}
}

func TestComputeRunSummaryLatencySplit(t *testing.T) {
	records := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 2048),
		rec(types.MethodHTTP, types.StatusSuccess, 300, 4096),
		rec(types.MethodBrowser, types.StatusSuccess, 5000, 100000),
	}
	s := ComputeRunSummary(records, 3)

	if s.P50LatencyHTTPMS == nil || *s.P50LatencyHTTPMS != 300 {
		t.Errorf("p50 http = %v", s.P50LatencyHTTPMS)
	}
	if s.P50LatencyBrowserMS == nil || *s.P50LatencyBrowserMS != 5000 {
		t.Errorf("p50 browser = %v", s.P50LatencyBrowserMS)
	}
	if s.AvgContentLenHTTP == nil || *s.AvgContentLenHTTP != 3072 {
		t.Errorf("avg content http = %v", s.AvgContentLenHTTP)
	}
	if s.AvgContentLenBrowser == nil || *s.AvgContentLenBrowser != 100000 {
		t.Errorf("avg content browser = %v", s.AvgContentLenBrowser)
	}
}

func TestComputeRunSummaryNoBrowserSamples(t *testing.T) {
	records := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 2048),
	}
	s := ComputeRunSummary(records, 1)

	if s.P50LatencyBrowserMS != nil || s.P95LatencyBrowserMS != nil {
		t.Error("browser percentiles must be nil with no browser records")
	}
	if s.AvgContentLenBrowser != nil {
		t.Error("browser content average must be nil with no browser records")
	}
}

func TestComputeRunSummaryEmpty(t *testing.T) {
	s := ComputeRunSummary(nil, 0)
	if s.StatsRows != 0 || s.SuccessRate != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestBadRate(t *testing.T) {
	records := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 2048),
		rec(types.MethodHTTP, types.StatusCaptchaDetected, 100, 0),
		rec(types.MethodHTTP, types.StatusHTTPError, 100, 0),
		rec(types.MethodHTTP, types.StatusTimeout, 0, 0),
		rec(types.MethodHTTP, types.StatusRobotsBlocked, 0, 0),
	}
	got := BadRate(records)
	if got != 0.6 {
		t.Errorf("BadRate = %v, want 0.6 (robots_blocked is policy, not breakage)", got)
	}
	ok := []types.URLRecord{
		rec(types.MethodHTTP, types.StatusSuccess, 100, 2048),
		rec(types.MethodHTTP, types.StatusOtherError, 0, 0),
	}
	if BadRate(ok) != 0 {
		t.Errorf("other_error must not trip the block guardrail, got %v", BadRate(ok))
	}
	if BadRate(nil) != 0 {
		t.Errorf("BadRate(nil) = %v", BadRate(nil))
	}
}
