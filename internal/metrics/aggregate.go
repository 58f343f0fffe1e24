// Package metrics turns the run's URL records into the single summary
// object written at the end of a batch.
package metrics

import (
	"math"
	"sort"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// Percentile returns the nearest-rank percentile of values. The slice
// is not modified. Returns nil for an empty input so callers can omit
// the field instead of reporting a fake zero.
func Percentile(values []int64, p float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Round(p / 100 * float64(len(sorted)-1)))
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	v := sorted[rank]
	return &v
}

// ComputeRunSummary aggregates the per-URL records. totalURLs is the
// batch's input size and is the denominator for all rates; it can
// exceed len(records) when a run was interrupted.
func ComputeRunSummary(records []types.URLRecord, totalURLs int) *types.RunSummary {
	summary := &types.RunSummary{
		TotalURLs: totalURLs,
		StatsRows: len(records),
	}
	if len(records) == 0 {
		return summary
	}

	var (
		success, httpErr, timeout, captcha, robots int
		httpCount, browserCount                    int
		httpLatencies, browserLatencies            []int64
		httpBytes, browserBytes                    int64
		httpBodies, browserBodies                  int
	)
	for _, rec := range records {
		switch rec.Status {
		case types.StatusSuccess:
			success++
		case types.StatusHTTPError:
			httpErr++
		case types.StatusTimeout:
			timeout++
		case types.StatusCaptchaDetected:
			captcha++
		case types.StatusRobotsBlocked:
			robots++
		}

		// invalid_url never reached the network; it belongs to neither
		// method share. The shares then sum below 1 by exactly the
		// no-attempt fraction.
		if rec.Status != types.StatusInvalidURL {
			switch rec.Method {
			case types.MethodHTTP:
				httpCount++
			case types.MethodBrowser:
				browserCount++
			}
		}

		// Latency and content stats only count finished fetches on the
		// winning method, so partial attempts don't skew the picture.
		if rec.LatencyMS != nil {
			if rec.Method == types.MethodBrowser {
				browserLatencies = append(browserLatencies, *rec.LatencyMS)
			} else {
				httpLatencies = append(httpLatencies, *rec.LatencyMS)
			}
		}
		if rec.Status == types.StatusSuccess && rec.ContentLength > 0 {
			if rec.Method == types.MethodBrowser {
				browserBytes += rec.ContentLength
				browserBodies++
			} else {
				httpBytes += rec.ContentLength
				httpBodies++
			}
		}
	}

	denom := float64(totalURLs)
	if denom <= 0 {
		denom = float64(len(records))
	}
	summary.SuccessRate = float64(success) / denom
	summary.HTTPErrorRate = float64(httpErr) / denom
	summary.TimeoutRate = float64(timeout) / denom
	summary.CaptchaRate = float64(captcha) / denom
	summary.RobotsBlockRate = float64(robots) / denom

	summary.HTTPShare = float64(httpCount) / float64(len(records))
	summary.BrowserShare = float64(browserCount) / float64(len(records))

	summary.P50LatencyHTTPMS = Percentile(httpLatencies, 50)
	summary.P95LatencyHTTPMS = Percentile(httpLatencies, 95)
	summary.P50LatencyBrowserMS = Percentile(browserLatencies, 50)
	summary.P95LatencyBrowserMS = Percentile(browserLatencies, 95)

	if httpBodies > 0 {
		avg := httpBytes / int64(httpBodies)
		summary.AvgContentLenHTTP = &avg
	}
	if browserBodies > 0 {
		avg := browserBytes / int64(browserBodies)
		summary.AvgContentLenBrowser = &avg
	}
	return summary
}

// BadRate is the guardrail signal: the share of records whose outcome
// points at blocking or breakage (CAPTCHA, HTTP error, timeout) rather
// than a clean fetch or a policy skip.
func BadRate(records []types.URLRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	bad := 0
	for _, rec := range records {
		switch rec.Status {
		case types.StatusCaptchaDetected, types.StatusHTTPError, types.StatusTimeout:
			bad++
		}
	}
	return float64(bad) / float64(len(records))
}
