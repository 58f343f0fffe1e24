package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/detect"
	"github.com/hydrascrape/hydrascrape/internal/proxy"
	"github.com/hydrascrape/hydrascrape/internal/robots"
	"github.com/hydrascrape/hydrascrape/internal/schedule"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

// transientStatuses are worth a retry with backoff.
var transientStatuses = map[int]bool{429: true, 502: true, 503: true, 504: true}

const (
	backoffBase = 500 * time.Millisecond
	// rawReadCap bounds how many compressed bytes we pull before the
	// decoded-size cap can kick in. Guards against decompression bombs.
	rawReadCap = 8 << 20
	maxErrMsg  = 200
)

// HTTPFetcher is the primary fast path: one GET through a shared
// transport with HTTP/2, redirects, and rotated headers.
type HTTPFetcher struct {
	client *http.Client
	cfg    *config.HTTPConfig
	robots *robots.Cache
	sched  *schedule.Scheduler
	logger *slog.Logger
}

// NewHTTPFetcher builds the shared transport. proxyCfg may be nil.
// The robots cache should be constructed with Client() so robots.txt
// requests ride the same transport and proxy.
func NewHTTPFetcher(
	cfg *config.HTTPConfig,
	proxyCfg *proxy.Config,
	rc *robots.Cache,
	sched *schedule.Scheduler,
	logger *slog.Logger,
) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxConcurrency * 2,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // decompression handled here, including brotli
	}
	if proxyCfg != nil {
		transport.Proxy = http.ProxyURL(proxyCfg.TransportURL())
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.Timeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	f := &HTTPFetcher{
		client: client,
		cfg:    cfg,
		robots: rc,
		sched:  sched,
		logger: logger.With("component", "http_fetcher"),
	}
	return f, nil
}

// Client exposes the shared HTTP client for collaborators that must
// use the same transport, e.g. the robots cache.
func (f *HTTPFetcher) Client() *http.Client { return f.client }

// SetRobots attaches the robots cache after construction; the cache
// needs the fetcher's client first.
func (f *HTTPFetcher) SetRobots(rc *robots.Cache) { f.robots = rc }

// Fetch performs the full primary-stage sequence for one job:
// robots check, slot acquisition, timed GET, decode, classify. All
// per-URL failures land in the record, never in the returned error.
func (f *HTTPFetcher) Fetch(ctx context.Context, job types.Job) (*types.FetchRecord, error) {
	rec := types.NewFetchRecord(job, types.MethodHTTP, types.StagePrimary)
	rec.Host = types.HostOf(job.URL)
	defer rec.Finish()

	if f.robots != nil && !f.robots.Allowed(job.URL, RobotsUserAgent()) {
		rec.Status = types.StatusRobotsBlocked
		rec.RobotsDisallow = true
		return rec, nil
	}

	attempt := 0
	for {
		if err := f.sched.Acquire(ctx, rec.Host); err != nil {
			rec.Status = types.StatusOtherError
			rec.ErrorKind = types.ErrorKind(err)
			rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
			return rec, nil
		}

		retry, done := f.attempt(ctx, job.URL, rec, attempt)
		if done {
			f.sched.Release(rec.Host)
			return rec, nil
		}
		if retry {
			attempt++
			rec.Retries = attempt
			f.sched.Release(rec.Host)
			f.sleepBackoff(ctx, attempt)
			continue
		}
		f.sched.Release(rec.Host)
		return rec, nil
	}
}

// attempt runs a single GET. It returns (retry, done); exactly one of
// them is meaningful: done means the record is final, retry means back
// off and go again.
func (f *HTTPFetcher) attempt(ctx context.Context, rawURL string, rec *types.FetchRecord, attempt int) (retry, done bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		rec.Status = types.StatusHTTPError
		rec.ErrorKind = types.ErrorKind(err)
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		return false, true
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", randomAcceptLanguage())
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	rec.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		if isTimeout(err) {
			rec.Status = types.StatusTimeout
			rec.ErrorKind = "Timeout"
			rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
			if attempt < f.cfg.MaxRetries {
				return true, false
			}
			f.sched.RecordError(rec.Host)
			return false, true
		}
		rec.Status = types.StatusHTTPError
		rec.ErrorKind = types.ErrorKind(err)
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		if isRetryableTransport(err) && attempt < f.cfg.MaxRetries {
			return true, false
		}
		f.sched.RecordError(rec.Host)
		return false, true
	}
	defer resp.Body.Close()

	rec.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		rec.Status = types.StatusSuccess
	} else {
		rec.Status = types.StatusHTTPError
	}

	contentType := resp.Header.Get("Content-Type")
	body, encoding, err := decodeBody(resp, contentType, f.cfg.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, types.ErrBodyTooLarge) {
			rec.Status = types.StatusTooLarge
			rec.ContentLength = f.cfg.MaxBodyBytes
			rec.Body = ""
			return false, true
		}
		rec.Status = types.StatusHTTPError
		rec.ErrorKind = types.ErrorKind(err)
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		f.sched.RecordError(rec.Host)
		return false, true
	}
	rec.ContentLength = int64(len(body))
	rec.Encoding = encoding

	if isHTMLContentType(contentType) {
		rec.Body = body
	} else {
		rec.Body = ""
	}

	// Every response goes through the classifier; block pages are not
	// always served as HTML.
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	d := detect.Classify(resp.StatusCode, finalURL, flattenHeaders(resp.Header), body)
	if d.Present {
		rec.CaptchaDetected = true
		rec.Status = types.StatusCaptchaDetected
		rec.BlockVendor = string(d.Vendor)
		f.sched.RecordCaptcha(rec.Host)
		return false, true
	}

	if rec.Status == types.StatusHTTPError && transientStatuses[resp.StatusCode] && attempt < f.cfg.MaxRetries {
		if resp.StatusCode == 429 {
			f.waitRetryAfter(ctx, resp.Header.Get("Retry-After"))
		}
		return true, false
	}

	if rec.Status == types.StatusHTTPError {
		f.sched.RecordError(rec.Host)
	}
	f.logger.Debug("fetch complete",
		"url", types.SafeURL(rawURL),
		"status", rec.Status,
		"http_status", rec.HTTPStatus,
		"latency_ms", rec.LatencyMS,
		"content_len", rec.ContentLength,
	)
	return false, true
}

func (f *HTTPFetcher) sleepBackoff(ctx context.Context, attempt int) {
	d := backoffBase << (attempt - 1)
	d += time.Duration(rand.Int63n(int64(backoffBase) / 2))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (f *HTTPFetcher) waitRetryAfter(ctx context.Context, header string) {
	d := parseRetryAfter(header)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// decodeBody decompresses per Content-Encoding, converts to UTF-8 per
// the declared charset, and enforces the decoded-size cap. Returns the
// body, the charset name used, or ErrBodyTooLarge.
func decodeBody(resp *http.Response, contentType string, maxBytes int64) (string, string, error) {
	var raw io.Reader = io.LimitReader(resp.Body, rawReadCap)

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return "", "", err
		}
		defer gz.Close()
		raw = gz
	case "deflate":
		fr := flate.NewReader(raw)
		defer fr.Close()
		raw = fr
	case "br":
		raw = brotli.NewReader(raw)
	}

	encoding := "utf-8"
	decoded, err := charset.NewReader(raw, contentType)
	if err != nil {
		// Undecodable declared charset: fall back to raw bytes.
		decoded = raw
	} else if _, name, ok := strings.Cut(strings.ToLower(contentType), "charset="); ok {
		if semi := strings.IndexByte(name, ';'); semi >= 0 {
			name = name[:semi]
		}
		if name = strings.TrimSpace(strings.Trim(name, `"`)); name != "" {
			encoding = name
		}
	}

	body, err := io.ReadAll(io.LimitReader(decoded, maxBytes+1))
	if err != nil {
		return "", "", err
	}
	if int64(len(body)) > maxBytes {
		return "", "", types.ErrBodyTooLarge
	}
	return string(body), encoding, nil
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// isRetryableTransport covers mid-stream resets and refused
// connections; context cancellation is never retryable.
func isRetryableTransport(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter supports integer-seconds and HTTP-date forms, capped
// at two minutes.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return backoffBase
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return backoffBase
}
