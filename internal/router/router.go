// Package router decides, per job, whether the cheap HTTP result
// stands or the browser must be spent on it, and guarantees exactly
// one URL record per job no matter what fails underneath.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hydrascrape/hydrascrape/internal/detect"
	"github.com/hydrascrape/hydrascrape/internal/extract"
	"github.com/hydrascrape/hydrascrape/internal/fetch"
	"github.com/hydrascrape/hydrascrape/internal/schedule"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

// minContentBytes is the completeness threshold: successful HTTP
// responses smaller than this look like shells waiting for JavaScript.
const minContentBytes = 1024

const maxErrMsg = 200

// jsRequiredMarkers are phrases that give away a JS-only page even when
// the response is otherwise healthy.
var jsRequiredMarkers = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
	"please turn on javascript",
	"<noscript>",
}

// Router composes the two fetch stages. Browser may be nil (HTTP-only
// runs); escalation is then skipped.
type Router struct {
	HTTP    fetch.Fetcher
	Browser fetch.Fetcher
	Sched   *schedule.Scheduler
	Logger  *slog.Logger
}

// New wires a router.
func New(httpF, browserF fetch.Fetcher, sched *schedule.Scheduler, logger *slog.Logger) *Router {
	return &Router{
		HTTP:    httpF,
		Browser: browserF,
		Sched:   sched,
		Logger:  logger.With("component", "router"),
	}
}

// RouteAndFetch produces exactly one URL record for the job. It never
// returns an error and never panics outward; anything that escapes a
// fetcher becomes an other_error record.
func (rt *Router) RouteAndFetch(ctx context.Context, job types.Job) (rec types.URLRecord) {
	defer func() {
		if r := recover(); r != nil {
			rt.Logger.Error("fetcher panicked",
				"url", types.SafeURL(job.URL),
				"panic", r,
			)
			rec = panicRecord(job, r)
		}
	}()

	if err := types.ValidateURL(job.URL); err != nil {
		fr := types.NewFetchRecord(job, types.MethodHTTP, types.StagePrimary)
		fr.Host = types.HostOf(job.URL)
		fr.Status = types.StatusInvalidURL
		fr.ErrorKind = types.ErrorKind(err)
		fr.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		return fr.ToURLRecord()
	}

	// A dynamic hint from the loader skips the HTTP stage outright; the
	// page is known to render client-side.
	if job.DynamicHint && rt.Browser != nil {
		host := types.HostOf(job.URL)
		if rt.Sched == nil || rt.Sched.ShouldTryBrowser(host) {
			browserRec, err := rt.Browser.Fetch(ctx, job)
			if err != nil {
				return errorRecord(job, types.MethodBrowser, types.StageFallback, err)
			}
			annotate(browserRec)
			return browserRec.ToURLRecord()
		}
	}

	httpRec, err := rt.HTTP.Fetch(ctx, job)
	if err != nil {
		return errorRecord(job, types.MethodHTTP, types.StagePrimary, err)
	}

	// Terminal primary outcomes: robots rules apply to the browser
	// too, and escalating past a CAPTCHA would be pointless.
	switch httpRec.Status {
	case types.StatusRobotsBlocked, types.StatusCaptchaDetected:
		return httpRec.ToURLRecord()
	}

	if !rt.needsBrowser(httpRec) {
		annotate(httpRec)
		return httpRec.ToURLRecord()
	}

	if rt.Browser == nil {
		annotate(httpRec)
		return httpRec.ToURLRecord()
	}
	if rt.Sched != nil && !rt.Sched.ShouldTryBrowser(httpRec.Host) {
		rt.Logger.Debug("browser escalation suppressed for failing host",
			"host", httpRec.Host)
		annotate(httpRec)
		return httpRec.ToURLRecord()
	}

	browserRec, err := rt.Browser.Fetch(ctx, job)
	if err != nil {
		return errorRecord(job, types.MethodBrowser, types.StageFallback, err)
	}
	// The fallback result supersedes the HTTP one, whatever it says.
	annotate(browserRec)
	return browserRec.ToURLRecord()
}

// annotate attaches page metadata to successful fetches. Extraction is
// best-effort and never changes the outcome.
func annotate(rec *types.FetchRecord) {
	if rec.Status != types.StatusSuccess || rec.Body == "" {
		return
	}
	meta := extract.Meta(rec.Body)
	rec.Title = meta.Title
	rec.Description = meta.Description
}

// needsBrowser decides whether the HTTP result warrants rendering:
// hard failures, suspiciously small successes, and pages that admit to
// needing JavaScript.
func (rt *Router) needsBrowser(rec *types.FetchRecord) bool {
	switch rec.Status {
	case types.StatusHTTPError, types.StatusTimeout:
		return true
	case types.StatusSuccess:
	default:
		return false
	}

	if rec.ContentLength < minContentBytes {
		return true
	}

	body := strings.ToLower(rec.Body)
	for _, marker := range jsRequiredMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}

	d := detect.Classify(rec.HTTPStatus, rec.URL, nil, rec.Body)
	return d.Present && d.Vendor == detect.VendorGenericBlock
}

func errorRecord(job types.Job, method types.Method, stage types.Stage, err error) types.URLRecord {
	fr := types.NewFetchRecord(job, method, stage)
	fr.Host = types.HostOf(job.URL)
	fr.Status = types.StatusOtherError
	fr.ErrorKind = types.ErrorKind(err)
	fr.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
	fr.Finish()
	return fr.ToURLRecord()
}

func panicRecord(job types.Job, v any) types.URLRecord {
	fr := types.NewFetchRecord(job, types.MethodHTTP, types.StagePrimary)
	fr.Host = types.HostOf(job.URL)
	fr.Status = types.StatusOtherError
	fr.ErrorKind = "panic"
	fr.ErrorMessage = types.TruncateMessage(strings.TrimSpace(strings.ReplaceAll(
		strings.TrimPrefix(sprint(v), "runtime error: "), "\n", " ")), maxErrMsg)
	fr.Finish()
	return fr.ToURLRecord()
}

func sprint(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unexpected failure"
}
