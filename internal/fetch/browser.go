package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"

	"github.com/hydrascrape/hydrascrape/internal/config"
	"github.com/hydrascrape/hydrascrape/internal/detect"
	"github.com/hydrascrape/hydrascrape/internal/proxy"
	"github.com/hydrascrape/hydrascrape/internal/robots"
	"github.com/hydrascrape/hydrascrape/internal/schedule"
	"github.com/hydrascrape/hydrascrape/internal/stealth"
	"github.com/hydrascrape/hydrascrape/internal/types"
)

const maxBrowserRetries = 1

// BrowserFetcher renders URLs the HTTP stage could not finish. It
// holds one browser process, creates an isolated stealth page per job,
// and recycles the whole process every RecycleContexts pages to bound
// memory.
type BrowserFetcher struct {
	cfg        *config.BrowserConfig
	stealthCfg stealth.Config
	sessions   *stealth.SessionStore
	proxyCfg   *proxy.Config
	robots     *robots.Cache
	sched      *schedule.Scheduler
	logger     *slog.Logger
	maxBody    int64

	pageSlots chan struct{}

	mu       sync.Mutex
	browser  *rod.Browser
	contexts int
	profile  *stealth.DeviceProfile
	session  *stealth.Session
	closed   bool
}

// NewBrowserFetcher launches the browser and resolves the device
// profile: reused verbatim from the session store when a session id is
// set, freshly generated otherwise.
func NewBrowserFetcher(
	cfg *config.BrowserConfig,
	stealthCfg stealth.Config,
	sessions *stealth.SessionStore,
	proxyCfg *proxy.Config,
	rc *robots.Cache,
	sched *schedule.Scheduler,
	maxBodyBytes int64,
	logger *slog.Logger,
) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:        cfg,
		stealthCfg: stealthCfg,
		sessions:   sessions,
		proxyCfg:   proxyCfg,
		robots:     rc,
		sched:      sched,
		logger:     logger.With("component", "browser_fetcher"),
		maxBody:    maxBodyBytes,
		pageSlots:  make(chan struct{}, cfg.MaxConcurrency),
	}

	if err := bf.resolveProfile(); err != nil {
		return nil, err
	}
	if err := bf.launch(); err != nil {
		return nil, err
	}
	bf.logger.Info("browser ready",
		"headless", cfg.Headless,
		"max_pages", cfg.MaxConcurrency,
		"profile", bf.profile.Name,
		"stealth_mode", string(stealthCfg.Mode),
	)
	return bf, nil
}

// resolveProfile loads the session's profile or generates one. A new
// profile for a sticky session is persisted immediately so the next
// run replays it.
func (bf *BrowserFetcher) resolveProfile() error {
	if bf.sessions != nil && bf.stealthCfg.SessionID != "" {
		sess, err := bf.sessions.Load(bf.stealthCfg.SessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.Profile != nil {
			bf.session = sess
			bf.profile = sess.Profile
			return nil
		}
	}

	region := bf.stealthCfg.Region
	if region == "" && bf.proxyCfg != nil {
		region = bf.proxyCfg.Region
	}
	bf.profile = stealth.GenerateProfile(region)

	if bf.sessions != nil && bf.stealthCfg.SessionID != "" {
		bf.session = &stealth.Session{Profile: bf.profile}
		return bf.sessions.Save(bf.stealthCfg.SessionID, bf.session)
	}
	return nil
}

func (bf *BrowserFetcher) launch() error {
	l := launcher.New().
		Headless(bf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	if bf.proxyCfg != nil {
		l = l.Proxy(bf.proxyCfg.Browser().Server)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}

	if bf.proxyCfg != nil && bf.proxyCfg.Username != "" {
		creds := bf.proxyCfg.Browser()
		go func() {
			_ = browser.HandleAuth(creds.Username, creds.Password)()
		}()
	}

	if bf.session != nil && len(bf.session.StorageState) > 0 {
		bf.restoreCookies(browser)
	}

	bf.browser = browser
	bf.contexts = 0
	return nil
}

// Fetch renders one URL in a fresh stealth context. Same taxonomy as
// the HTTP stage; one retry on navigation timeout in a new context.
func (bf *BrowserFetcher) Fetch(ctx context.Context, job types.Job) (*types.FetchRecord, error) {
	rec := types.NewFetchRecord(job, types.MethodBrowser, types.StageFallback)
	rec.Host = types.HostOf(job.URL)
	defer rec.Finish()

	if bf.robots != nil && !bf.robots.Allowed(job.URL, RobotsUserAgent()) {
		rec.Status = types.StatusRobotsBlocked
		rec.RobotsDisallow = true
		return rec, nil
	}

	select {
	case bf.pageSlots <- struct{}{}:
		defer func() { <-bf.pageSlots }()
	case <-ctx.Done():
		rec.ErrorKind = types.ErrorKind(ctx.Err())
		return rec, nil
	}

	attempt := 0
	for {
		if err := bf.sched.Acquire(ctx, rec.Host); err != nil {
			rec.ErrorKind = types.ErrorKind(err)
			rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
			return rec, nil
		}
		retry := bf.attempt(ctx, job.URL, rec, attempt)
		bf.sched.Release(rec.Host)
		if !retry {
			return rec, nil
		}
		attempt++
		rec.Retries = attempt
		sleepBrowserBackoff(ctx, attempt)
	}
}

func (bf *BrowserFetcher) attempt(ctx context.Context, rawURL string, rec *types.FetchRecord, attempt int) (retry bool) {
	page, cleanup, err := bf.newStealthPage(ctx)
	if err != nil {
		rec.Status = types.StatusHTTPError
		rec.ErrorKind = types.ErrorKind(err)
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		bf.sched.RecordError(rec.Host)
		return false
	}
	defer cleanup()

	// Capture the main document status from the network events; rod
	// does not surface it from Navigate.
	var (
		statusMu   sync.Mutex
		docStatus  int
		listenStop = make(chan struct{})
	)
	listenerPage := page.Context(ctx)
	go func() {
		defer close(listenStop)
		listenerPage.EachEvent(func(e *proto.NetworkResponseReceived) bool {
			if e.Type == proto.NetworkResourceTypeDocument {
				statusMu.Lock()
				if docStatus == 0 {
					docStatus = e.Response.Status
				}
				statusMu.Unlock()
				return true
			}
			return false
		})()
	}()

	start := time.Now()
	timeout := bf.cfg.NavTimeout()
	err = page.Timeout(timeout).Navigate(rawURL)
	if err == nil {
		// Best-effort settle; a stubborn spinner should not fail the job.
		if werr := page.Timeout(timeout).WaitStable(300 * time.Millisecond); werr != nil {
			bf.logger.Debug("page never settled, snapshotting anyway",
				"url", types.SafeURL(rawURL))
		}
	}
	rec.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		isTO := errors.Is(err, context.DeadlineExceeded)
		if isTO {
			rec.Status = types.StatusTimeout
			rec.ErrorKind = "Timeout"
		} else {
			rec.Status = types.StatusHTTPError
			rec.ErrorKind = types.ErrorKind(err)
		}
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		if isTO && attempt < maxBrowserRetries {
			return true
		}
		bf.sched.RecordError(rec.Host)
		return false
	}

	if bf.stealthCfg.BehaviorEmulation() {
		behavior := stealth.NewBehavior(bf.profile)
		behavior.WanderMouse(ctx, page)
		behavior.ReadScroll(ctx, page)
	}

	html, err := page.HTML()
	if err != nil {
		rec.Status = types.StatusHTTPError
		rec.ErrorKind = types.ErrorKind(err)
		rec.ErrorMessage = types.TruncateMessage(err.Error(), maxErrMsg)
		bf.sched.RecordError(rec.Host)
		return false
	}

	statusMu.Lock()
	httpStatus := docStatus
	statusMu.Unlock()
	if httpStatus == 0 {
		httpStatus = 200
	}
	rec.HTTPStatus = httpStatus
	if httpStatus >= 200 && httpStatus < 400 {
		rec.Status = types.StatusSuccess
	} else {
		rec.Status = types.StatusHTTPError
	}

	rec.ContentLength = int64(len(html))
	rec.Encoding = "utf-8"
	if rec.ContentLength > bf.maxBody {
		rec.Status = types.StatusTooLarge
		rec.Body = ""
		return false
	}
	rec.Body = html

	finalURL := rawURL
	if info, ierr := page.Info(); ierr == nil && info != nil {
		finalURL = info.URL
	}
	d := detect.Classify(httpStatus, finalURL, nil, html)
	if d.Present {
		rec.CaptchaDetected = true
		rec.Status = types.StatusCaptchaDetected
		rec.BlockVendor = string(d.Vendor)
		bf.sched.RecordCaptcha(rec.Host)
		return false
	}

	if rec.Status == types.StatusHTTPError {
		bf.sched.RecordError(rec.Host)
	}
	return false
}

// newStealthPage creates an isolated page carrying the device profile
// and all init scripts, with image/font/media requests blocked. The
// cleanup closes the page and advances the recycle counter.
func (bf *BrowserFetcher) newStealthPage(ctx context.Context) (*rod.Page, func(), error) {
	bf.mu.Lock()
	if bf.closed {
		bf.mu.Unlock()
		return nil, nil, types.ErrBrowserClosed
	}
	browser := bf.browser
	bf.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, nil, fmt.Errorf("create page: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = page.Close()
		}
	}()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      bf.profile.UserAgent,
		AcceptLanguage: bf.profile.Locale,
		Platform:       bf.profile.Platform,
	}); err != nil {
		return nil, nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bf.profile.ViewportWidth,
		Height:            bf.profile.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, nil, err
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: bf.profile.Timezone}).Call(page); err != nil {
		bf.logger.Debug("timezone override failed", "error", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: bf.profile.Locale}).Call(page); err != nil {
		bf.logger.Debug("locale override failed", "error", err)
	}

	// Baseline evasion bundle first, then our profile-specific patches.
	scripts := append([]string{rodstealth.JS}, stealth.InitScripts(bf.stealthCfg, bf.profile)...)
	for _, js := range scripts {
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: js}).Call(page); err != nil {
			return nil, nil, fmt.Errorf("install init script: %w", err)
		}
	}

	blockCleanup, err := blockHeavyResources(ctx, page, bf.stealthCfg.BlockStyles)
	if err != nil {
		bf.logger.Debug("resource blocking unavailable", "error", err)
		blockCleanup = func() {}
	}

	if bf.stealthCfg.NetworkEmulation() {
		if np, nerr := stealth.LookupNetworkProfile(bf.stealthCfg.NetworkProfile); nerr == nil {
			if aerr := np.Apply(page); aerr != nil {
				bf.logger.Debug("network emulation failed", "error", aerr)
			}
		}
	}

	ok = true
	cleanup := func() {
		blockCleanup()
		_ = page.Close()
		bf.noteContextDone()
	}
	return page, cleanup, nil
}

// noteContextDone advances the recycle counter and relaunches the
// browser once it crosses the threshold. Pages in flight keep their
// old process; only subsequent contexts see the new one.
func (bf *BrowserFetcher) noteContextDone() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.closed {
		return
	}
	bf.contexts++
	if bf.contexts < bf.cfg.RecycleContexts {
		return
	}
	bf.logger.Info("recycling browser", "contexts", bf.contexts)
	old := bf.browser
	if err := bf.launch(); err != nil {
		// Keep the old process; better a leaky browser than none.
		bf.logger.Error("browser relaunch failed, keeping old process", "error", err)
		bf.browser = old
		bf.contexts = 0
		return
	}
	go func() { _ = old.Close() }()
}

// blockHeavyResources aborts image, font, and media requests (and
// optionally stylesheets) at the CDP fetch layer.
func blockHeavyResources(ctx context.Context, page *rod.Page, blockStyles bool) (func(), error) {
	patterns := []*proto.FetchRequestPattern{
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeImage},
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeFont},
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeMedia},
	}
	if blockStyles {
		patterns = append(patterns, &proto.FetchRequestPattern{
			URLPattern: "*", ResourceType: proto.NetworkResourceTypeStylesheet,
		})
	}
	if err := (proto.FetchEnable{Patterns: patterns}).Call(page); err != nil {
		return func() {}, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	listenerPage := page.Context(listenerCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		listenerPage.EachEvent(func(e *proto.FetchRequestPaused) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			_ = proto.FetchFailRequest{
				RequestID:   e.RequestID,
				ErrorReason: proto.NetworkErrorReasonBlockedByClient,
			}.Call(page)
			return false
		})()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		})
	}, nil
}

// restoreCookies replays the session's stored cookies into the new
// browser process.
func (bf *BrowserFetcher) restoreCookies(browser *rod.Browser) {
	var state struct {
		Cookies []*proto.NetworkCookieParam `json:"cookies"`
	}
	if err := json.Unmarshal(bf.session.StorageState, &state); err != nil {
		bf.logger.Warn("stored session state unreadable, starting fresh")
		return
	}
	if len(state.Cookies) == 0 {
		return
	}
	if err := browser.SetCookies(state.Cookies); err != nil {
		bf.logger.Warn("cookie restore failed", "error", err)
	}
}

// persistSession snapshots cookies back into the session store.
func (bf *BrowserFetcher) persistSession() {
	if bf.sessions == nil || bf.stealthCfg.SessionID == "" || bf.session == nil {
		return
	}
	cookies, err := bf.browser.GetCookies()
	if err != nil {
		bf.logger.Warn("cookie snapshot failed", "error", err)
		return
	}
	state := struct {
		Cookies []*proto.NetworkCookie `json:"cookies"`
	}{Cookies: cookies}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	bf.session.StorageState = raw
	if err := bf.sessions.Save(bf.stealthCfg.SessionID, bf.session); err != nil {
		bf.logger.Warn("session save failed", "error", err)
	}
}

// Close persists the session and shuts the browser down.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	if bf.closed {
		bf.mu.Unlock()
		return nil
	}
	bf.closed = true
	browser := bf.browser
	bf.mu.Unlock()

	if browser == nil {
		return nil
	}
	bf.persistSession()
	return browser.Close()
}

func sleepBrowserBackoff(ctx context.Context, attempt int) {
	d := backoffBase << (attempt - 1)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
