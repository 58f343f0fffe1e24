// Package schedule provides the domain-aware concurrency scheduler:
// one global slot pool plus one pool per host, with jitter after
// acquisition and adaptive down-tuning of hosts that keep failing.
package schedule

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DefaultPerHostLimit is the slot count for hosts with no explicit
// configuration.
const DefaultPerHostLimit = 4

// DefaultClampThreshold is the combined error+CAPTCHA count at which a
// host is reduced to one slot for the rest of the run.
const DefaultClampThreshold = 5

// Config tunes a Scheduler.
type Config struct {
	GlobalLimit   int
	PerHostLimits map[string]int
	// Jitter, when both bounds are positive, sleeps a uniform duration
	// in [Low, High] after each acquisition.
	JitterLow  time.Duration
	JitterHigh time.Duration
	// ClampThreshold overrides DefaultClampThreshold when > 0.
	ClampThreshold int
}

// Scheduler enforces the two-level slot discipline. acquire/release are
// the only mutating operations; all counters are guarded by the
// limiters' own locks plus one mutex for the host maps.
type Scheduler struct {
	global *limiter
	jitterLow,
	jitterHigh time.Duration
	clampThreshold int
	logger         *slog.Logger

	mu         sync.Mutex
	hostLimits map[string]int
	hosts      map[string]*limiter
	errCounts  map[string]int
	capCounts  map[string]int
	clamped    map[string]bool
}

// New builds a scheduler. The caller is expected to have clamped
// GlobalLimit to its configured range already.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	threshold := cfg.ClampThreshold
	if threshold <= 0 {
		threshold = DefaultClampThreshold
	}
	limits := make(map[string]int, len(cfg.PerHostLimits))
	for host, n := range cfg.PerHostLimits {
		limits[host] = n
	}
	return &Scheduler{
		global:         newLimiter(cfg.GlobalLimit),
		jitterLow:      cfg.JitterLow,
		jitterHigh:     cfg.JitterHigh,
		clampThreshold: threshold,
		logger:         logger.With("component", "scheduler"),
		hostLimits:     limits,
		hosts:          make(map[string]*limiter),
		errCounts:      make(map[string]int),
		capCounts:      make(map[string]int),
		clamped:        make(map[string]bool),
	}
}

// Acquire blocks until both a global slot and a slot for host are free,
// then sleeps the configured jitter. Pair every Acquire with a Release.
func (s *Scheduler) Acquire(ctx context.Context, host string) error {
	if err := s.global.acquire(ctx); err != nil {
		return err
	}
	if err := s.hostLimiter(host).acquire(ctx); err != nil {
		s.global.release()
		return err
	}
	s.sleepJitter(ctx)
	return nil
}

// Release frees both slots.
func (s *Scheduler) Release(host string) {
	s.hostLimiter(host).release()
	s.global.release()
}

// RecordError notes a hard failure for a host and clamps it when the
// combined count crosses the threshold.
func (s *Scheduler) RecordError(host string) {
	s.mu.Lock()
	s.errCounts[host]++
	s.maybeClampLocked(host)
	s.mu.Unlock()
}

// RecordCaptcha notes a CAPTCHA verdict for a host.
func (s *Scheduler) RecordCaptcha(host string) {
	s.mu.Lock()
	s.capCounts[host]++
	s.maybeClampLocked(host)
	s.mu.Unlock()
}

// ShouldTryBrowser reports whether spending a browser context on this
// host is still worthwhile. Hosts past the clamp threshold are hard
// blocked; escalating there burns minutes for nothing.
func (s *Scheduler) ShouldTryBrowser(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCounts[host]+s.capCounts[host] < s.clampThreshold
}

// HalveGlobal cuts the global slot count in half (floor 1). Holders
// already past acquisition are unaffected. Used by the batch guardrail.
func (s *Scheduler) HalveGlobal() int {
	return s.global.shrink(s.global.limitNow() / 2)
}

// GlobalLimit returns the current global slot count.
func (s *Scheduler) GlobalLimit() int { return s.global.limitNow() }

// InFlight returns the current in-flight count for a host. Intended for
// tests and progress logging.
func (s *Scheduler) InFlight(host string) int {
	return s.hostLimiter(host).inFlightNow()
}

func (s *Scheduler) hostLimiter(host string) *limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.hosts[host]
	if !ok {
		limit, configured := s.hostLimits[host]
		if !configured {
			limit = DefaultPerHostLimit
		}
		l = newLimiter(limit)
		s.hosts[host] = l
	}
	return l
}

func (s *Scheduler) maybeClampLocked(host string) {
	if s.clamped[host] {
		return
	}
	if s.errCounts[host]+s.capCounts[host] < s.clampThreshold {
		return
	}
	s.clamped[host] = true
	s.hostLimits[host] = 1
	if l, ok := s.hosts[host]; ok {
		l.shrink(1)
	}
	s.logger.Warn("host clamped to one slot",
		"host", host,
		"errors", s.errCounts[host],
		"captchas", s.capCounts[host],
	)
}

func (s *Scheduler) sleepJitter(ctx context.Context) {
	if s.jitterHigh <= 0 || s.jitterHigh < s.jitterLow {
		return
	}
	span := s.jitterHigh - s.jitterLow
	d := s.jitterLow
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// limiter is a counting slot pool whose capacity can shrink while
// held. Shrinking only lowers the admission bound: holders past
// acquisition keep their slots and release normally, so no deadlock.
type limiter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	inFlight int
}

func newLimiter(limit int) *limiter {
	if limit < 1 {
		limit = 1
	}
	l := &limiter{limit: limit}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *limiter) acquire(ctx context.Context) error {
	// Wake waiters when the context dies so they can observe it.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inFlight >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.inFlight++
	return nil
}

func (l *limiter) release() {
	l.mu.Lock()
	l.inFlight--
	l.cond.Broadcast()
	l.mu.Unlock()
}

// shrink lowers the limit to n (floor 1) and returns the new limit.
// Raising the limit back is deliberately unsupported; clamps last for
// the remainder of the run.
func (l *limiter) shrink(n int) int {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	if n < l.limit {
		l.limit = n
	}
	n = l.limit
	l.mu.Unlock()
	return n
}

func (l *limiter) limitNow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

func (l *limiter) inFlightNow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}
