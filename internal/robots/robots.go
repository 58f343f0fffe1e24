// Package robots answers "may we fetch this URL" from cached per-host
// robots.txt rules. Failures resolve to allow: an unreachable or broken
// robots.txt never stalls the pipeline.
package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds the robots.txt request itself; it is shorter than
// the pipeline's per-request timeout since robots files are tiny.
const fetchTimeout = 5 * time.Second

// maxRobotsBytes caps how much of a robots.txt we read.
const maxRobotsBytes = 512 * 1024

// Cache fetches, parses, and caches robots.txt rules per host. It is
// process-lifetime and shared by every shard; concurrent misses for the
// same host collapse into a single fetch.
type Cache struct {
	client *http.Client
	agent  string
	logger *slog.Logger

	mu     sync.RWMutex
	rules  map[string]*ruleset
	warned map[string]bool

	group singleflight.Group
}

// ruleset holds the parsed groups of one robots.txt. An empty ruleset
// allows everything.
type ruleset struct {
	groups     []group
	crawlDelay time.Duration
	fetchedAt  time.Time
}

type group struct {
	agents   []string
	allow    []string
	disallow []string
}

// New creates a robots cache using the given HTTP client, which should
// be the same transport (and proxy) the pipeline fetches through.
func New(client *http.Client, userAgent string, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		agent:  userAgent,
		logger: logger.With("component", "robots"),
		rules:  make(map[string]*ruleset),
		warned: make(map[string]bool),
	}
}

// Allowed reports whether the URL may be fetched with the given
// user agent. Any evaluation failure resolves to true.
func (c *Cache) Allowed(rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	rs := c.rulesFor(u.Scheme, u.Host)
	if rs == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rs.allowed(path, userAgent)
}

// CrawlDelay returns the crawl-delay declared for a host, if any. The
// scheduler treats it as advisory.
func (c *Cache) CrawlDelay(host string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rs, ok := c.rules[host]; ok && rs != nil {
		return rs.crawlDelay
	}
	return 0
}

// rulesFor returns the cached ruleset for a host, fetching on first
// use. Two concurrent misses for one host fetch once.
func (c *Cache) rulesFor(scheme, host string) *ruleset {
	c.mu.RLock()
	rs, ok := c.rules[host]
	c.mu.RUnlock()
	if ok {
		return rs
	}

	v, _, _ := c.group.Do(host, func() (any, error) {
		rs := c.fetch(scheme, host)
		c.mu.Lock()
		c.rules[host] = rs
		c.mu.Unlock()
		return rs, nil
	})
	rs, _ = v.(*ruleset)
	return rs
}

// fetch downloads and parses robots.txt for one host. Unreachable or
// >=400 responses become an allow-all ruleset with one warning.
func (c *Cache) fetch(scheme, host string) *ruleset {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)

	req, err := http.NewRequest(http.MethodGet, robotsURL, nil)
	if err != nil {
		return c.allowAll(host, err.Error())
	}
	req.Header.Set("User-Agent", c.agent)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return c.allowAll(host, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.allowAll(host, fmt.Sprintf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return c.allowAll(host, err.Error())
	}
	return parse(string(body))
}

func (c *Cache) allowAll(host, reason string) *ruleset {
	c.mu.Lock()
	first := !c.warned[host]
	c.warned[host] = true
	c.mu.Unlock()
	if first {
		c.logger.Warn("robots.txt unavailable, allowing all",
			"host", host,
			"reason", reason,
		)
	}
	return &ruleset{fetchedAt: time.Now()}
}

// allowed evaluates the best-matching group for the user agent. Allow
// rules override disallow rules, per the common interpretation.
func (rs *ruleset) allowed(path, userAgent string) bool {
	g := rs.groupFor(userAgent)
	if g == nil {
		return true
	}
	for _, pattern := range g.allow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range g.disallow {
		if matchPattern(pattern, path) {
			return false
		}
	}
	return true
}

// groupFor picks the most specific matching agent group, falling back
// to the wildcard group.
func (rs *ruleset) groupFor(userAgent string) *group {
	uaLC := strings.ToLower(userAgent)
	var wildcard *group
	var best *group
	bestLen := 0
	for i := range rs.groups {
		g := &rs.groups[i]
		for _, agent := range g.agents {
			if agent == "*" {
				if wildcard == nil {
					wildcard = g
				}
				continue
			}
			if strings.Contains(uaLC, agent) && len(agent) > bestLen {
				best = g
				bestLen = len(agent)
			}
		}
	}
	if best != nil {
		return best
	}
	return wildcard
}

// parse reads robots.txt content into agent groups. Unknown directives
// are skipped; a blank line or new user-agent after rules starts a new
// group.
func parse(content string) *ruleset {
	rs := &ruleset{fetchedAt: time.Now()}
	var current *group
	sawRule := false

	for _, line := range strings.Split(content, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if current == nil || sawRule {
				rs.groups = append(rs.groups, group{})
				current = &rs.groups[len(rs.groups)-1]
				sawRule = false
			}
			current.agents = append(current.agents, strings.ToLower(value))
		case "disallow":
			if current != nil && value != "" {
				current.disallow = append(current.disallow, value)
				sawRule = true
			} else if current != nil {
				sawRule = true
			}
		case "allow":
			if current != nil && value != "" {
				current.allow = append(current.allow, value)
				sawRule = true
			}
		case "crawl-delay":
			if current != nil {
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
					rs.crawlDelay = time.Duration(secs * float64(time.Second))
				}
				sawRule = true
			}
		}
	}
	return rs
}

// matchPattern matches a robots.txt path pattern supporting * and a
// trailing $ anchor.
func matchPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = pattern[:len(pattern)-1]
	}

	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if anchored {
		return pos == len(path)
	}
	return true
}
