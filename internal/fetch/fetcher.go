// Package fetch implements the two fetch stages: the primary HTTP
// fetcher and the fallback headless-browser fetcher. Both map their
// outcomes onto the same status taxonomy and never let a per-URL
// failure escape as an error.
package fetch

import (
	"context"
	"math/rand"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// Fetcher retrieves one URL and reports the outcome as a record. A
// non-nil error means the fetcher itself broke (not the URL); the
// router converts it into an other_error record.
type Fetcher interface {
	Fetch(ctx context.Context, job types.Job) (*types.FetchRecord, error)
}

// userAgents is the rotation pool: major browsers across the three
// desktop OSes, so no single UA dominates the run's traffic.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{"en-US,en;q=0.9", "en-GB,en;q=0.9"}

// RobotsUserAgent is the agent string robots.txt rules are evaluated
// against. Kept stable so a host's rules apply consistently across the
// rotating request UAs.
func RobotsUserAgent() string { return userAgents[0] }

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

func randomAcceptLanguage() string {
	return acceptLanguages[rand.Intn(len(acceptLanguages))]
}
