package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for taxonomy-level conditions.
var (
	ErrInvalidURL     = errors.New("invalid URL")
	ErrRobotsBlocked  = errors.New("blocked by robots.txt")
	ErrBodyTooLarge   = errors.New("response body exceeds size cap")
	ErrBrowserClosed  = errors.New("browser handle is closed")
	ErrRunAborted     = errors.New("run aborted by guardrail")
	ErrMissingInput   = errors.New("input URL file missing")
	ErrSessionCorrupt = errors.New("session state unreadable")
)

// FetchError wraps a failure inside a fetcher. Kind is the stable
// classification recorded on the URL record; Retryable drives backoff.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       string
	Err        error
	Retryable  bool
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ErrorKind extracts a stable kind string from an arbitrary error, used
// when an unexpected failure is converted into an other_error record.
func ErrorKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind != "" {
		return fe.Kind
	}
	return fmt.Sprintf("%T", err)
}

// TruncateMessage bounds an error message to a safe length for records
// and logs.
func TruncateMessage(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
