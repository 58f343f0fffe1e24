package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks that a raw URL is structurally fetchable: absolute,
// http(s) scheme, non-empty host, no embedded whitespace.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(rawURL, " \t") {
		return fmt.Errorf("%w: contains whitespace", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// HostOf returns the host (including port, if any) of a URL, or "" when
// the URL does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// SafeURL strips query and fragment and truncates, so URLs can be
// logged without leaking tokens or tracking parameters.
func SafeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if len(rawURL) > 80 {
			return rawURL[:80]
		}
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	s := u.String()
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
