// Package detect classifies HTTP responses and rendered pages into
// block/CAPTCHA verdicts. It is pure pattern matching: the engine never
// attempts to bypass a challenge, only to recognize and record it.
package detect

import (
	"strings"
)

// Vendor identifies which anti-bot mechanism produced a block page.
type Vendor string

const (
	VendorReCAPTCHA       Vendor = "recaptcha"
	VendorHCaptcha        Vendor = "hcaptcha"
	VendorTurnstile       Vendor = "turnstile"
	VendorCloudflareBlock Vendor = "cloudflare_block"
	VendorGenericBlock    Vendor = "generic_block"
	VendorNone            Vendor = "none"
)

// Detection is the classifier verdict for one response.
type Detection struct {
	Present    bool
	Vendor     Vendor
	Confidence float64
	Reason     string
}

// maxScanBytes bounds how much of the body is pattern-matched; block
// markers sit near the top of challenge pages.
const maxScanBytes = 200_000

var genericPhrases = []string{
	"please verify you are a human",
	"are you a robot",
	"access has been denied",
	"automation tools to browse the website",
}

var urlMarkers = []string{
	"captcha",
	"challenge",
	"verify-human",
	"challenges.cloudflare.com",
}

func blockingStatus(code int) bool {
	return code == 403 || code == 429 || code == 503
}

// Classify inspects a response's status, final URL, headers, and body
// prefix. First matching vendor rule wins; the highest confidence seen
// is kept. Weak single signals (suspicious URL, cloudflare headers
// without a challenge body) raise Confidence to at most 0.5-0.7 but
// leave Present false: they are suspicions, not verdicts.
func Classify(statusCode int, finalURL string, headers map[string]string, body string) Detection {
	if body == "" && finalURL == "" {
		return Detection{Vendor: VendorNone}
	}

	if len(body) > maxScanBytes {
		body = body[:maxScanBytes]
	}
	bodyLC := strings.ToLower(body)

	var (
		vendor     Vendor
		confidence float64
		reasons    []string
	)

	// Weak signal: challenge-looking URL.
	urlLC := strings.ToLower(finalURL)
	for _, marker := range urlMarkers {
		if strings.Contains(urlLC, marker) {
			confidence = 0.5
			reasons = append(reasons, "challenge marker in URL")
			break
		}
	}

	// Weak signal: cloudflare server header with a blocking status.
	server := strings.ToLower(headerGet(headers, "server"))
	_, hasCFRay := lookupHeader(headers, "cf-ray")
	cloudflareServed := strings.Contains(server, "cloudflare") || hasCFRay

	// Rule 1: vendor widgets and scripts.
	switch {
	case strings.Contains(bodyLC, "g-recaptcha") || strings.Contains(bodyLC, "recaptcha/api.js"):
		vendor = VendorReCAPTCHA
		confidence = 0.95
		reasons = append(reasons, "recaptcha widget/script")
	case strings.Contains(bodyLC, "h-captcha") || strings.Contains(bodyLC, "hcaptcha.com/1/api.js"):
		vendor = VendorHCaptcha
		confidence = 0.95
		reasons = append(reasons, "hcaptcha widget/script")
	case strings.Contains(bodyLC, "cf-turnstile") ||
		strings.Contains(bodyLC, "cf-turnstile-response") ||
		strings.Contains(bodyLC, "challenges.cloudflare.com/turnstile"):
		vendor = VendorTurnstile
		confidence = 0.95
		reasons = append(reasons, "turnstile widget")
	}

	// Rule 2: cloudflare interstitial.
	if strings.Contains(bodyLC, "checking your browser before accessing") {
		if vendor == "" {
			vendor = VendorCloudflareBlock
		}
		if confidence < 0.9 {
			confidence = 0.9
		}
		reasons = append(reasons, "cloudflare browser check")
	} else if cloudflareServed && blockingStatus(statusCode) {
		if vendor == "" {
			// Header + status alone is still a firm cloudflare verdict.
			vendor = VendorCloudflareBlock
			if confidence < 0.9 {
				confidence = 0.9
			}
			reasons = append(reasons, "cloudflare server + blocking status")
		}
	}

	// Rule 3: generic verification text needs two phrase hits AND a
	// blocking status; either alone stays a suspicion.
	hits := 0
	for _, phrase := range genericPhrases {
		if strings.Contains(bodyLC, phrase) {
			hits++
		}
	}
	if hits >= 2 && blockingStatus(statusCode) {
		if vendor == "" {
			vendor = VendorGenericBlock
		}
		if confidence < 0.8 {
			confidence = 0.8
		}
		reasons = append(reasons, "generic verification text + blocking status")
	} else if hits >= 1 && vendor == "" {
		if confidence < 0.5 {
			confidence = 0.5
		}
		reasons = append(reasons, "single verification phrase")
	}

	if vendor == "" {
		return Detection{
			Vendor:     VendorNone,
			Confidence: confidence,
			Reason:     strings.Join(reasons, "; "),
		}
	}
	return Detection{
		Present:    true,
		Vendor:     vendor,
		Confidence: confidence,
		Reason:     strings.Join(reasons, "; "),
	}
}

// Suspected reports a sub-threshold signal worth logging: something
// looked off but not enough to mark the record captcha_detected.
func (d Detection) Suspected() bool {
	return !d.Present && d.Confidence > 0
}

func headerGet(headers map[string]string, key string) string {
	v, _ := lookupHeader(headers, key)
	return v
}

func lookupHeader(headers map[string]string, key string) (string, bool) {
	if headers == nil {
		return "", false
	}
	if v, ok := headers[key]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
