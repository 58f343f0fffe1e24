package stealth

import (
	"math/rand"
	"strings"
)

// DeviceProfile is the coherent identity one browser context presents:
// UA, platform, viewport, locale, timezone, and GPU strings, plus the
// seed that keeps fingerprint noise stable within a session. All fields
// must stay mutually consistent (a macOS UA never reports Win32).
type DeviceProfile struct {
	Name                string  `json:"name"`
	UserAgent           string  `json:"user_agent"`
	Platform            string  `json:"platform"`
	ViewportWidth       int     `json:"viewport_width"`
	ViewportHeight      int     `json:"viewport_height"`
	Locale              string  `json:"locale"`
	Timezone            string  `json:"timezone"`
	WebGLVendor         string  `json:"webgl_vendor"`
	WebGLRenderer       string  `json:"webgl_renderer"`
	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemory        int     `json:"device_memory"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	Seed                int64   `json:"seed"`
}

// Languages returns the Accept-Language style list for the profile.
func (p *DeviceProfile) Languages() []string {
	primary := p.Locale
	short, _, _ := strings.Cut(primary, "-")
	if short == primary {
		return []string{primary}
	}
	return []string{primary, short}
}

// baseProfiles are the desktop identities we rotate through. Renderers
// are real consumer GPUs, never SwiftShader, and match the UA's OS.
var baseProfiles = []DeviceProfile{
	{
		Name:                "desktop_chrome_win10",
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:            "Win32",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		Locale:              "en-US",
		Timezone:            "America/New_York",
		WebGLVendor:         "Google Inc. (NVIDIA)",
		WebGLRenderer:       "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		Latitude:            40.7128,
		Longitude:           -74.0060,
	},
	{
		Name:                "desktop_chrome_mac",
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		ViewportWidth:       1440,
		ViewportHeight:      900,
		Locale:              "en-US",
		Timezone:            "America/Los_Angeles",
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M2, OpenGL 4.1)",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		Latitude:            37.7749,
		Longitude:           -122.4194,
	},
	{
		Name:                "desktop_firefox_win10",
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		Platform:            "Win32",
		ViewportWidth:       1366,
		ViewportHeight:      768,
		Locale:              "en-GB",
		Timezone:            "Europe/Berlin",
		WebGLVendor:         "Google Inc. (Intel)",
		WebGLRenderer:       "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		HardwareConcurrency: 12,
		DeviceMemory:        16,
		Latitude:            52.5200,
		Longitude:           13.4050,
	},
	{
		Name:                "desktop_chrome_linux",
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		Locale:              "en-US",
		Timezone:            "America/Chicago",
		WebGLVendor:         "Google Inc. (AMD)",
		WebGLRenderer:       "ANGLE (AMD, AMD Radeon RX 6600 (radeonsi), OpenGL 4.6)",
		HardwareConcurrency: 16,
		DeviceMemory:        32,
		Latitude:            41.8781,
		Longitude:           -87.6298,
	},
}

// regionHints maps a proxy exit region onto plausible locale/timezone
// pairs so the context's clock agrees with its IP.
var regionHints = map[string]struct {
	locale   string
	timezone string
}{
	"us":   {"en-US", "America/New_York"},
	"gb":   {"en-GB", "Europe/London"},
	"uk":   {"en-GB", "Europe/London"},
	"de":   {"de-DE", "Europe/Berlin"},
	"fr":   {"fr-FR", "Europe/Paris"},
	"eu":   {"en-GB", "Europe/Berlin"},
	"apac": {"en-AU", "Australia/Sydney"},
	"jp":   {"ja-JP", "Asia/Tokyo"},
}

// GenerateProfile picks a base identity, jitters the viewport so two
// sessions are not pixel-identical, and seeds the fingerprint noise.
// A non-empty region overrides locale and timezone to match the exit
// IP's geography.
func GenerateProfile(region string) *DeviceProfile {
	p := baseProfiles[rand.Intn(len(baseProfiles))]

	p.ViewportWidth = maxInt(800, p.ViewportWidth+rand.Intn(81)-40)
	p.ViewportHeight = maxInt(600, p.ViewportHeight+rand.Intn(81)-40)
	p.Latitude += rand.Float64()*0.04 - 0.02
	p.Longitude += rand.Float64()*0.04 - 0.02
	p.Seed = rand.Int63()

	if hint, ok := regionHints[strings.ToLower(region)]; ok {
		p.Locale = hint.locale
		p.Timezone = hint.timezone
	}
	return &p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
