package stealth

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// NetworkProfile caps a browsing context's latency and throughput to a
// named connection class.
type NetworkProfile struct {
	Name       string
	LatencyMS  float64
	DownloadBs float64
	UploadBs   float64
}

// networkProfiles are coarse real-world shapes; coarse on purpose, so
// behavior is varied but plausible rather than randomly weird.
var networkProfiles = map[string]NetworkProfile{
	"slow_3g": {Name: "slow_3g", LatencyMS: 300, DownloadBs: 750 * 1024, UploadBs: 250 * 1024},
	"fast_3g": {Name: "fast_3g", LatencyMS: 150, DownloadBs: 1.6 * 1024 * 1024, UploadBs: 750 * 1024},
	"4g":      {Name: "4g", LatencyMS: 50, DownloadBs: 10 * 1024 * 1024, UploadBs: 3 * 1024 * 1024},
	"wifi":    {Name: "wifi", LatencyMS: 10, DownloadBs: 50 * 1024 * 1024, UploadBs: 20 * 1024 * 1024},
	"dsl":     {Name: "dsl", LatencyMS: 30, DownloadBs: 8 * 1024 * 1024, UploadBs: 1 * 1024 * 1024},
}

// LookupNetworkProfile resolves a profile name.
func LookupNetworkProfile(name string) (NetworkProfile, error) {
	p, ok := networkProfiles[name]
	if !ok {
		return NetworkProfile{}, fmt.Errorf("unknown network profile %q", name)
	}
	return p, nil
}

// Apply installs the conditions on the page via CDP. Chromium-only;
// failure is returned but callers treat it as advisory.
func (p NetworkProfile) Apply(page *rod.Page) error {
	return proto.NetworkEmulateNetworkConditions{
		Offline:            false,
		Latency:            p.LatencyMS,
		DownloadThroughput: p.DownloadBs,
		UploadThroughput:   p.UploadBs,
	}.Call(page)
}
