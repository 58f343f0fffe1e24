// Package stealth makes browser contexts look like real user sessions:
// device profiles, fingerprint-masking init scripts, human-like input
// behavior, network shaping, and persisted session state.
package stealth

// Mode is the stealth intensity. Higher modes enable more expensive
// techniques.
type Mode string

const (
	ModeMinimal    Mode = "minimal"
	ModeModerate   Mode = "moderate"
	ModeAggressive Mode = "aggressive"
)

var modeRank = map[Mode]int{
	ModeMinimal:    0,
	ModeModerate:   1,
	ModeAggressive: 2,
}

// AtLeast reports whether m enables everything mode requires.
func (m Mode) AtLeast(mode Mode) bool {
	return modeRank[m] >= modeRank[mode]
}

// Config selects which stealth layers apply to a browser context.
type Config struct {
	Mode Mode
	// SessionID keys persisted storage state and device profile; empty
	// means a fresh ephemeral session per run.
	SessionID string
	// NetworkProfile names a throughput/latency shape; applied only in
	// aggressive mode. Empty picks none.
	NetworkProfile string
	// Region hints locale/timezone selection, usually from the proxy
	// exit region.
	Region string
	// BlockStyles extends resource blocking to stylesheets.
	BlockStyles bool
}

// DefaultConfig is moderate stealth with no session stickiness.
func DefaultConfig() Config {
	return Config{Mode: ModeModerate}
}

// FingerprintPatches reports whether canvas/WebGL/audio/WebRTC patches
// apply.
func (c Config) FingerprintPatches() bool { return c.Mode.AtLeast(ModeModerate) }

// BehaviorEmulation reports whether human-like input runs after load.
func (c Config) BehaviorEmulation() bool { return c.Mode.AtLeast(ModeModerate) }

// NetworkEmulation reports whether network shaping applies.
func (c Config) NetworkEmulation() bool {
	return c.Mode.AtLeast(ModeAggressive) && c.NetworkProfile != ""
}
