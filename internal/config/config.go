// Package config holds the runtime configuration for a scrape run:
// defaults, env/file loading, range clamping, and validation.
package config

import (
	"path/filepath"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Environment names. CI makes missing inputs fatal instead of warned.
const (
	EnvLocal = "local"
	EnvCI    = "ci"
	EnvColab = "colab"
)

// Config is the root configuration for hydrascrape.
type Config struct {
	Env     string        `mapstructure:"env"     yaml:"env"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	HTTP    HTTPConfig    `mapstructure:"http"    yaml:"http"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Shard   ShardConfig   `mapstructure:"shard"   yaml:"shard"`
	Proxy   ProxyConfig   `mapstructure:"proxy"   yaml:"proxy"`
	Stealth StealthConfig `mapstructure:"stealth" yaml:"stealth"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// HTTPConfig controls the primary HTTP fetch stage.
type HTTPConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxConcurrency int   `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"  yaml:"max_body_bytes"`
	MaxRedirects   int   `mapstructure:"max_redirects"   yaml:"max_redirects"`
	MaxRetries     int   `mapstructure:"max_retries"     yaml:"max_retries"`
}

// BrowserConfig controls the fallback browser stage.
type BrowserConfig struct {
	Headless        bool `mapstructure:"headless"         yaml:"headless"`
	MaxConcurrency  int  `mapstructure:"max_concurrency"  yaml:"max_concurrency"`
	NavTimeoutSecs  int  `mapstructure:"nav_timeout_secs" yaml:"nav_timeout_secs"`
	RecycleContexts int  `mapstructure:"recycle_contexts" yaml:"recycle_contexts"`
	BlockStyles     bool `mapstructure:"block_styles"     yaml:"block_styles"`
}

// ShardConfig controls how the input is split.
type ShardConfig struct {
	Size int `mapstructure:"size" yaml:"size"`
}

// ProxyConfig points at the external proxy credential file.
type ProxyConfig struct {
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
}

// StealthConfig selects the stealth mode and options for browser
// contexts.
type StealthConfig struct {
	Mode           string `mapstructure:"mode"            yaml:"mode"` // minimal, moderate, aggressive
	SessionID      string `mapstructure:"session_id"      yaml:"session_id"`
	NetworkProfile string `mapstructure:"network_profile" yaml:"network_profile"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Env:     EnvLocal,
		DataDir: "data",
		HTTP: HTTPConfig{
			TimeoutSeconds: 10,
			MaxConcurrency: 32,
			MaxBodyBytes:   1 << 20,
			MaxRedirects:   10,
			MaxRetries:     2,
		},
		Browser: BrowserConfig{
			Headless:        true,
			MaxConcurrency:  2,
			NavTimeoutSecs:  30,
			RecycleContexts: 50,
			BlockStyles:     false,
		},
		Shard: ShardConfig{Size: 500},
		Stealth: StealthConfig{
			Mode: "moderate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Timeout returns the per-request HTTP timeout as a duration.
func (c *HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NavTimeout returns the browser navigation timeout as a duration.
func (c *BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSecs) * time.Second
}

// URLsPath is the default input file location under the data dir.
func (c *Config) URLsPath() string {
	return filepath.Join(c.DataDir, "urls.txt")
}

// CheckpointsDir is where shard checkpoints live.
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// SessionsDir is where browser session state lives.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// IsCI reports whether strict (fail-fast) input handling applies.
func (c *Config) IsCI() bool { return c.Env == EnvCI }
